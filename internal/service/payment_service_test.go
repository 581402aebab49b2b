package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"tokenpay/internal/apperr"
	"tokenpay/internal/gateway"
	"tokenpay/internal/infrastructure/lock"
	"tokenpay/internal/model"
	"tokenpay/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type fakeGateway struct {
	mu          sync.Mutex
	createErr   error
	refundErr   error
	remote      map[string]*gateway.RemoteOrder
	created     []gateway.CreateOrderRequest
	queries     int
	refundCalls int
}

func (g *fakeGateway) CreateOrder(ctx context.Context, req gateway.CreateOrderRequest) (*gateway.CreateOrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.created = append(g.created, req)
	return &gateway.CreateOrderResult{TradeNo: "Z-" + req.OutTradeNo, PayURL: "https://pay/" + req.OutTradeNo, QRCode: "https://qr/x"}, nil
}

func (g *fakeGateway) QueryOrder(ctx context.Context, outTradeNo string) (*gateway.RemoteOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queries++
	if r, ok := g.remote[outTradeNo]; ok {
		copied := *r
		return &copied, nil
	}
	return &gateway.RemoteOrder{OutTradeNo: outTradeNo, Status: 0}, nil
}

func (g *fakeGateway) Refund(ctx context.Context, outTradeNo string, money decimal.Decimal) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refundCalls++
	return g.refundErr
}

func newTestPaymentService(t *testing.T, db *gorm.DB, gw *fakeGateway) *PaymentService {
	t.Helper()
	tokens := NewTokenService(db, nil)
	reconciler := NewReconcileService(db, testGatewayPID, testGatewayKey, "payment_event", tokens)
	svc, err := NewPaymentService(db, gw, reconciler, lock.NewLocalLocker(), newTestConfig())
	if err != nil {
		t.Fatalf("NewPaymentService() error = %v", err)
	}
	return svc
}

func TestCreateOrderPersistsAfterGatewayAck(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{}
	svc := newTestPaymentService(t, db, gw)
	u := createUser(t, db, "alice")

	out, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID:      u.ID,
		PackageID:   "package_500",
		PaymentType: model.PaymentTypeWxpay,
		ClientIP:    "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("CreateOrder() error = %v", err)
	}
	if out.TokenAmount != 500 || !out.Amount.Equal(decimal.RequireFromString("9")) || out.TradeNo != "Z-"+out.OutTradeNo {
		t.Errorf("output = %+v", out)
	}

	order := loadOrder(t, db, out.OutTradeNo)
	if order.Status != model.OrderStatusUnpaid || order.TokenAmount != 500 || order.PackageID != "package_500" || order.UserID != u.ID {
		t.Errorf("order = %+v", order)
	}
	if order.ReturnURL != "https://example.com/pay/return" {
		t.Errorf("return url = %q", order.ReturnURL)
	}

	if len(gw.created) != 1 {
		t.Fatalf("gateway create calls = %d", len(gw.created))
	}
	req := gw.created[0]
	if req.Param != "package_500" || req.NotifyURL != "https://example.com/api/payment/notify" || req.ClientIP != "10.0.0.1" {
		t.Errorf("gateway request = %+v", req)
	}
}

func TestCreateOrderFailuresLeaveNoRow(t *testing.T) {
	tests := []struct {
		name    string
		in      CreateOrderInput
		gwErr   error
		wantErr error
	}{
		{"unknown package", CreateOrderInput{PackageID: "package_x", PaymentType: "alipay"}, nil, apperr.ErrValidation},
		{"unknown payment type", CreateOrderInput{PackageID: "package_100", PaymentType: "paypal"}, nil, apperr.ErrValidation},
		{"gateway rejects", CreateOrderInput{PackageID: "package_100", PaymentType: "alipay"}, apperr.ErrGatewayRequestFailed, apperr.ErrGatewayRequestFailed},
		{"gateway not configured", CreateOrderInput{PackageID: "package_100", PaymentType: "alipay"}, apperr.ErrGatewayConfigIncomplete, apperr.ErrGatewayConfigIncomplete},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newTestDB(t)
			svc := newTestPaymentService(t, db, &fakeGateway{createErr: tt.gwErr})
			u := createUser(t, db, "bob")
			tt.in.UserID = u.ID

			if _, err := svc.CreateOrder(context.Background(), tt.in); !errors.Is(err, tt.wantErr) {
				t.Fatalf("CreateOrder() error = %v, want %v", err, tt.wantErr)
			}
			_, total, err := repository.NewOrderRepository(db).ListByUserID(context.Background(), u.ID, nil, 1, 10)
			if err != nil {
				t.Fatal(err)
			}
			if total != 0 {
				t.Errorf("orders = %d, want 0", total)
			}
		})
	}
}

func TestQueryOrderReconcilesPaidRemote(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{remote: map[string]*gateway.RemoteOrder{}}
	svc := newTestPaymentService(t, db, gw)
	ctx := context.Background()
	u := createUser(t, db, "carol")
	order := createUnpaidOrder(t, db, u.ID, "Q1", "9.00", 500)

	out, err := svc.QueryOrder(ctx, u.ID, order.ID, "")
	if err != nil {
		t.Fatalf("QueryOrder() error = %v", err)
	}
	if out.Order.Status != model.OrderStatusUnpaid || out.Reconcile != nil {
		t.Errorf("unpaid query = %+v", out)
	}

	gw.remote["Q1"] = &gateway.RemoteOrder{OutTradeNo: "Q1", TradeNo: "G-Q1", Money: "9.00", Status: gateway.RemoteStatusPaid}
	out, err = svc.QueryOrder(ctx, u.ID, 0, "Q1")
	if err != nil {
		t.Fatalf("QueryOrder() error = %v", err)
	}
	if out.Order.Status != model.OrderStatusPaid || out.Reconcile == nil || out.Reconcile.NewBalance != 500 {
		t.Errorf("paid query = %+v", out)
	}

	queries := gw.queries
	if _, err := svc.QueryOrder(ctx, u.ID, order.ID, ""); err != nil {
		t.Fatal(err)
	}
	if gw.queries != queries {
		t.Errorf("paid order queried gateway again")
	}
	assertLedger(t, db, u.ID, 500)

	other := createUser(t, db, "mallory")
	if _, err := svc.QueryOrder(ctx, other.ID, order.ID, ""); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("QueryOrder() by other user error = %v", err)
	}
}

func TestRefund(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{}
	svc := newTestPaymentService(t, db, gw)
	ctx := context.Background()
	u := createUser(t, db, "dave")
	order := createUnpaidOrder(t, db, u.ID, "R1", "9.00", 500)

	if _, err := svc.Refund(ctx, u.ID, order.ID); !errors.Is(err, apperr.ErrInvalidOrderState) {
		t.Fatalf("Refund(unpaid) error = %v", err)
	}

	reconciler, _ := newTestReconciler(db)
	if _, err := reconciler.HandleNotification(ctx, signedNotify("R1", "9.00", gateway.TradeStatusSuccess)); err != nil {
		t.Fatal(err)
	}

	gw.refundErr = apperr.ErrGatewayRequestFailed
	if _, err := svc.Refund(ctx, u.ID, order.ID); !errors.Is(err, apperr.ErrGatewayRequestFailed) {
		t.Fatalf("Refund() with gateway failure error = %v", err)
	}
	if got := loadOrder(t, db, "R1"); got.Status != model.OrderStatusPaid {
		t.Fatalf("order status after failed refund = %s", model.OrderStatusText(got.Status))
	}

	gw.refundErr = nil
	refunded, err := svc.Refund(ctx, u.ID, order.ID)
	if err != nil {
		t.Fatalf("Refund() error = %v", err)
	}
	if refunded.Status != model.OrderStatusRefunded || refunded.RefundedAt == nil {
		t.Errorf("refunded order = %+v", refunded)
	}

	if _, err := svc.Refund(ctx, u.ID, order.ID); !errors.Is(err, apperr.ErrInvalidOrderState) {
		t.Errorf("second Refund() error = %v", err)
	}

	// 已入账 Token 不回收
	assertLedger(t, db, u.ID, 500)

	events := listEvents(t, db, "R1")
	if len(events) != 2 || events[1].EventType != model.EventOrderRefunded {
		t.Errorf("outbox events = %+v", events)
	}
}

func TestConcurrentRefundCallsGatewayOnce(t *testing.T) {
	db := newTestDB(t)
	gw := &fakeGateway{}
	svc := newTestPaymentService(t, db, gw)
	ctx := context.Background()
	u := createUser(t, db, "erin")
	order := createUnpaidOrder(t, db, u.ID, "R2", "2.00", 100)

	reconciler, _ := newTestReconciler(db)
	if _, err := reconciler.HandleNotification(ctx, signedNotify("R2", "2.00", gateway.TradeStatusSuccess)); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Refund(ctx, u.ID, order.ID)
		}()
	}
	wg.Wait()

	if gw.refundCalls != 1 {
		t.Errorf("gateway refund calls = %d, want 1", gw.refundCalls)
	}
}

func TestPackages(t *testing.T) {
	db := newTestDB(t)
	svc := newTestPaymentService(t, db, &fakeGateway{})

	packages := svc.Packages()
	if len(packages) != 5 {
		t.Fatalf("packages = %d, want 5", len(packages))
	}
	if packages[0].Tokens != 100 || packages[0].Price.StringFixed(2) != "2.00" {
		t.Errorf("first package = %+v", packages[0])
	}
}
