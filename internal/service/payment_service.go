package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"tokenpay/internal/apperr"
	"tokenpay/internal/config"
	"tokenpay/internal/gateway"
	"tokenpay/internal/infrastructure/lock"
	"tokenpay/internal/model"
	"tokenpay/internal/repository"
	"tokenpay/pkg/idgen"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const refundLockTTL = 30 * time.Second

// PaymentGateway 支付网关能力，由 gateway.Client 实现
type PaymentGateway interface {
	CreateOrder(ctx context.Context, req gateway.CreateOrderRequest) (*gateway.CreateOrderResult, error)
	QueryOrder(ctx context.Context, outTradeNo string) (*gateway.RemoteOrder, error)
	Refund(ctx context.Context, outTradeNo string, money decimal.Decimal) error
}

// Package 充值套餐
type Package struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Tokens int64           `json:"tokens"`
	Price  decimal.Decimal `json:"price"`
}

type CreateOrderInput struct {
	UserID      int64
	PackageID   string
	PaymentType string
	ClientIP    string
	ReturnURL   string
}

type CreateOrderOutput struct {
	OrderID     int64           `json:"order_id"`
	OutTradeNo  string          `json:"out_trade_no"`
	TradeNo     string          `json:"trade_no"`
	PayURL      string          `json:"pay_url"`
	QRCode      string          `json:"qr_code"`
	Amount      decimal.Decimal `json:"amount"`
	TokenAmount int64           `json:"token_amount"`
}

type QueryOrderOutput struct {
	Order     *model.PaymentOrder  `json:"order"`
	Remote    *gateway.RemoteOrder `json:"remote,omitempty"`
	Reconcile *ReconcileResult     `json:"reconcile,omitempty"`
}

type PaymentService struct {
	db         *gorm.DB
	gateway    PaymentGateway
	reconciler *ReconcileService
	locker     lock.Locker
	orderRepo  *repository.OrderRepository
	outboxRepo *repository.OutboxRepository
	packages   []Package
	notifyURL  string
	returnURL  string
	eventTopic string
}

func NewPaymentService(db *gorm.DB, gw PaymentGateway, reconciler *ReconcileService, locker lock.Locker, cfg *config.Config) (*PaymentService, error) {
	packages, err := buildPackages(cfg.Payment.Packages)
	if err != nil {
		return nil, err
	}
	return &PaymentService{
		db:         db,
		gateway:    gw,
		reconciler: reconciler,
		locker:     locker,
		orderRepo:  repository.NewOrderRepository(db),
		outboxRepo: repository.NewOutboxRepository(db),
		packages:   packages,
		notifyURL:  cfg.Payment.NotifyURL,
		returnURL:  cfg.Payment.ReturnURL,
		eventTopic: cfg.Kafka.Topic.PaymentEvent,
	}, nil
}

func buildPackages(items []config.PackageConfig) ([]Package, error) {
	if len(items) == 0 {
		items = config.DefaultPackages
	}
	packages := make([]Package, 0, len(items))
	for _, p := range items {
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return nil, fmt.Errorf("套餐 %s 价格无效: %w", p.ID, err)
		}
		if p.Tokens <= 0 || !price.IsPositive() {
			return nil, fmt.Errorf("套餐 %s 配置无效", p.ID)
		}
		packages = append(packages, Package{ID: p.ID, Name: p.Name, Tokens: p.Tokens, Price: price.Round(2)})
	}
	return packages, nil
}

func (s *PaymentService) Packages() []Package {
	out := make([]Package, len(s.packages))
	copy(out, s.packages)
	return out
}

func (s *PaymentService) findPackage(id string) (Package, bool) {
	for _, p := range s.packages {
		if p.ID == id {
			return p, true
		}
	}
	return Package{}, false
}

// CreateOrder 先向网关下单，网关确认后才写入本地 UNPAID 订单
func (s *PaymentService) CreateOrder(ctx context.Context, in CreateOrderInput) (*CreateOrderOutput, error) {
	pkg, ok := s.findPackage(in.PackageID)
	if !ok {
		return nil, apperr.Validation("无效的充值套餐")
	}
	if !model.IsValidPaymentType(in.PaymentType) {
		return nil, apperr.Validation("不支持的支付方式")
	}

	returnURL := in.ReturnURL
	if returnURL == "" {
		returnURL = s.returnURL
	}
	clientIP := in.ClientIP
	if clientIP == "" {
		clientIP = "127.0.0.1"
	}

	outTradeNo := idgen.GenerateOutTradeNo()
	name := fmt.Sprintf("Token充值 - %s", pkg.Name)

	ack, err := s.gateway.CreateOrder(ctx, gateway.CreateOrderRequest{
		PaymentType: in.PaymentType,
		OutTradeNo:  outTradeNo,
		NotifyURL:   s.notifyURL,
		ReturnURL:   returnURL,
		Name:        name,
		Money:       pkg.Price,
		ClientIP:    clientIP,
		Device:      "pc",
		Param:       pkg.ID,
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"order_no": outTradeNo,
			"user_id":  in.UserID,
		}).WithError(err).Warn("[Payment] 网关下单失败")
		return nil, err
	}

	order := &model.PaymentOrder{
		UserID:      in.UserID,
		OutTradeNo:  outTradeNo,
		TradeNo:     ack.TradeNo,
		Name:        name,
		Money:       pkg.Price,
		PaymentType: in.PaymentType,
		Status:      model.OrderStatusUnpaid,
		TokenAmount: pkg.Tokens,
		PackageID:   pkg.ID,
		ClientIP:    clientIP,
		NotifyURL:   s.notifyURL,
		ReturnURL:   returnURL,
		PayURL:      ack.PayURL,
		QRCode:      ack.QRCode,
	}
	if err := s.orderRepo.Create(ctx, nil, order); err != nil {
		return nil, fmt.Errorf("保存订单失败: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"order_no":     outTradeNo,
		"user_id":      in.UserID,
		"package_id":   pkg.ID,
		"money":        pkg.Price.StringFixed(2),
		"token_amount": pkg.Tokens,
	}).Info("[Payment] 创建支付订单")

	return &CreateOrderOutput{
		OrderID:     order.ID,
		OutTradeNo:  outTradeNo,
		TradeNo:     ack.TradeNo,
		PayURL:      ack.PayURL,
		QRCode:      ack.QRCode,
		Amount:      pkg.Price,
		TokenAmount: pkg.Tokens,
	}, nil
}

// QueryOrder 查询用户订单；本地未支付时向网关查单，远端已支付则走对账入账
func (s *PaymentService) QueryOrder(ctx context.Context, userID, orderID int64, outTradeNo string) (*QueryOrderOutput, error) {
	if orderID <= 0 && strings.TrimSpace(outTradeNo) == "" {
		return nil, apperr.Validation("缺少订单ID或订单号")
	}
	order, err := s.orderRepo.GetForUser(ctx, userID, orderID, outTradeNo)
	if err != nil {
		return nil, err
	}

	out := &QueryOrderOutput{Order: order}
	if order.Status != model.OrderStatusUnpaid {
		return out, nil
	}

	remote, err := s.gateway.QueryOrder(ctx, order.OutTradeNo)
	if err != nil {
		return nil, err
	}
	out.Remote = remote
	if !remote.Paid() {
		return out, nil
	}

	if remote.OutTradeNo == "" {
		remote.OutTradeNo = order.OutTradeNo
	}
	result, err := s.reconciler.ReconcileRemote(ctx, remote)
	if err != nil {
		return nil, err
	}
	out.Reconcile = result

	reloaded, err := s.orderRepo.GetByOutTradeNo(ctx, nil, order.OutTradeNo)
	if err != nil {
		return nil, err
	}
	out.Order = reloaded
	return out, nil
}

func (s *PaymentService) ListOrders(ctx context.Context, userID int64, status *int8, page, pageSize int) ([]*model.PaymentOrder, int64, error) {
	return s.orderRepo.ListByUserID(ctx, userID, status, page, pageSize)
}

// Refund 已支付订单退款，已入账的 Token 不回收
//
// 网关调用期间持有订单锁，同一订单的退款串行执行
func (s *PaymentService) Refund(ctx context.Context, userID, orderID int64) (*model.PaymentOrder, error) {
	order, err := s.orderRepo.GetForUser(ctx, userID, orderID, "")
	if err != nil {
		return nil, err
	}
	if order.Status != model.OrderStatusPaid {
		return nil, fmt.Errorf("%w: 当前状态 %s", apperr.ErrInvalidOrderState, model.OrderStatusText(order.Status))
	}

	l, err := s.locker.Obtain(ctx, lock.OrderLockKey(order.OutTradeNo), uuid.NewString(), refundLockTTL)
	if err != nil {
		return nil, fmt.Errorf("系统繁忙，请稍后重试: %w", err)
	}
	defer func() {
		if err := l.Unlock(context.WithoutCancel(ctx)); err != nil {
			logrus.WithError(err).WithField("order_no", order.OutTradeNo).Warn("[Payment] 释放订单锁失败")
		}
	}()

	// 拿到锁后重新读取，防止并发退款
	order, err = s.orderRepo.GetByOutTradeNo(ctx, nil, order.OutTradeNo)
	if err != nil {
		return nil, err
	}
	if order.Status != model.OrderStatusPaid {
		return nil, fmt.Errorf("%w: 当前状态 %s", apperr.ErrInvalidOrderState, model.OrderStatusText(order.Status))
	}

	if err := s.gateway.Refund(ctx, order.OutTradeNo, order.Money); err != nil {
		return nil, err
	}

	txCtx := context.WithoutCancel(ctx)
	refundedAt := time.Now()
	err = s.db.WithContext(txCtx).Transaction(func(tx *gorm.DB) error {
		if err := s.orderRepo.MarkRefunded(txCtx, tx, order.OutTradeNo, refundedAt); err != nil {
			return err
		}
		payload, err := json.Marshal(map[string]interface{}{
			"out_trade_no": order.OutTradeNo,
			"user_id":      order.UserID,
			"money":        order.Money.StringFixed(2),
			"token_amount": order.TokenAmount,
			"refunded_at":  refundedAt.Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
		return s.outboxRepo.Create(txCtx, tx, &model.OutboxEvent{
			EventKey:  order.OutTradeNo,
			EventType: model.EventOrderRefunded,
			Topic:     s.eventTopic,
			Payload:   string(payload),
			Status:    model.OutboxStatusPending,
		})
	})
	if err != nil {
		// 网关已退款但本地状态未更新，需要人工核对
		logrus.WithError(err).WithField("order_no", order.OutTradeNo).Error("[Payment] 网关退款成功，本地状态更新失败")
		if errors.Is(err, apperr.ErrInvalidOrderState) {
			return nil, err
		}
		return nil, fmt.Errorf("更新退款状态失败: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"order_no": order.OutTradeNo,
		"user_id":  order.UserID,
		"money":    order.Money.StringFixed(2),
	}).Info("[Payment] 退款成功")

	return s.orderRepo.GetByOutTradeNo(ctx, nil, order.OutTradeNo)
}
