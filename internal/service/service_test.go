package service

import (
	"context"
	"testing"
	"time"

	"tokenpay/internal/config"
	"tokenpay/internal/gateway"
	"tokenpay/internal/infrastructure/database"
	"tokenpay/internal/model"
	"tokenpay/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	testGatewayPID = "1001"
	testGatewayKey = "KEY123"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.Open(&config.DatabaseConfig{Type: database.TypeSQLite, Path: ":memory:", LogLevel: "silent"})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func newTestConfig() *config.Config {
	return &config.Config{
		Kafka: config.KafkaConfig{Topic: config.KafkaTopicConfig{PaymentEvent: "payment_event"}},
		Payment: config.PaymentConfig{
			NotifyURL: "https://example.com/api/payment/notify",
			ReturnURL: "https://example.com/pay/return",
			Packages:  config.DefaultPackages,
		},
		Token: config.TokenConfig{
			RegisterBonus: 100,
			Costs: map[string]int64{
				model.TransactionTypeImageGeneration: 10,
				model.TransactionTypeVideoGeneration: 50,
			},
		},
		Ark: config.ArkConfig{
			ImageSize:    "512x512",
			VideoModel:   "seedance-test",
			Watermark:    true,
			PollInterval: 5 * time.Millisecond,
			PollTimeout:  2 * time.Second,
		},
		Business: config.BusinessConfig{EmailCodeExpireMinutes: 10},
	}
}

func createUser(t *testing.T, db *gorm.DB, name string) *model.User {
	t.Helper()
	u := &model.User{Username: name, Email: name + "@example.com", PasswordHash: "x", IsActive: true}
	if err := repository.NewUserRepository(db).Create(context.Background(), nil, u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func fund(t *testing.T, tokens *TokenService, userID, amount int64) {
	t.Helper()
	if _, err := tokens.Credit(context.Background(), Mutation{
		UserID:      userID,
		Type:        model.TransactionTypeRecharge,
		Amount:      amount,
		Description: "test funding",
	}); err != nil {
		t.Fatalf("fund user: %v", err)
	}
}

// assertLedger 余额等于流水合计，且流水按顺序首尾相接
func assertLedger(t *testing.T, db *gorm.DB, userID, wantBalance int64) {
	t.Helper()
	ctx := context.Background()

	user, err := repository.NewUserRepository(db).GetByID(ctx, nil, userID)
	if err != nil {
		t.Fatalf("load user: %v", err)
	}
	if user.TokenBalance != wantBalance {
		t.Errorf("balance = %d, want %d", user.TokenBalance, wantBalance)
	}

	transactions, err := repository.NewTransactionRepository(db).ListAllByUserID(ctx, userID)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	var running int64
	for i, tr := range transactions {
		if tr.BalanceBefore != running {
			t.Errorf("transaction %d balance_before = %d, want %d", i, tr.BalanceBefore, running)
		}
		if tr.BalanceAfter != tr.BalanceBefore+tr.Amount {
			t.Errorf("transaction %d balance_after = %d, want %d", i, tr.BalanceAfter, tr.BalanceBefore+tr.Amount)
		}
		if tr.BalanceAfter < 0 {
			t.Errorf("transaction %d balance_after negative", i)
		}
		running = tr.BalanceAfter
	}
	if running != user.TokenBalance {
		t.Errorf("ledger sum = %d, balance = %d", running, user.TokenBalance)
	}
}

func createUnpaidOrder(t *testing.T, db *gorm.DB, userID int64, outTradeNo, money string, tokens int64) *model.PaymentOrder {
	t.Helper()
	order := &model.PaymentOrder{
		UserID:      userID,
		OutTradeNo:  outTradeNo,
		Name:        "Token充值",
		Money:       decimal.RequireFromString(money),
		PaymentType: model.PaymentTypeAlipay,
		Status:      model.OrderStatusUnpaid,
		TokenAmount: tokens,
		PackageID:   "package_500",
	}
	if err := repository.NewOrderRepository(db).Create(context.Background(), nil, order); err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

func signedNotify(outTradeNo, money, status string) map[string]string {
	params := map[string]string{
		"pid":          testGatewayPID,
		"trade_no":     "G-" + outTradeNo,
		"out_trade_no": outTradeNo,
		"type":         model.PaymentTypeAlipay,
		"name":         "Token充值",
		"money":        money,
		"trade_status": status,
		"buyer":        "buyer@example.com",
		"sign_type":    "MD5",
	}
	params["sign"] = gateway.Sign(params, testGatewayKey)
	return params
}

func listEvents(t *testing.T, db *gorm.DB, eventKey string) []*model.OutboxEvent {
	t.Helper()
	var events []*model.OutboxEvent
	if err := db.Where("event_key = ?", eventKey).Order("id ASC").Find(&events).Error; err != nil {
		t.Fatalf("list outbox events: %v", err)
	}
	return events
}

func countTransactions(t *testing.T, db *gorm.DB, userID int64, txType string) int64 {
	t.Helper()
	n, err := repository.NewTransactionRepository(db).CountByUserAndType(context.Background(), userID, txType)
	if err != nil {
		t.Fatalf("count transactions: %v", err)
	}
	return n
}

func loadOrder(t *testing.T, db *gorm.DB, outTradeNo string) *model.PaymentOrder {
	t.Helper()
	order, err := repository.NewOrderRepository(db).GetByOutTradeNo(context.Background(), nil, outTradeNo)
	if err != nil {
		t.Fatalf("load order: %v", err)
	}
	return order
}
