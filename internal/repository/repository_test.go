package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"tokenpay/internal/apperr"
	"tokenpay/internal/config"
	"tokenpay/internal/infrastructure/database"
	"tokenpay/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
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

func createUser(t *testing.T, db *gorm.DB, name string) *model.User {
	t.Helper()
	u := &model.User{Username: name, Email: name + "@example.com", PasswordHash: "x"}
	if err := NewUserRepository(db).Create(context.Background(), nil, u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func TestUserRepositoryUpdateBalanceVersion(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()
	u := createUser(t, db, "alice")

	err := db.Transaction(func(tx *gorm.DB) error {
		locked, err := repo.GetByIDForUpdate(ctx, tx, u.ID)
		if err != nil {
			return err
		}
		return repo.UpdateBalance(ctx, tx, u.ID, 50, locked.Version)
	})
	if err != nil {
		t.Fatalf("UpdateBalance() error = %v", err)
	}

	// 旧版本号写入必须失败
	err = db.Transaction(func(tx *gorm.DB) error {
		return repo.UpdateBalance(ctx, tx, u.ID, 999, 0)
	})
	if !errors.Is(err, ErrOptimisticLock) {
		t.Fatalf("stale version error = %v, want ErrOptimisticLock", err)
	}

	got, err := repo.GetByID(ctx, nil, u.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.TokenBalance != 50 || got.Version != 1 {
		t.Errorf("balance=%d version=%d, want 50/1", got.TokenBalance, got.Version)
	}

	if _, err := repo.GetByID(ctx, nil, 404); !errors.Is(err, apperr.ErrUserNotFound) {
		t.Errorf("GetByID(missing) error = %v", err)
	}
}

func TestUserRepositoryExists(t *testing.T) {
	db := newTestDB(t)
	repo := NewUserRepository(db)
	u := createUser(t, db, "bob")

	nameTaken, emailTaken, err := repo.ExistsByUsernameOrEmail(context.Background(), "bob", "new@example.com", 0)
	if err != nil || !nameTaken || emailTaken {
		t.Errorf("got (%v, %v, %v), want (true, false, nil)", nameTaken, emailTaken, err)
	}
	nameTaken, emailTaken, _ = repo.ExistsByUsernameOrEmail(context.Background(), "bob", "bob@example.com", u.ID)
	if nameTaken || emailTaken {
		t.Error("excluded user should not count as taken")
	}
}

func TestOrderRepositoryConditionalTransitions(t *testing.T) {
	db := newTestDB(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()
	u := createUser(t, db, "carol")

	order := &model.PaymentOrder{
		UserID: u.ID, OutTradeNo: "T1", Name: "500 Tokens", Money: decimal.RequireFromString("9.00"),
		PaymentType: model.PaymentTypeAlipay, TokenAmount: 500,
	}
	if err := repo.Create(ctx, nil, order); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := repo.MarkRefunded(ctx, nil, "T1", time.Now()); !errors.Is(err, apperr.ErrInvalidOrderState) {
		t.Fatalf("refund unpaid error = %v, want ErrInvalidOrderState", err)
	}
	if err := repo.MarkPaid(ctx, nil, "T1", "G1", "buyer@x", time.Now()); err != nil {
		t.Fatalf("MarkPaid() error = %v", err)
	}
	if err := repo.MarkPaid(ctx, nil, "T1", "G2", "", time.Now()); !errors.Is(err, apperr.ErrInvalidOrderState) {
		t.Fatalf("second MarkPaid() error = %v, want ErrInvalidOrderState", err)
	}

	got, err := repo.GetByOutTradeNo(ctx, nil, "T1")
	if err != nil {
		t.Fatalf("GetByOutTradeNo() error = %v", err)
	}
	if got.Status != model.OrderStatusPaid || got.TradeNo != "G1" || got.Buyer != "buyer@x" || got.PaidAt == nil {
		t.Errorf("order after MarkPaid = %+v", got)
	}
	if !got.Money.Equal(decimal.RequireFromString("9")) {
		t.Errorf("money = %s, want 9.00", got.Money)
	}

	if err := repo.MarkRefunded(ctx, nil, "T1", time.Now()); err != nil {
		t.Fatalf("MarkRefunded() error = %v", err)
	}
	if _, err := repo.GetForUser(ctx, u.ID+1, got.ID, ""); !errors.Is(err, apperr.ErrOrderNotFound) {
		t.Errorf("other user's order should be hidden, err = %v", err)
	}
}

func TestOrderRepositoryGetUnpaidOrders(t *testing.T) {
	db := newTestDB(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()
	u := createUser(t, db, "dave")

	for i, no := range []string{"U1", "U2", "P1"} {
		o := &model.PaymentOrder{UserID: u.ID, OutTradeNo: no, Name: "n", Money: decimal.NewFromInt(int64(i + 1)), PaymentType: "alipay", TokenAmount: 1}
		if err := repo.Create(ctx, nil, o); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	if err := repo.MarkPaid(ctx, nil, "P1", "", "", time.Now()); err != nil {
		t.Fatalf("MarkPaid() error = %v", err)
	}

	orders, err := repo.GetUnpaidOrders(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("GetUnpaidOrders() error = %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("got %d unpaid orders, want 2", len(orders))
	}

	status := model.OrderStatusPaid
	paid, total, err := repo.ListByUserID(ctx, u.ID, &status, 1, 10)
	if err != nil || total != 1 || len(paid) != 1 || paid[0].OutTradeNo != "P1" {
		t.Errorf("ListByUserID(paid) = %d/%d, err %v", len(paid), total, err)
	}
}

func TestGenerationRepositoryLifecycle(t *testing.T) {
	db := newTestDB(t)
	repo := NewGenerationRepository(db)
	ctx := context.Background()
	u := createUser(t, db, "erin")

	h := &model.GenerationHistory{UserID: u.ID, Type: model.GenerationTypeAnimation, Prompt: "cat", Status: model.GenerationStatusProcessing, TaskID: "task-1"}
	if err := repo.Create(ctx, nil, h); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if n, _ := repo.UpdateProgress(ctx, "task-1", 40); n != 1 {
		t.Errorf("progress 40 affected %d rows, want 1", n)
	}
	if n, _ := repo.UpdateProgress(ctx, "task-1", 20); n != 0 {
		t.Errorf("progress regression affected %d rows, want 0", n)
	}
	if n, _ := repo.MarkCompleted(ctx, "task-1", []string{"https://a/1.mp4"}, time.Now()); n != 1 {
		t.Errorf("MarkCompleted affected %d rows, want 1", n)
	}
	if n, _ := repo.MarkFailed(ctx, "task-1", "late failure", time.Now()); n != 0 {
		t.Errorf("MarkFailed after completion affected %d rows, want 0", n)
	}
	if n, _ := repo.UpdateProgress(ctx, "task-1", 100); n != 0 {
		t.Errorf("progress on terminal task affected %d rows, want 0", n)
	}

	got, err := repo.GetByTaskID(ctx, nil, "task-1")
	if err != nil {
		t.Fatalf("GetByTaskID() error = %v", err)
	}
	if got.Status != model.GenerationStatusCompleted || got.Progress != 100 || got.ResultURL != "https://a/1.mp4" {
		t.Errorf("history = %+v", got)
	}

	if err := repo.DeleteForUser(ctx, u.ID+1, got.ID); !errors.Is(err, apperr.ErrTaskNotFound) {
		t.Errorf("DeleteForUser(other) error = %v", err)
	}
	if err := repo.DeleteForUser(ctx, u.ID, got.ID); err != nil {
		t.Errorf("DeleteForUser() error = %v", err)
	}
}

func TestVerificationRepositoryMarkUsedOnce(t *testing.T) {
	db := newTestDB(t)
	repo := NewVerificationRepository(db)
	ctx := context.Background()

	v := &model.EmailVerification{Email: "a@example.com", Code: "123456", Type: model.VerificationTypeRegister, ExpiresAt: time.Now().Add(time.Minute)}
	if err := repo.Create(ctx, v); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	latest, err := repo.GetLatest(ctx, "a@example.com", model.VerificationTypeRegister)
	if err != nil || latest == nil || latest.ID != v.ID {
		t.Fatalf("GetLatest() = %v, %v", latest, err)
	}
	if ok, err := repo.MarkUsed(ctx, nil, v.ID); !ok || err != nil {
		t.Fatalf("first MarkUsed() = %v, %v", ok, err)
	}
	if ok, _ := repo.MarkUsed(ctx, nil, v.ID); ok {
		t.Fatal("second MarkUsed() should not succeed")
	}
	if none, _ := repo.GetLatest(ctx, "a@example.com", model.VerificationTypeLogin); none != nil {
		t.Error("GetLatest() for another type should be nil")
	}
}
