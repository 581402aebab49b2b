package service

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"tokenpay/internal/apperr"
	"tokenpay/internal/auth"
	"tokenpay/internal/model"

	"gorm.io/gorm"
)

type sentMail struct {
	to, subject, body string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *fakeMailer) Send(ctx context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{to, subject, body})
	return nil
}

var codePattern = regexp.MustCompile(`\d{6}`)

func (m *fakeMailer) lastCode(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("no mail sent")
	}
	code := codePattern.FindString(m.sent[len(m.sent)-1].body)
	if code == "" {
		t.Fatal("no code in mail body")
	}
	return code
}

func newTestAuth(t *testing.T, db *gorm.DB, requireCode bool) (*AuthService, *fakeMailer, *auth.Manager) {
	t.Helper()
	cfg := newTestConfig()
	cfg.Business.RequireEmailCode = requireCode
	jwtManager, err := auth.NewManager("test-secret", "tokenpay", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	mailer := &fakeMailer{}
	return NewAuthService(db, NewTokenService(db, nil), jwtManager, mailer, cfg), mailer, jwtManager
}

func TestRegisterGrantsBonus(t *testing.T) {
	db := newTestDB(t)
	svc, _, jwtManager := newTestAuth(t, db, false)
	ctx := context.Background()

	res, err := svc.Register(ctx, RegisterInput{Username: "alice", Email: "Alice@Example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if res.User.TokenBalance != 100 || res.Bonus != 100 || res.User.Email != "alice@example.com" {
		t.Errorf("result = %+v", res.User)
	}
	claims, err := jwtManager.ParseToken(res.Token)
	if err != nil || claims.UserID != res.User.ID {
		t.Errorf("token claims = %+v, %v", claims, err)
	}
	assertLedger(t, db, res.User.ID, 100)
	if n := countTransactions(t, db, res.User.ID, model.TransactionTypeRegisterBonus); n != 1 {
		t.Errorf("REGISTER_BONUS transactions = %d", n)
	}

	tests := []struct {
		name string
		in   RegisterInput
	}{
		{"duplicate username", RegisterInput{Username: "alice", Email: "other@example.com", Password: "secret1"}},
		{"duplicate email", RegisterInput{Username: "alice2", Email: "alice@example.com", Password: "secret1"}},
		{"short password", RegisterInput{Username: "bob", Email: "bob@example.com", Password: "123"}},
		{"bad email", RegisterInput{Username: "bob", Email: "not-an-email", Password: "secret1"}},
		{"missing fields", RegisterInput{Email: "bob@example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Register(ctx, tt.in); !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("Register() error = %v, want validation", err)
			}
		})
	}
}

func TestLogin(t *testing.T) {
	db := newTestDB(t)
	svc, _, _ := newTestAuth(t, db, false)
	ctx := context.Background()
	if _, err := svc.Register(ctx, RegisterInput{Username: "carol", Email: "carol@example.com", Password: "secret1"}); err != nil {
		t.Fatal(err)
	}

	res, err := svc.Login(ctx, LoginInput{Email: "carol@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if res.Token == "" || res.User.LastLoginAt == nil {
		t.Errorf("login result = %+v", res)
	}

	for _, in := range []LoginInput{
		{Email: "carol@example.com", Password: "wrong"},
		{Email: "nobody@example.com", Password: "secret1"},
	} {
		if _, err := svc.Login(ctx, in); !errors.Is(err, apperr.ErrUnauthorized) {
			t.Errorf("Login(%s) error = %v, want unauthorized", in.Email, err)
		}
	}
}

func TestActiveUser(t *testing.T) {
	db := newTestDB(t)
	svc, _, _ := newTestAuth(t, db, false)
	ctx := context.Background()
	u := createUser(t, db, "iris")

	got, err := svc.ActiveUser(ctx, u.ID)
	if err != nil || got.ID != u.ID {
		t.Fatalf("ActiveUser() = %+v, %v", got, err)
	}

	if err := db.Model(&model.User{}).Where("id = ?", u.ID).Update("is_active", false).Error; err != nil {
		t.Fatal(err)
	}
	for _, id := range []int64{u.ID, u.ID + 999} {
		if _, err := svc.ActiveUser(ctx, id); !errors.Is(err, apperr.ErrUnauthorized) {
			t.Errorf("ActiveUser(%d) error = %v, want unauthorized", id, err)
		}
	}
}

func TestRegisterWithEmailCode(t *testing.T) {
	db := newTestDB(t)
	svc, mailer, _ := newTestAuth(t, db, true)
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterInput{Username: "dave", Email: "dave@example.com", Password: "secret1"}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("Register() without code error = %v", err)
	}

	if err := svc.SendCode(ctx, "dave@example.com", model.VerificationTypeRegister); err != nil {
		t.Fatalf("SendCode() error = %v", err)
	}
	if err := svc.SendCode(ctx, "dave@example.com", model.VerificationTypeRegister); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("second SendCode() error = %v, want rate limit", err)
	}
	code := mailer.lastCode(t)

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	if _, err := svc.Register(ctx, RegisterInput{Username: "dave", Email: "dave@example.com", Password: "secret1", Code: wrong}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("Register() wrong code error = %v", err)
	}

	res, err := svc.Register(ctx, RegisterInput{Username: "dave", Email: "dave@example.com", Password: "secret1", Code: code})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if res.User.TokenBalance != 100 {
		t.Errorf("balance = %d", res.User.TokenBalance)
	}

	if err := svc.SendCode(ctx, "eve@example.com", "unknown"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("SendCode(unknown type) error = %v", err)
	}
}

func TestCodeLocksAfterThreeAttempts(t *testing.T) {
	db := newTestDB(t)
	svc, mailer, _ := newTestAuth(t, db, true)
	ctx := context.Background()

	if err := svc.SendCode(ctx, "frank@example.com", model.VerificationTypeRegister); err != nil {
		t.Fatal(err)
	}
	code := mailer.lastCode(t)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	for i := 0; i < model.MaxVerificationAttempts; i++ {
		_, _ = svc.Register(ctx, RegisterInput{Username: "frank", Email: "frank@example.com", Password: "secret1", Code: wrong})
	}
	if _, err := svc.Register(ctx, RegisterInput{Username: "frank", Email: "frank@example.com", Password: "secret1", Code: code}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("Register() after lockout error = %v", err)
	}
}

func TestUpdateProfile(t *testing.T) {
	db := newTestDB(t)
	svc, _, _ := newTestAuth(t, db, false)
	ctx := context.Background()
	a, err := svc.Register(ctx, RegisterInput{Username: "grace", Email: "grace@example.com", Password: "secret1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Register(ctx, RegisterInput{Username: "henry", Email: "henry@example.com", Password: "secret1"}); err != nil {
		t.Fatal(err)
	}

	taken := "henry"
	if _, err := svc.UpdateProfile(ctx, a.User.ID, ProfileInput{Username: &taken}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("UpdateProfile(taken) error = %v", err)
	}

	name, avatar := "grace2", "https://cdn/avatar.png"
	u, err := svc.UpdateProfile(ctx, a.User.ID, ProfileInput{Username: &name, Avatar: &avatar})
	if err != nil {
		t.Fatalf("UpdateProfile() error = %v", err)
	}
	if u.Username != "grace2" || u.Avatar != avatar {
		t.Errorf("user = %+v", u)
	}

	page, err := svc.ListUsers(ctx, 1, 10)
	if err != nil || page.Total != 2 {
		t.Errorf("ListUsers() = %+v, %v", page, err)
	}
}
