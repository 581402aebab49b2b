package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	netmail "net/mail"
	"strings"
	"time"

	"tokenpay/internal/apperr"
	"tokenpay/internal/auth"
	"tokenpay/internal/config"
	"tokenpay/internal/infrastructure/mail"
	"tokenpay/internal/model"
	"tokenpay/internal/repository"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// 同一邮箱两次发送验证码的最小间隔
const sendCodeInterval = time.Minute

var verificationTypeText = map[string]string{
	model.VerificationTypeRegister:      "注册",
	model.VerificationTypeLogin:         "登录",
	model.VerificationTypeResetPassword: "重置密码",
}

type RegisterInput struct {
	Username string
	Email    string
	Password string
	Code     string
}

type LoginInput struct {
	Email    string
	Password string
}

type ProfileInput struct {
	Username *string
	Avatar   *string
}

type AuthResult struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	User      *model.User `json:"user"`
	Bonus     int64       `json:"bonus,omitempty"`
}

type UserPage struct {
	Users    []*model.User `json:"users"`
	Total    int64         `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
}

type AuthService struct {
	db               *gorm.DB
	userRepo         *repository.UserRepository
	verificationRepo *repository.VerificationRepository
	tokenService     *TokenService
	jwt              *auth.Manager
	mailer           mail.Mailer
	registerBonus    int64
	requireCode      bool
	codeTTL          time.Duration
}

func NewAuthService(db *gorm.DB, tokenService *TokenService, jwtManager *auth.Manager, mailer mail.Mailer, cfg *config.Config) *AuthService {
	codeTTL := time.Duration(cfg.Business.EmailCodeExpireMinutes) * time.Minute
	if codeTTL <= 0 {
		codeTTL = 10 * time.Minute
	}
	return &AuthService{
		db:               db,
		userRepo:         repository.NewUserRepository(db),
		verificationRepo: repository.NewVerificationRepository(db),
		tokenService:     tokenService,
		jwt:              jwtManager,
		mailer:           mailer,
		registerBonus:    cfg.Token.RegisterBonus,
		requireCode:      cfg.Business.RequireEmailCode,
		codeTTL:          codeTTL,
	}
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := netmail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperr.Validation("邮箱格式不正确")
	}
	return email, nil
}

// SendCode 生成 6 位验证码并发送邮件
func (s *AuthService) SendCode(ctx context.Context, email, verificationType string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	if !model.IsValidVerificationType(verificationType) {
		return apperr.Validation("无效的验证类型")
	}

	recent, err := s.verificationRepo.CountSince(ctx, email, time.Now().Add(-sendCodeInterval))
	if err != nil {
		return err
	}
	if recent > 0 {
		return apperr.Validation("验证码发送过于频繁，请稍后再试")
	}

	if verificationType == model.VerificationTypeRegister {
		_, emailTaken, err := s.userRepo.ExistsByUsernameOrEmail(ctx, "", email, 0)
		if err != nil {
			return err
		}
		if emailTaken {
			return apperr.Validation("该邮箱已注册")
		}
	}

	code, err := generateCode()
	if err != nil {
		return err
	}
	if err := s.verificationRepo.Create(ctx, &model.EmailVerification{
		Email:     email,
		Code:      code,
		Type:      verificationType,
		ExpiresAt: time.Now().Add(s.codeTTL),
	}); err != nil {
		return err
	}

	typeText := verificationTypeText[verificationType]
	subject := fmt.Sprintf("TokenPay - %s验证码", typeText)
	body := fmt.Sprintf("您的%s验证码是 %s，请在 %d 分钟内使用。如果不是您本人操作，请忽略这封邮件。",
		typeText, code, int(s.codeTTL.Minutes()))
	if err := s.mailer.Send(ctx, email, subject, body); err != nil {
		return fmt.Errorf("邮件发送失败: %w", err)
	}
	return nil
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// checkCode 校验失败时累加尝试次数
func (s *AuthService) checkCode(ctx context.Context, email, verificationType, code string) (*model.EmailVerification, error) {
	v, err := s.verificationRepo.GetLatest(ctx, email, verificationType)
	if err != nil {
		return nil, err
	}
	if v == nil || !v.IsValid(time.Now()) {
		return nil, apperr.Validation("验证码无效或已过期")
	}
	if v.Code != strings.TrimSpace(code) {
		if err := s.verificationRepo.IncrementAttempts(ctx, v.ID); err != nil {
			return nil, err
		}
		return nil, apperr.Validation("验证码错误")
	}
	return v, nil
}

// Register 创建用户并在同一事务中发放注册奖励
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" || in.Email == "" || in.Password == "" {
		return nil, apperr.Validation("用户名、邮箱和密码都是必填项")
	}
	if n := len([]rune(username)); n < 3 || n > 50 {
		return nil, apperr.Validation("用户名长度必须在3-50之间")
	}
	if len(in.Password) < 6 {
		return nil, apperr.Validation("密码长度至少为6位")
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}

	usernameTaken, emailTaken, err := s.userRepo.ExistsByUsernameOrEmail(ctx, username, email, 0)
	if err != nil {
		return nil, err
	}
	if usernameTaken || emailTaken {
		return nil, apperr.Validation("用户名或邮箱已存在")
	}

	var verification *model.EmailVerification
	if s.requireCode || in.Code != "" {
		verification, err = s.checkCode(ctx, email, model.VerificationTypeRegister, in.Code)
		if err != nil {
			return nil, err
		}
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
	}
	txCtx := context.WithoutCancel(ctx)
	err = s.db.WithContext(txCtx).Transaction(func(tx *gorm.DB) error {
		if err := s.userRepo.Create(txCtx, tx, user); err != nil {
			return err
		}
		if verification != nil {
			ok, err := s.verificationRepo.MarkUsed(txCtx, tx, verification.ID)
			if err != nil {
				return err
			}
			if !ok {
				return apperr.Validation("验证码已被使用")
			}
		}
		if s.registerBonus > 0 {
			if _, err := s.tokenService.CreditTx(txCtx, tx, Mutation{
				UserID:      user.ID,
				Type:        model.TransactionTypeRegisterBonus,
				Amount:      s.registerBonus,
				Description: "注册奖励",
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	user, err = s.userRepo.GetByID(ctx, nil, user.ID)
	if err != nil {
		return nil, err
	}
	token, expiresAt, err := s.jwt.GenerateToken(user.ID, user.Username)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{"user_id": user.ID, "bonus": s.registerBonus}).Info("[Auth] 用户注册")
	return &AuthResult{Token: token, ExpiresAt: expiresAt, User: user, Bonus: s.registerBonus}, nil
}

func (s *AuthService) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	if strings.TrimSpace(in.Email) == "" || in.Password == "" {
		return nil, apperr.Validation("邮箱和密码都是必填项")
	}
	invalid := fmt.Errorf("%w: 邮箱或密码错误", apperr.ErrUnauthorized)

	user, err := s.userRepo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(in.Email)))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, invalid
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, fmt.Errorf("%w: 账户已被禁用", apperr.ErrUnauthorized)
	}
	if err := auth.VerifyPassword(user.PasswordHash, in.Password); err != nil {
		return nil, invalid
	}

	now := time.Now()
	if err := s.userRepo.UpdateLastLogin(ctx, user.ID, now); err != nil {
		logrus.WithError(err).WithField("user_id", user.ID).Warn("[Auth] 更新登录时间失败")
	}
	user.LastLoginAt = &now

	token, expiresAt, err := s.jwt.GenerateToken(user.ID, user.Username)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: token, ExpiresAt: expiresAt, User: user}, nil
}

// ActiveUser 令牌对应的用户必须存在且未被禁用
func (s *AuthService) ActiveUser(ctx context.Context, userID int64) (*model.User, error) {
	user, err := s.userRepo.GetByID(ctx, nil, userID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, fmt.Errorf("%w: 用户不存在", apperr.ErrUnauthorized)
		}
		return nil, err
	}
	if !user.IsActive {
		return nil, fmt.Errorf("%w: 账户已被禁用", apperr.ErrUnauthorized)
	}
	return user, nil
}

func (s *AuthService) Profile(ctx context.Context, userID int64) (*model.User, error) {
	return s.userRepo.GetByID(ctx, nil, userID)
}

func (s *AuthService) UpdateProfile(ctx context.Context, userID int64, in ProfileInput) (*model.User, error) {
	updates := map[string]interface{}{}
	if in.Username != nil {
		username := strings.TrimSpace(*in.Username)
		if n := len([]rune(username)); n < 3 || n > 50 {
			return nil, apperr.Validation("用户名长度必须在3-50之间")
		}
		taken, _, err := s.userRepo.ExistsByUsernameOrEmail(ctx, username, "", userID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, apperr.Validation("用户名已存在")
		}
		updates["username"] = username
	}
	if in.Avatar != nil {
		updates["avatar"] = strings.TrimSpace(*in.Avatar)
	}
	if len(updates) > 0 {
		if err := s.userRepo.UpdateProfile(ctx, userID, updates); err != nil {
			return nil, err
		}
	}
	return s.userRepo.GetByID(ctx, nil, userID)
}

// ListUsers 管理后台用户列表
func (s *AuthService) ListUsers(ctx context.Context, page, pageSize int) (*UserPage, error) {
	users, total, err := s.userRepo.List(ctx, page, pageSize)
	if err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return &UserPage{Users: users, Total: total, Page: page, PageSize: pageSize}, nil
}
