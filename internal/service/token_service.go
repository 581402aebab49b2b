package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tokenpay/internal/apperr"
	"tokenpay/internal/model"
	"tokenpay/internal/repository"
	"tokenpay/pkg/idgen"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// 乐观锁冲突时整体重试次数
const maxBalanceRetries = 3

// Mutation 一次余额变更
type Mutation struct {
	UserID      int64
	Type        string
	Amount      int64 // 必须为正数，方向由 Credit / Debit 决定
	Description string
	Metadata    map[string]interface{}
}

type MutationResult struct {
	NewBalance  int64
	Transaction *model.TokenTransaction
}

// CostCheck 操作费用预检结果
type CostCheck struct {
	Type      string `json:"type"`
	Cost      int64  `json:"cost"`
	Balance   int64  `json:"balance"`
	CanAfford bool   `json:"can_afford"`
}

// TokenService 余额变更的唯一入口
//
// 每次变更在同一事务内完成：锁用户行 -> 校验 -> 带版本号更新余额 -> 写流水
type TokenService struct {
	db              *gorm.DB
	userRepo        *repository.UserRepository
	transactionRepo *repository.TransactionRepository
	costs           map[string]int64
}

func NewTokenService(db *gorm.DB, costs map[string]int64) *TokenService {
	normalized := make(map[string]int64, len(costs))
	for k, v := range costs {
		normalized[strings.ToUpper(k)] = v
	}
	return &TokenService{
		db:              db,
		userRepo:        repository.NewUserRepository(db),
		transactionRepo: repository.NewTransactionRepository(db),
		costs:           normalized,
	}
}

// Credit 入账，独立事务，版本冲突时重试
func (s *TokenService) Credit(ctx context.Context, m Mutation) (*MutationResult, error) {
	return s.withRetry(ctx, m, s.CreditTx)
}

// Debit 扣费，独立事务，版本冲突时重试
func (s *TokenService) Debit(ctx context.Context, m Mutation) (*MutationResult, error) {
	return s.withRetry(ctx, m, s.DebitTx)
}

// CreditTx 在调用方事务中入账
func (s *TokenService) CreditTx(ctx context.Context, tx *gorm.DB, m Mutation) (*MutationResult, error) {
	return s.apply(ctx, tx, m, 1)
}

// DebitTx 在调用方事务中扣费，余额不足时不写入任何数据
func (s *TokenService) DebitTx(ctx context.Context, tx *gorm.DB, m Mutation) (*MutationResult, error) {
	return s.apply(ctx, tx, m, -1)
}

func (s *TokenService) apply(ctx context.Context, tx *gorm.DB, m Mutation, sign int64) (*MutationResult, error) {
	if m.Amount <= 0 {
		return nil, apperr.Validation("变更数量必须大于0")
	}
	if !model.IsValidTransactionType(m.Type) {
		return nil, apperr.Validation("无效的流水类型: %s", m.Type)
	}

	user, err := s.userRepo.GetByIDForUpdate(ctx, tx, m.UserID)
	if err != nil {
		return nil, err
	}

	delta := sign * m.Amount
	newBalance := user.TokenBalance + delta
	if newBalance < 0 {
		return nil, fmt.Errorf("%w: 需要 %d，当前 %d", apperr.ErrInsufficientBalance, m.Amount, user.TokenBalance)
	}

	if err := s.userRepo.UpdateBalance(ctx, tx, user.ID, newBalance, user.Version); err != nil {
		return nil, err
	}

	trans := &model.TokenTransaction{
		TransactionNo: idgen.GenerateTransactionNo(),
		UserID:        user.ID,
		Type:          m.Type,
		Amount:        delta,
		BalanceBefore: user.TokenBalance,
		BalanceAfter:  newBalance,
		Description:   m.Description,
		Metadata:      m.Metadata,
	}
	if err := s.transactionRepo.Create(ctx, tx, trans); err != nil {
		return nil, fmt.Errorf("记录流水失败: %w", err)
	}

	return &MutationResult{NewBalance: newBalance, Transaction: trans}, nil
}

// withRetry 请求已取消时不开启事务；事务开始后不再受客户端断开影响，只会整体提交或回滚
func (s *TokenService) withRetry(ctx context.Context, m Mutation, fn func(context.Context, *gorm.DB, Mutation) (*MutationResult, error)) (*MutationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	txCtx := context.WithoutCancel(ctx)

	var lastErr error
	for attempt := 1; attempt <= maxBalanceRetries; attempt++ {
		var result *MutationResult
		err := s.db.WithContext(txCtx).Transaction(func(tx *gorm.DB) error {
			r, err := fn(txCtx, tx, m)
			if err != nil {
				return err
			}
			result = r
			return nil
		})
		if err == nil {
			return result, nil
		}
		if !errors.Is(err, repository.ErrOptimisticLock) {
			return nil, err
		}
		lastErr = err
		logrus.WithFields(logrus.Fields{
			"user_id": m.UserID,
			"type":    m.Type,
			"attempt": attempt,
		}).Warn("[Token] 余额版本冲突，重试")
	}
	return nil, fmt.Errorf("余额更新失败，请稍后重试: %w", lastErr)
}

func (s *TokenService) GetBalance(ctx context.Context, userID int64) (int64, error) {
	user, err := s.userRepo.GetByID(ctx, nil, userID)
	if err != nil {
		return 0, err
	}
	return user.TokenBalance, nil
}

// ListTransactions 最新的流水在前，txType 为空表示全部类型
func (s *TokenService) ListTransactions(ctx context.Context, userID int64, txType string, page, pageSize int) ([]*model.TokenTransaction, int64, error) {
	if txType != "" && !model.IsValidTransactionType(txType) {
		return nil, 0, apperr.Validation("无效的流水类型: %s", txType)
	}
	return s.transactionRepo.ListByUserID(ctx, userID, txType, page, pageSize)
}

// CostOf 操作类型对应的 Token 消耗，类型不区分大小写
func (s *TokenService) CostOf(operation string) (int64, error) {
	cost, ok := s.costs[strings.ToUpper(strings.TrimSpace(operation))]
	if !ok {
		return 0, apperr.Validation("无效的操作类型")
	}
	return cost, nil
}

func (s *TokenService) CheckCost(ctx context.Context, userID int64, operation string) (*CostCheck, error) {
	cost, err := s.CostOf(operation)
	if err != nil {
		return nil, err
	}
	balance, err := s.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &CostCheck{
		Type:      strings.ToUpper(strings.TrimSpace(operation)),
		Cost:      cost,
		Balance:   balance,
		CanAfford: balance >= cost,
	}, nil
}

// AdminAdjust 管理员调整余额，正数增加，负数扣减
func (s *TokenService) AdminAdjust(ctx context.Context, userID, amount int64, reason string) (*MutationResult, error) {
	if amount == 0 {
		return nil, apperr.Validation("调整数量不能为0")
	}
	description := "管理员调整"
	if reason != "" {
		description = "管理员调整: " + reason
	}

	m := Mutation{
		UserID:      userID,
		Type:        model.TransactionTypeAdminAdjust,
		Description: description,
		Metadata:    map[string]interface{}{"reason": reason},
	}
	var (
		result *MutationResult
		err    error
	)
	if amount > 0 {
		m.Amount = amount
		result, err = s.Credit(ctx, m)
	} else {
		m.Amount = -amount
		result, err = s.Debit(ctx, m)
	}
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"user_id":     userID,
		"amount":      amount,
		"new_balance": result.NewBalance,
	}).Info("[Token] 管理员调整余额")
	return result, nil
}
