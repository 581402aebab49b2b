package repository

import (
	"context"

	"tokenpay/internal/model"

	"gorm.io/gorm"
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// Create 流水只追加
func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.TokenTransaction) error {
	return pick(r.db, tx).WithContext(ctx).Create(trans).Error
}

// ListByUserID 按流水顺序倒序分页，txType 为空时不过滤
func (r *TransactionRepository) ListByUserID(ctx context.Context, userID int64, txType string, page, pageSize int) ([]*model.TokenTransaction, int64, error) {
	page, pageSize = normalizePage(page, pageSize)

	var transactions []*model.TokenTransaction
	var total int64

	query := r.db.WithContext(ctx).Model(&model.TokenTransaction{}).Where("user_id = ?", userID)
	if txType != "" {
		query = query.Where("type = ?", txType)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&transactions).Error

	return transactions, total, err
}

// ListAllByUserID 按流水顺序正序返回全部流水，用于对账
func (r *TransactionRepository) ListAllByUserID(ctx context.Context, userID int64) ([]*model.TokenTransaction, error) {
	var transactions []*model.TokenTransaction
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&transactions).Error
	return transactions, err
}

// SumAmountByUserID 流水金额合计，应与 users.token_balance 相等
func (r *TransactionRepository) SumAmountByUserID(ctx context.Context, userID int64) (int64, error) {
	var sum int64
	err := r.db.WithContext(ctx).
		Model(&model.TokenTransaction{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error
	return sum, err
}

// CountByUserAndType 统计用户某类型流水条数
func (r *TransactionRepository) CountByUserAndType(ctx context.Context, userID int64, txType string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.TokenTransaction{}).
		Where("user_id = ? AND type = ?", userID, txType).
		Count(&count).Error
	return count, err
}
