package repository

import (
	"context"
	"errors"
	"time"

	"tokenpay/internal/model"

	"gorm.io/gorm"
)

type VerificationRepository struct {
	db *gorm.DB
}

func NewVerificationRepository(db *gorm.DB) *VerificationRepository {
	return &VerificationRepository{db: db}
}

func (r *VerificationRepository) Create(ctx context.Context, v *model.EmailVerification) error {
	return r.db.WithContext(ctx).Create(v).Error
}

// GetLatest 最近一条验证码，不存在时返回 nil
func (r *VerificationRepository) GetLatest(ctx context.Context, email, verificationType string) (*model.EmailVerification, error) {
	var v model.EmailVerification
	err := r.db.WithContext(ctx).
		Where("email = ? AND type = ?", email, verificationType).
		Order("id DESC").
		First(&v).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}

func (r *VerificationRepository) IncrementAttempts(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).
		Model(&model.EmailVerification{}).
		Where("id = ?", id).
		UpdateColumn("attempts", gorm.Expr("attempts + 1")).Error
}

// MarkUsed 条件更新，同一验证码只能被使用一次
func (r *VerificationRepository) MarkUsed(ctx context.Context, tx *gorm.DB, id int64) (bool, error) {
	result := pick(r.db, tx).WithContext(ctx).
		Model(&model.EmailVerification{}).
		Where("id = ? AND used = ?", id, false).
		Update("used", true)
	return result.RowsAffected == 1, result.Error
}

func (r *VerificationRepository) CountSince(ctx context.Context, email string, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.EmailVerification{}).
		Where("email = ? AND created_at >= ?", email, since).
		Count(&count).Error
	return count, err
}
