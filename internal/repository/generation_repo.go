package repository

import (
	"context"
	"errors"
	"time"

	"tokenpay/internal/apperr"
	"tokenpay/internal/model"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var activeGenerationStatuses = []string{model.GenerationStatusPending, model.GenerationStatusProcessing}

type GenerationRepository struct {
	db *gorm.DB
}

func NewGenerationRepository(db *gorm.DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

// HistoryQuery 历史记录查询条件，空值表示不过滤
type HistoryQuery struct {
	UserID   int64
	Type     string
	Status   string
	From     *time.Time
	To       *time.Time
	Page     int
	PageSize int
}

func (r *GenerationRepository) Create(ctx context.Context, tx *gorm.DB, history *model.GenerationHistory) error {
	return pick(r.db, tx).WithContext(ctx).Create(history).Error
}

func (r *GenerationRepository) GetByTaskID(ctx context.Context, tx *gorm.DB, taskID string) (*model.GenerationHistory, error) {
	var history model.GenerationHistory
	err := pick(r.db, tx).WithContext(ctx).Where("task_id = ?", taskID).First(&history).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrTaskNotFound
		}
		return nil, err
	}
	return &history, nil
}

func (r *GenerationRepository) GetByTaskIDForUser(ctx context.Context, userID int64, taskID string) (*model.GenerationHistory, error) {
	var history model.GenerationHistory
	err := r.db.WithContext(ctx).Where("task_id = ? AND user_id = ?", taskID, userID).First(&history).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrTaskNotFound
		}
		return nil, err
	}
	return &history, nil
}

func (r *GenerationRepository) SetTokenConsumed(ctx context.Context, tx *gorm.DB, taskID string, tokens int64) error {
	return pick(r.db, tx).WithContext(ctx).
		Model(&model.GenerationHistory{}).
		Where("task_id = ?", taskID).
		Update("token_consumed", tokens).Error
}

func (r *GenerationRepository) SetProviderTaskID(ctx context.Context, taskID, providerTaskID string) error {
	return r.db.WithContext(ctx).
		Model(&model.GenerationHistory{}).
		Where("task_id = ?", taskID).
		Update("provider_task_id", providerTaskID).Error
}

// UpdateProgress 只允许进度单调递增，且只作用于未结束的任务，返回受影响行数
func (r *GenerationRepository) UpdateProgress(ctx context.Context, taskID string, progress int) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.GenerationHistory{}).
		Where("task_id = ? AND status IN ? AND progress < ?", taskID, activeGenerationStatuses, progress).
		Update("progress", progress)
	return result.RowsAffected, result.Error
}

// MarkCompleted 非终态 -> completed，返回受影响行数
func (r *GenerationRepository) MarkCompleted(ctx context.Context, taskID string, urls []string, at time.Time) (int64, error) {
	resultURL := ""
	if len(urls) > 0 {
		resultURL = urls[0]
	}
	urlsJSON, err := marshalJSON(urls)
	if err != nil {
		return 0, err
	}

	result := r.db.WithContext(ctx).
		Model(&model.GenerationHistory{}).
		Where("task_id = ? AND status IN ?", taskID, activeGenerationStatuses).
		Updates(map[string]interface{}{
			"status":       model.GenerationStatusCompleted,
			"result_url":   resultURL,
			"result_urls":  datatypes.JSON(urlsJSON),
			"progress":     100,
			"completed_at": at,
		})
	return result.RowsAffected, result.Error
}

// MarkFailed 非终态 -> failed，返回受影响行数
func (r *GenerationRepository) MarkFailed(ctx context.Context, taskID, message string, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&model.GenerationHistory{}).
		Where("task_id = ? AND status IN ?", taskID, activeGenerationStatuses).
		Updates(map[string]interface{}{
			"status":        model.GenerationStatusFailed,
			"error_message": message,
			"completed_at":  at,
		})
	return result.RowsAffected, result.Error
}

func (r *GenerationRepository) List(ctx context.Context, q HistoryQuery) ([]*model.GenerationHistory, int64, error) {
	page, pageSize := normalizePage(q.Page, q.PageSize)

	var histories []*model.GenerationHistory
	var total int64

	query := r.filter(ctx, q)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&histories).Error
	return histories, total, err
}

// SumTokensConsumed 满足条件的记录消耗 Token 合计
func (r *GenerationRepository) SumTokensConsumed(ctx context.Context, q HistoryQuery) (int64, error) {
	var sum int64
	err := r.filter(ctx, q).Select("COALESCE(SUM(token_consumed), 0)").Scan(&sum).Error
	return sum, err
}

func (r *GenerationRepository) filter(ctx context.Context, q HistoryQuery) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&model.GenerationHistory{}).Where("user_id = ?", q.UserID)
	if q.Type != "" {
		query = query.Where("type = ?", q.Type)
	}
	if q.Status != "" {
		query = query.Where("status = ?", q.Status)
	}
	if q.From != nil {
		query = query.Where("created_at >= ?", *q.From)
	}
	if q.To != nil {
		query = query.Where("created_at <= ?", *q.To)
	}
	return query
}

// ListUnfinishedWithProvider 已提交到生成服务但尚未结束的任务，服务重启后恢复跟踪
func (r *GenerationRepository) ListUnfinishedWithProvider(ctx context.Context, genType string, limit int) ([]*model.GenerationHistory, error) {
	var histories []*model.GenerationHistory
	err := r.db.WithContext(ctx).
		Where("type = ? AND status IN ? AND provider_task_id <> ''", genType, activeGenerationStatuses).
		Order("id ASC").
		Limit(limit).
		Find(&histories).Error
	return histories, err
}

func (r *GenerationRepository) DeleteForUser(ctx context.Context, userID, id int64) error {
	result := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).Delete(&model.GenerationHistory{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return apperr.ErrTaskNotFound
	}
	return nil
}
