package model

import (
	"time"

	"gorm.io/datatypes"
)

const (
	GenerationTypeImage     = "image"
	GenerationTypeAnimation = "animation"
)

const (
	GenerationStatusPending    = "pending"
	GenerationStatusProcessing = "processing"
	GenerationStatusCompleted  = "completed"
	GenerationStatusFailed     = "failed"
)

// GenerationHistory 生成任务记录
// completed / failed 为终态，终态之后不再变化
type GenerationHistory struct {
	ID             int64             `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         int64             `gorm:"index;not null" json:"user_id"`
	Type           string            `gorm:"type:varchar(16);index;not null" json:"type"`
	Prompt         string            `gorm:"type:text;not null" json:"prompt"`
	Parameters     datatypes.JSONMap `json:"parameters"`
	Status         string            `gorm:"type:varchar(16);index;not null" json:"status"`
	TaskID         string            `gorm:"type:varchar(64);uniqueIndex;not null" json:"task_id"`
	ProviderTaskID string            `gorm:"type:varchar(128)" json:"provider_task_id,omitempty"`
	ResultURL      string            `gorm:"type:text" json:"result_url"`
	ResultURLs     datatypes.JSON    `json:"result_urls"`
	TokenConsumed  int64             `gorm:"not null;default:0" json:"token_consumed"`
	ErrorMessage   string            `gorm:"type:text" json:"error_message,omitempty"`
	Progress       int               `gorm:"not null;default:0" json:"progress"`
	CompletedAt    *time.Time        `json:"completed_at"`
	CreatedAt      time.Time         `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func (GenerationHistory) TableName() string {
	return "generation_history"
}

func (h *GenerationHistory) IsTerminal() bool {
	return h.Status == GenerationStatusCompleted || h.Status == GenerationStatusFailed
}
