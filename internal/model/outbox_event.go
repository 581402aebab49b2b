package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

const (
	EventOrderPaid     = "ORDER_PAID"
	EventOrderRefunded = "ORDER_REFUNDED"
)

// OutboxEvent 本地消息表，与业务变更写在同一事务中，由 OutboxSender 投递到 Kafka
type OutboxEvent struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	EventKey   string    `gorm:"type:varchar(64);index;not null" json:"event_key"`
	EventType  string    `gorm:"type:varchar(32);not null" json:"event_type"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxEvent) TableName() string {
	return "outbox_events"
}
