package model

import (
	"time"
)

// User 用户表
// token_balance 是 Token 余额的唯一真实来源，只能由余额变更服务修改
type User struct {
	ID           int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	Email        string     `gorm:"type:varchar(128);uniqueIndex;not null" json:"email"`
	PasswordHash string     `gorm:"type:varchar(255);not null" json:"-"`
	Avatar       string     `gorm:"type:varchar(512)" json:"avatar"`
	TokenBalance int64      `gorm:"not null;default:0" json:"token_balance"` // 当前 Token 余额，不允许为负
	Version      int        `gorm:"not null;default:0" json:"-"`             // 乐观锁版本号，每次余额变更 +1
	IsActive     bool       `gorm:"not null;default:true" json:"is_active"`
	LastLoginAt  *time.Time `json:"last_login_at"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}
