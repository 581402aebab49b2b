package model

import (
	"time"
)

const (
	VerificationTypeRegister      = "register"
	VerificationTypeLogin         = "login"
	VerificationTypeResetPassword = "reset_password"
)

// MaxVerificationAttempts 验证码最多尝试次数
const MaxVerificationAttempts = 3

type EmailVerification struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Email     string    `gorm:"type:varchar(128);index;not null" json:"email"`
	Code      string    `gorm:"type:varchar(6);not null" json:"-"`
	Type      string    `gorm:"type:varchar(32);not null" json:"type"`
	ExpiresAt time.Time `gorm:"not null" json:"expires_at"`
	Used      bool      `gorm:"not null;default:false" json:"used"`
	Attempts  int       `gorm:"not null;default:0" json:"attempts"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}

func (EmailVerification) TableName() string {
	return "email_verifications"
}

// IsValid 未使用、未过期且尝试次数未超限
func (v *EmailVerification) IsValid(now time.Time) bool {
	return !v.Used && now.Before(v.ExpiresAt) && v.Attempts < MaxVerificationAttempts
}

func IsValidVerificationType(t string) bool {
	switch t {
	case VerificationTypeRegister, VerificationTypeLogin, VerificationTypeResetPassword:
		return true
	}
	return false
}
