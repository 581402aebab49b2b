package model

import (
	"time"

	"gorm.io/datatypes"
)

// ============================================================================
// Token 流水类型
// ============================================================================

const (
	TransactionTypeRegisterBonus   = "REGISTER_BONUS"   // 注册赠送
	TransactionTypeImageGeneration = "IMAGE_GENERATION" // 图片生成消费
	TransactionTypeVideoGeneration = "VIDEO_GENERATION" // 视频生成消费
	TransactionTypeRecharge        = "RECHARGE"         // 充值
	TransactionTypePayment         = "PAYMENT"          // 支付到账
	TransactionTypeAdminAdjust     = "ADMIN_ADJUST"     // 管理员调整
)

var validTransactionTypes = map[string]bool{
	TransactionTypeRegisterBonus:   true,
	TransactionTypeImageGeneration: true,
	TransactionTypeVideoGeneration: true,
	TransactionTypeRecharge:        true,
	TransactionTypePayment:         true,
	TransactionTypeAdminAdjust:     true,
}

func IsValidTransactionType(t string) bool {
	return validTransactionTypes[t]
}

// TokenTransaction Token 流水表
//
// 【流水表设计原则】
// 1. 只追加，不修改，不删除
// 2. 自增 ID 即流水顺序，balance_after = 上一条 balance_after + amount
// 3. 同一用户所有流水 amount 之和 == users.token_balance
type TokenTransaction struct {
	ID            int64             `gorm:"primaryKey;autoIncrement" json:"id"`
	TransactionNo string            `gorm:"type:varchar(64);uniqueIndex;not null" json:"transaction_no"`
	UserID        int64             `gorm:"index;not null" json:"user_id"`
	Type          string            `gorm:"type:varchar(32);index;not null" json:"type"`
	Amount        int64             `gorm:"not null" json:"amount"` // 正数入账，负数出账
	BalanceBefore int64             `gorm:"not null" json:"balance_before"`
	BalanceAfter  int64             `gorm:"not null" json:"balance_after"`
	Description   string            `gorm:"type:varchar(500)" json:"description"`
	Metadata      datatypes.JSONMap `json:"metadata"`
	CreatedAt     time.Time         `gorm:"autoCreateTime;index" json:"created_at"`
}

func (TokenTransaction) TableName() string {
	return "token_transactions"
}
