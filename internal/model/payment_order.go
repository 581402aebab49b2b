package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 订单状态，数值与支付网关保持一致
const (
	OrderStatusUnpaid   int8 = 0
	OrderStatusPaid     int8 = 1
	OrderStatusRefunded int8 = 2
)

const (
	PaymentTypeAlipay = "alipay"
	PaymentTypeWxpay  = "wxpay"
)

// ValidStatusTransitions 订单只能 UNPAID -> PAID -> REFUNDED
var ValidStatusTransitions = map[int8][]int8{
	OrderStatusUnpaid: {OrderStatusPaid},
	OrderStatusPaid:   {OrderStatusRefunded},
}

func CanTransitionTo(currentStatus, targetStatus int8) bool {
	allowedStatuses, exists := ValidStatusTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

func OrderStatusText(status int8) string {
	switch status {
	case OrderStatusUnpaid:
		return "UNPAID"
	case OrderStatusPaid:
		return "PAID"
	case OrderStatusRefunded:
		return "REFUNDED"
	default:
		return "UNKNOWN"
	}
}

func IsValidPaymentType(t string) bool {
	return t == PaymentTypeAlipay || t == PaymentTypeWxpay
}

// PaymentOrder 充值订单表
// out_trade_no 是商户侧幂等键，创建后不可变
type PaymentOrder struct {
	ID          int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      int64           `gorm:"index;not null" json:"user_id"`
	OutTradeNo  string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"out_trade_no"`
	TradeNo     string          `gorm:"type:varchar(64);index" json:"trade_no"` // 网关订单号，支付确认时覆盖
	Name        string          `gorm:"type:varchar(128);not null" json:"name"`
	Money       decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"money"`
	PaymentType string          `gorm:"type:varchar(16);not null" json:"payment_type"`
	Status      int8            `gorm:"index;not null;default:0" json:"status"`
	TokenAmount int64           `gorm:"not null" json:"token_amount"`
	PackageID   string          `gorm:"type:varchar(64)" json:"package_id"`
	ClientIP    string          `gorm:"type:varchar(64)" json:"client_ip"`
	NotifyURL   string          `gorm:"type:varchar(512)" json:"-"`
	ReturnURL   string          `gorm:"type:varchar(512)" json:"return_url"`
	PayURL      string          `gorm:"type:varchar(1024)" json:"pay_url"`
	QRCode      string          `gorm:"type:varchar(1024)" json:"qr_code"`
	Buyer       string          `gorm:"type:varchar(128)" json:"buyer"`
	PaidAt      *time.Time      `json:"paid_at"`
	RefundedAt  *time.Time      `json:"refunded_at"`
	CreatedAt   time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PaymentOrder) TableName() string {
	return "payment_orders"
}
