// Package apperr 定义业务错误分类。
//
// 业务代码用 fmt.Errorf("%w: ...", ErrXxx) 包装哨兵错误，
// 上层通过 errors.Is 或 KindOf 判断错误类别，不依赖错误文案。
package apperr

import (
	"errors"
	"fmt"
)

// Kind 机器可读的错误类别，直接出现在 API 响应的 error 字段中
type Kind string

const (
	KindValidation              Kind = "VALIDATION_ERROR"
	KindNotFound                Kind = "NOT_FOUND"
	KindUnauthorized            Kind = "UNAUTHORIZED"
	KindInsufficientBalance     Kind = "INSUFFICIENT_BALANCE"
	KindInvalidOrderState       Kind = "INVALID_ORDER_STATE"
	KindAmountMismatch          Kind = "AMOUNT_MISMATCH"
	KindSignatureInvalid        Kind = "SIGNATURE_INVALID"
	KindPaymentStatus           Kind = "PAYMENT_STATUS_ERROR"
	KindGatewayConfigIncomplete Kind = "GATEWAY_CONFIG_INCOMPLETE"
	KindGatewayRequestFailed    Kind = "GATEWAY_REQUEST_FAILED"
	KindGenerationFailed        Kind = "GENERATION_FAILED"
	KindSystem                  Kind = "SYSTEM_ERROR"
)

var (
	ErrValidation              = errors.New("参数校验失败")
	ErrNotFound                = errors.New("资源不存在")
	ErrUnauthorized            = errors.New("未授权")
	ErrInsufficientBalance     = errors.New("Token余额不足")
	ErrInvalidOrderState       = errors.New("订单状态不合法")
	ErrAmountMismatch          = errors.New("支付金额不匹配")
	ErrSignatureInvalid        = errors.New("签名验证失败")
	ErrPaymentStatus           = errors.New("支付状态异常")
	ErrGatewayConfigIncomplete = errors.New("支付网关配置不完整")
	ErrGatewayRequestFailed    = errors.New("支付网关请求失败")
	ErrGenerationFailed        = errors.New("生成任务失败")
)

// 具体的不存在错误，均可被 errors.Is(err, ErrNotFound) 识别
var (
	ErrUserNotFound  = fmt.Errorf("%w: 用户不存在", ErrNotFound)
	ErrOrderNotFound = fmt.Errorf("%w: 订单不存在", ErrNotFound)
	ErrTaskNotFound  = fmt.Errorf("%w: 任务不存在", ErrNotFound)
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrValidation, KindValidation},
	{ErrNotFound, KindNotFound},
	{ErrUnauthorized, KindUnauthorized},
	{ErrInsufficientBalance, KindInsufficientBalance},
	{ErrInvalidOrderState, KindInvalidOrderState},
	{ErrAmountMismatch, KindAmountMismatch},
	{ErrSignatureInvalid, KindSignatureInvalid},
	{ErrPaymentStatus, KindPaymentStatus},
	{ErrGatewayConfigIncomplete, KindGatewayConfigIncomplete},
	{ErrGatewayRequestFailed, KindGatewayRequestFailed},
	{ErrGenerationFailed, KindGenerationFailed},
}

// KindOf 返回错误所属类别，无法识别的错误一律视为系统错误
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindSystem
}

// IsBusiness 业务规则错误（非系统故障）
func IsBusiness(err error) bool {
	kind := KindOf(err)
	return kind != "" && kind != KindSystem
}

// Validation 构造参数校验错误
func Validation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
