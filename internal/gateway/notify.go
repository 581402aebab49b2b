package gateway

import (
	"fmt"
	"net/url"

	"tokenpay/internal/apperr"
)

// Notification 网关异步通知
type Notification struct {
	PID         string
	TradeNo     string
	OutTradeNo  string
	Type        string
	Name        string
	Money       string
	TradeStatus string
	Param       string
	Buyer       string
	Sign        string
	SignType    string

	// Params 原始字段，验签使用
	Params map[string]string
}

// ParseNotification 从表单或查询参数解析通知，同名字段取第一个值
func ParseNotification(values url.Values) *Notification {
	params := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return NotificationFromParams(params)
}

func NotificationFromParams(params map[string]string) *Notification {
	return &Notification{
		PID:         params["pid"],
		TradeNo:     params["trade_no"],
		OutTradeNo:  params["out_trade_no"],
		Type:        params["type"],
		Name:        params["name"],
		Money:       params["money"],
		TradeStatus: params["trade_status"],
		Param:       params["param"],
		Buyer:       params["buyer"],
		Sign:        params["sign"],
		SignType:    params["sign_type"],
		Params:      params,
	}
}

// VerifyNotification 校验商户号、签名与必填字段
func VerifyNotification(n *Notification, pid, key string) error {
	if n.PID != pid {
		return fmt.Errorf("%w: 商户号不匹配", apperr.ErrSignatureInvalid)
	}
	if !Verify(n.Params, key) {
		return apperr.ErrSignatureInvalid
	}
	if n.OutTradeNo == "" {
		return apperr.Validation("缺少 out_trade_no")
	}
	return nil
}

// Succeeded 交易状态是否为支付成功
func (n *Notification) Succeeded() bool {
	return n.TradeStatus == TradeStatusSuccess
}

func (n *Notification) String() string {
	return fmt.Sprintf("out_trade_no=%s trade_no=%s money=%s status=%s", n.OutTradeNo, n.TradeNo, n.Money, n.TradeStatus)
}
