package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tokenpay/internal/apperr"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// 远端订单状态
const RemoteStatusPaid = 1

// 异步通知中表示支付成功的交易状态
const TradeStatusSuccess = "TRADE_SUCCESS"

// Config 网关连接参数，全部由调用方显式传入
type Config struct {
	BaseURL    string
	PID        string
	Key        string
	SubmitPath string
	APIPath    string
	QueryPath  string
	Timeout    time.Duration
}

func (c Config) complete() bool {
	return strings.TrimSpace(c.BaseURL) != "" && strings.TrimSpace(c.PID) != "" && strings.TrimSpace(c.Key) != ""
}

// Client 易支付（ZPay）协议客户端
type Client struct {
	cfg        Config
	httpClient *http.Client
}

func NewClient(cfg Config, httpClient *http.Client) *Client {
	if cfg.APIPath == "" {
		cfg.APIPath = "/mapi.php"
	}
	if cfg.QueryPath == "" {
		cfg.QueryPath = "/api.php"
	}
	if cfg.SubmitPath == "" {
		cfg.SubmitPath = "/submit.php"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, httpClient: httpClient}
}

// Key 商户密钥，验签使用
func (c *Client) Key() string {
	return c.cfg.Key
}

// PID 商户号，校验通知来源使用
func (c *Client) PID() string {
	return c.cfg.PID
}

type CreateOrderRequest struct {
	PaymentType string
	OutTradeNo  string
	NotifyURL   string
	ReturnURL   string
	Name        string
	Money       decimal.Decimal
	ClientIP    string
	Device      string
	Param       string
}

type CreateOrderResult struct {
	TradeNo string
	PayURL  string
	QRCode  string
}

// RemoteOrder 网关侧订单，只读
type RemoteOrder struct {
	TradeNo    string
	OutTradeNo string
	Type       string
	PID        string
	Name       string
	Money      string
	Status     int
	Param      string
	Buyer      string
	AddTime    string
	EndTime    string
}

func (o *RemoteOrder) Paid() bool {
	return o.Status == RemoteStatusPaid
}

// CreateOrder 调用 mapi.php 下单，网关返回 code=1 才算成功
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	if !c.cfg.complete() {
		return nil, apperr.ErrGatewayConfigIncomplete
	}

	device := req.Device
	if device == "" {
		device = "pc"
	}
	params := map[string]string{
		"pid":          c.cfg.PID,
		"type":         req.PaymentType,
		"out_trade_no": req.OutTradeNo,
		"notify_url":   req.NotifyURL,
		"return_url":   req.ReturnURL,
		"name":         req.Name,
		"money":        req.Money.StringFixed(2),
		"clientip":     req.ClientIP,
		"device":       device,
		"param":        req.Param,
		"sign_type":    "MD5",
	}
	params["sign"] = Sign(params, c.cfg.Key)

	var resp struct {
		Code    flexInt    `json:"code"`
		Msg     string     `json:"msg"`
		TradeNo flexString `json:"trade_no"`
		OID     flexString `json:"O_id"`
		PayURL  string     `json:"payurl"`
		QRCode  string     `json:"qrcode"`
		Img     string     `json:"img"`
	}
	if err := c.postForm(ctx, c.cfg.APIPath, params, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 1 {
		return nil, fmt.Errorf("%w: %s", apperr.ErrGatewayRequestFailed, nonEmpty(resp.Msg, "创建支付订单失败"))
	}

	result := &CreateOrderResult{
		TradeNo: nonEmpty(string(resp.TradeNo), string(resp.OID)),
		PayURL:  resp.PayURL,
		QRCode:  nonEmpty(resp.QRCode, resp.Img),
	}
	logrus.WithFields(logrus.Fields{
		"out_trade_no": req.OutTradeNo,
		"trade_no":     result.TradeNo,
	}).Info("网关下单成功")
	return result, nil
}

// QueryOrder 查询网关侧订单状态，不做任何本地修改
func (c *Client) QueryOrder(ctx context.Context, outTradeNo string) (*RemoteOrder, error) {
	if !c.cfg.complete() {
		return nil, apperr.ErrGatewayConfigIncomplete
	}

	query := url.Values{}
	query.Set("act", "order")
	query.Set("pid", c.cfg.PID)
	query.Set("key", c.cfg.Key)
	query.Set("out_trade_no", outTradeNo)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+c.cfg.QueryPath+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrGatewayRequestFailed, err)
	}

	var resp struct {
		Code       flexInt    `json:"code"`
		Msg        string     `json:"msg"`
		TradeNo    flexString `json:"trade_no"`
		OutTradeNo flexString `json:"out_trade_no"`
		Type       string     `json:"type"`
		PID        flexString `json:"pid"`
		AddTime    string     `json:"addtime"`
		EndTime    string     `json:"endtime"`
		Name       string     `json:"name"`
		Money      flexString `json:"money"`
		Status     flexInt    `json:"status"`
		Param      string     `json:"param"`
		Buyer      string     `json:"buyer"`
	}
	if err := c.do(httpReq, &resp); err != nil {
		return nil, err
	}
	// 部分网关实现查询成功时 code 不为 1，但 msg 含"成功"
	if resp.Code != 1 && !strings.Contains(resp.Msg, "成功") {
		return nil, fmt.Errorf("%w: %s", apperr.ErrGatewayRequestFailed, nonEmpty(resp.Msg, "查询订单失败"))
	}

	return &RemoteOrder{
		TradeNo:    string(resp.TradeNo),
		OutTradeNo: nonEmpty(string(resp.OutTradeNo), outTradeNo),
		Type:       resp.Type,
		PID:        string(resp.PID),
		Name:       resp.Name,
		Money:      string(resp.Money),
		Status:     int(resp.Status),
		Param:      resp.Param,
		Buyer:      resp.Buyer,
		AddTime:    resp.AddTime,
		EndTime:    resp.EndTime,
	}, nil
}

// Refund 申请原路退款
func (c *Client) Refund(ctx context.Context, outTradeNo string, money decimal.Decimal) error {
	if !c.cfg.complete() {
		return apperr.ErrGatewayConfigIncomplete
	}

	params := map[string]string{
		"act":          "refund",
		"pid":          c.cfg.PID,
		"key":          c.cfg.Key,
		"out_trade_no": outTradeNo,
		"money":        money.StringFixed(2),
	}

	var resp struct {
		Code flexInt `json:"code"`
		Msg  string  `json:"msg"`
	}
	if err := c.postForm(ctx, c.cfg.QueryPath, params, &resp); err != nil {
		return err
	}
	if resp.Code != 1 {
		return fmt.Errorf("%w: %s", apperr.ErrGatewayRequestFailed, nonEmpty(resp.Msg, "退款失败"))
	}
	return nil
}

func (c *Client) postForm(ctx context.Context, path string, params map[string]string, out interface{}) error {
	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrGatewayRequestFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(httpReq, out)
}

func (c *Client) do(httpReq *http.Request, out interface{}) error {
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrGatewayRequestFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: 读取响应失败: %v", apperr.ErrGatewayRequestFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", apperr.ErrGatewayRequestFailed, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: 响应解析失败: %v", apperr.ErrGatewayRequestFailed, err)
	}
	return nil
}

func nonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// flexInt 兼容网关把数字字段返回为字符串的情况
type flexInt int

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*f = flexInt(n)
	return nil
}

// flexString 兼容网关把字符串字段返回为数字的情况
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*f = flexString(str)
		return nil
	}
	*f = flexString(s)
	return nil
}
