package handler

import (
	"net/http"
	"strconv"

	"tokenpay/internal/apperr"
	"tokenpay/internal/model"
	"tokenpay/internal/service"
	"tokenpay/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ============================================================
// 支付相关接口
// ============================================================

// GetPackages 充值套餐列表
// GET /api/payment/packages
func (h *Handler) GetPackages(c *gin.Context) {
	response.Success(c, h.paymentService.Packages())
}

type CreatePaymentRequest struct {
	PackageID   string `json:"package_id" binding:"required"`
	PaymentType string `json:"payment_type" binding:"required"`
	ReturnURL   string `json:"return_url"`
}

// CreatePayment 创建充值订单
// POST /api/payment/create
func (h *Handler) CreatePayment(c *gin.Context) {
	var req CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	out, err := h.paymentService.CreateOrder(c.Request.Context(), service.CreateOrderInput{
		UserID:      currentUserID(c),
		PackageID:   req.PackageID,
		PaymentType: req.PaymentType,
		ClientIP:    c.ClientIP(),
		ReturnURL:   req.ReturnURL,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMessage(c, "订单创建成功", out)
}

// QueryPayment 查询订单，未支付时向网关查单并补偿入账
// GET /api/payment/query?order_id=1 或 ?out_trade_no=xxx
func (h *Handler) QueryPayment(c *gin.Context) {
	var orderID int64
	if s := c.Query("order_id"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			response.ParamError(c, "order_id 参数错误")
			return
		}
		orderID = id
	}
	outTradeNo := c.Query("out_trade_no")
	if orderID == 0 && outTradeNo == "" {
		response.ParamError(c, "order_id 和 out_trade_no 不能同时为空")
		return
	}

	out, err := h.paymentService.QueryOrder(c.Request.Context(), currentUserID(c), orderID, outTradeNo)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, out)
}

// ListPayments 用户订单列表
// GET /api/payment/orders?status=1&page=1&page_size=10
func (h *Handler) ListPayments(c *gin.Context) {
	page, size := pagination(c, 10)

	var status *int8
	if s := c.Query("status"); s != "" {
		v, err := strconv.ParseInt(s, 10, 8)
		if err != nil || model.OrderStatusText(int8(v)) == "UNKNOWN" {
			response.ParamError(c, "status 参数错误")
			return
		}
		st := int8(v)
		status = &st
	}

	orders, total, err := h.paymentService.ListOrders(c.Request.Context(), currentUserID(c), status, page, size)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, response.Page{Items: orders, Total: total, Page: page, PageSize: size})
}

// RefundPayment 申请退款
// POST /api/payment/refund/:orderId
func (h *Handler) RefundPayment(c *gin.Context) {
	orderID, err := parseID(c, "orderId")
	if err != nil {
		response.Error(c, err)
		return
	}
	order, err := h.paymentService.Refund(c.Request.Context(), currentUserID(c), orderID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMessage(c, "退款成功", order)
}

// PaymentNotify 网关异步通知，GET 和 POST 表单都可能出现
// 只能返回纯文本 success / error，网关据此决定是否重试
func (h *Handler) PaymentNotify(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		logrus.WithError(err).Warn("[Notify] 解析通知参数失败")
		c.String(http.StatusInternalServerError, "error")
		return
	}
	params := make(map[string]string, len(c.Request.Form))
	for k, v := range c.Request.Form {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}

	entry := logrus.WithField("order_no", params["out_trade_no"])
	result, err := h.reconcileService.HandleNotification(c.Request.Context(), params)
	if err != nil {
		if apperr.IsBusiness(err) {
			entry.WithError(err).Warn("[Notify] 支付通知处理失败")
		} else {
			entry.WithError(err).Error("[Notify] 支付通知处理失败")
		}
		c.String(http.StatusInternalServerError, "error")
		return
	}

	entry.WithFields(logrus.Fields{
		"user_id":           result.UserID,
		"already_processed": result.AlreadyProcessed,
	}).Info("[Notify] 支付通知处理成功")
	c.String(http.StatusOK, "success")
}
