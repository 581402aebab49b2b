package response

import (
	"net/http"

	"tokenpay/internal/apperr"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// 前端约定 code=1 成功，code=0 失败，具体原因看 error 字段
const (
	CodeFailure = 0
	CodeSuccess = 1
)

type Response struct {
	Success bool        `json:"success"`
	Code    int         `json:"code"`
	Error   apperr.Kind `json:"error,omitempty"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Page 分页数据
type Page struct {
	Items    interface{} `json:"items"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

func Success(c *gin.Context, data interface{}) {
	SuccessWithMessage(c, "操作成功", data)
}

func SuccessWithMessage(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Code:    CodeSuccess,
		Message: message,
		Data:    data,
	})
}

func Fail(c *gin.Context, httpStatus int, kind apperr.Kind, message string) {
	c.JSON(httpStatus, Response{
		Success: false,
		Code:    CodeFailure,
		Error:   kind,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Fail(c, http.StatusBadRequest, apperr.KindValidation, message)
}

func Unauthorized(c *gin.Context, message string) {
	Fail(c, http.StatusUnauthorized, apperr.KindUnauthorized, message)
}

func ServerError(c *gin.Context, message string) {
	Fail(c, http.StatusInternalServerError, apperr.KindSystem, message)
}

// Error 按错误类别输出响应；系统错误不暴露内部细节
func Error(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindSystem {
		logrus.WithError(err).WithField("path", c.Request.URL.Path).Error("[HTTP] 系统错误")
		ServerError(c, "系统内部错误")
		return
	}
	Fail(c, StatusOf(kind), kind, err.Error())
}

// StatusOf 错误类别对应的 HTTP 状态码
func StatusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation, apperr.KindAmountMismatch, apperr.KindSignatureInvalid:
		return http.StatusBadRequest
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInsufficientBalance:
		return http.StatusPaymentRequired
	case apperr.KindInvalidOrderState, apperr.KindPaymentStatus:
		return http.StatusConflict
	case apperr.KindGatewayRequestFailed, apperr.KindGenerationFailed:
		return http.StatusBadGateway
	case apperr.KindGatewayConfigIncomplete:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

