package handler

import (
	"strconv"
	"strings"
	"time"

	"tokenpay/internal/apperr"
	"tokenpay/internal/service"
	"tokenpay/pkg/response"

	"github.com/gin-gonic/gin"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	authService       *service.AuthService
	tokenService      *service.TokenService
	paymentService    *service.PaymentService
	reconcileService  *service.ReconcileService
	generationService *service.GenerationService
}

type Services struct {
	Auth       *service.AuthService
	Token      *service.TokenService
	Payment    *service.PaymentService
	Reconcile  *service.ReconcileService
	Generation *service.GenerationService
}

func NewHandler(s Services) *Handler {
	return &Handler{
		authService:       s.Auth,
		tokenService:      s.Token,
		paymentService:    s.Payment,
		reconcileService:  s.Reconcile,
		generationService: s.Generation,
	}
}

// pagination 读取 page / page_size，兼容旧客户端的 limit
func pagination(c *gin.Context, defaultSize int) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	sizeStr := c.Query("page_size")
	if sizeStr == "" {
		sizeStr = c.Query("limit")
	}
	size, err := strconv.Atoi(sizeStr)
	if err != nil || size <= 0 {
		size = defaultSize
	}
	if page <= 0 {
		page = 1
	}
	return page, size
}

func parseID(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("%s 参数错误", name)
	}
	return id, nil
}

// parseDate 支持 2006-01-02 和 RFC3339 两种格式
func parseDate(value string, endOfDay bool) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", value, time.Local)
	if err != nil {
		return nil, apperr.Validation("日期格式错误: %s", value)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

// ============================================================
// 认证相关接口
// ============================================================

type SendCodeRequest struct {
	Email string `json:"email" binding:"required"`
	Type  string `json:"type"`
}

// SendCode 发送邮箱验证码
// POST /api/auth/send-code
func (h *Handler) SendCode(c *gin.Context) {
	var req SendCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	if req.Type == "" {
		req.Type = "register"
	}
	if err := h.authService.SendCode(c.Request.Context(), req.Email, req.Type); err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMessage(c, "验证码已发送", nil)
}

type RegisterRequest struct {
	Username string `json:"username" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	Code     string `json:"code"`
}

// Register 注册并赠送 Token
// POST /api/auth/register
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	result, err := h.authService.Register(c.Request.Context(), service.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Code:     req.Code,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMessage(c, "注册成功", result)
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login 登录
// POST /api/auth/login
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	result, err := h.authService.Login(c.Request.Context(), service.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMessage(c, "登录成功", result)
}

// GetProfile 当前用户信息
// GET /api/auth/profile
func (h *Handler) GetProfile(c *gin.Context) {
	user, err := h.authService.Profile(c.Request.Context(), currentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, user)
}

type UpdateProfileRequest struct {
	Username *string `json:"username"`
	Avatar   *string `json:"avatar"`
}

// UpdateProfile 修改用户名或头像
// PUT /api/auth/profile
func (h *Handler) UpdateProfile(c *gin.Context) {
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	user, err := h.authService.UpdateProfile(c.Request.Context(), currentUserID(c), service.ProfileInput{
		Username: req.Username,
		Avatar:   req.Avatar,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMessage(c, "更新成功", user)
}

// ============================================================
// Token 相关接口
// ============================================================

// GetBalance 查询 Token 余额
// GET /api/token/balance
func (h *Handler) GetBalance(c *gin.Context) {
	userID := currentUserID(c)
	balance, err := h.tokenService.GetBalance(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{
		"user_id": userID,
		"balance": balance,
	})
}

// GetTokenHistory 查询 Token 流水
// GET /api/token/history?type=PAYMENT&page=1&page_size=20
func (h *Handler) GetTokenHistory(c *gin.Context) {
	page, size := pagination(c, 20)
	items, total, err := h.tokenService.ListTransactions(c.Request.Context(), currentUserID(c), c.Query("type"), page, size)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, response.Page{Items: items, Total: total, Page: page, PageSize: size})
}

// CheckCost 查询操作费用及余额是否足够
// GET /api/token/cost/:type
func (h *Handler) CheckCost(c *gin.Context) {
	check, err := h.tokenService.CheckCost(c.Request.Context(), currentUserID(c), c.Param("type"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, check)
}

// ============================================================
// 管理接口
// ============================================================

// ListUsers 用户列表
// GET /api/admin/users
func (h *Handler) ListUsers(c *gin.Context) {
	page, size := pagination(c, 20)
	result, err := h.authService.ListUsers(c.Request.Context(), page, size)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

type AdjustTokensRequest struct {
	UserID int64  `json:"user_id" binding:"required"`
	Amount int64  `json:"amount" binding:"required"`
	Reason string `json:"reason"`
}

// AdjustTokens 管理员调整余额
// POST /api/admin/tokens/adjust
func (h *Handler) AdjustTokens(c *gin.Context) {
	var req AdjustTokensRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	result, err := h.tokenService.AdminAdjust(c.Request.Context(), req.UserID, req.Amount, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{
		"user_id":     req.UserID,
		"new_balance": result.NewBalance,
		"transaction": result.Transaction,
	})
}
