package handler

import (
	"net/http"

	"tokenpay/internal/auth"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler, jwtManager *auth.Manager, adminKey string, db *gorm.DB) *gin.Engine {
	r := gin.New()

	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	api := r.Group("/api")
	authed := AuthMiddleware(jwtManager, h.authService)

	authGroup := api.Group("/auth")
	{
		authGroup.POST("/send-code", h.SendCode)
		authGroup.POST("/register", h.Register)
		authGroup.POST("/login", h.Login)
		authGroup.GET("/profile", authed, h.GetProfile)
		authGroup.PUT("/profile", authed, h.UpdateProfile)
	}

	token := api.Group("/token", authed)
	{
		token.GET("/balance", h.GetBalance)
		token.GET("/history", h.GetTokenHistory)
		token.GET("/cost/:type", h.CheckCost)
	}

	payment := api.Group("/payment")
	{
		// 网关回调不带登录态
		payment.GET("/notify", h.PaymentNotify)
		payment.POST("/notify", h.PaymentNotify)

		payment.GET("/packages", authed, h.GetPackages)
		payment.POST("/create", authed, h.CreatePayment)
		payment.GET("/query", authed, h.QueryPayment)
		payment.GET("/orders", authed, h.ListPayments)
		payment.POST("/refund/:orderId", authed, h.RefundPayment)
	}

	generate := api.Group("/generate", authed)
	{
		generate.POST("/image", h.GenerateImage)
		generate.POST("/animation", h.GenerateAnimation)
		generate.GET("/status/:taskId", h.GetTaskStatus)
		generate.GET("/history", h.GetGenerationHistory)
		generate.DELETE("/history/:id", h.DeleteGenerationHistory)
	}

	admin := api.Group("/admin", AdminMiddleware(adminKey))
	{
		admin.GET("/users", h.ListUsers)
		admin.POST("/tokens/adjust", h.AdjustTokens)
	}

	r.GET("/health", func(c *gin.Context) {
		status := "ok"
		code := http.StatusOK
		if db != nil {
			if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
				status = "database unavailable"
				code = http.StatusServiceUnavailable
			}
		}
		c.JSON(code, gin.H{"status": status})
	})

	return r
}
