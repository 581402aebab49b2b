package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tokenpay/internal/auth"
	"tokenpay/internal/config"
	"tokenpay/internal/gateway"
	"tokenpay/internal/handler"
	"tokenpay/internal/infrastructure/cache"
	"tokenpay/internal/infrastructure/database"
	"tokenpay/internal/infrastructure/lock"
	"tokenpay/internal/infrastructure/mail"
	"tokenpay/internal/infrastructure/mq"
	"tokenpay/internal/infrastructure/storage"
	"tokenpay/internal/job"
	"tokenpay/internal/provider"
	"tokenpay/internal/service"
	"tokenpay/pkg/idgen"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("加载配置失败")
	}
	setupLogger(&cfg.Log)

	// 初始化 ID 生成器
	if err := idgen.Init(cfg.Server.WorkerID); err != nil {
		logrus.WithError(err).Fatal("初始化 ID 生成器失败")
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		logrus.WithError(err).Fatal("初始化数据库失败")
	}

	// Redis 可选，未启用时退化为进程内锁
	var locker lock.Locker = lock.NewLocalLocker()
	redisClient, err := cache.InitRedis(&cfg.Redis)
	if err != nil {
		logrus.WithError(err).Fatal("初始化 Redis 失败")
	}
	if redisClient != nil {
		locker = lock.NewRedisLocker(redisClient)
		defer redisClient.Close()
	}

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Kafka 未启用时事件保留在 outbox 表中，启用后补发
	if cfg.Kafka.Enabled {
		producer, err := mq.NewKafkaProducer(&cfg.Kafka)
		if err != nil {
			logrus.WithError(err).Fatal("初始化 Kafka 失败")
		}
		defer producer.Close()

		outboxSender := job.NewOutboxSender(db, producer, cfg.Business.MaxRetryCount)
		go outboxSender.Start(ctx)
	} else {
		logrus.Info("Kafka 未启用，支付事件暂存于 outbox 表")
	}

	gatewayClient := gateway.NewClient(gateway.Config{
		BaseURL:    cfg.Payment.BaseURL,
		PID:        cfg.Payment.PID,
		Key:        cfg.Payment.Key,
		SubmitPath: cfg.Payment.SubmitPath,
		APIPath:    cfg.Payment.APIPath,
		QueryPath:  cfg.Payment.QueryPath,
		Timeout:    cfg.Payment.Timeout,
	}, nil)

	var mirror *storage.Mirror
	store, err := storage.NewStorage(&cfg.Storage)
	if err != nil {
		logrus.WithError(err).Fatal("初始化存储失败")
	}
	if store != nil {
		mirror = storage.NewMirror(store, cfg.Storage.PublicBaseURL, nil)
	}

	jwtManager, err := auth.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, time.Duration(cfg.JWT.ExpireHours)*time.Hour)
	if err != nil {
		logrus.WithError(err).Fatal("初始化 JWT 失败")
	}

	tokenService := service.NewTokenService(db, cfg.Token.Costs)
	reconcileService := service.NewReconcileService(db, gatewayClient.PID(), gatewayClient.Key(), cfg.Kafka.Topic.PaymentEvent, tokenService)
	paymentService, err := service.NewPaymentService(db, gatewayClient, reconcileService, locker, cfg)
	if err != nil {
		logrus.WithError(err).Fatal("初始化支付服务失败")
	}
	generationService := service.NewGenerationService(
		db,
		tokenService,
		provider.NewArkImageClient(cfg.Ark.BaseURL, cfg.Ark.APIKey, cfg.Ark.ImageModel),
		provider.NewArkVideoClient(cfg.Ark.BaseURL, cfg.Ark.APIKey, cfg.Ark.VideoModel, nil),
		mirror,
		cfg.Ark,
	)
	authService := service.NewAuthService(db, tokenService, jwtManager, mail.NewMailer(&cfg.Mail), cfg)

	// 重启前未结束的动画任务继续跟踪
	if n, err := generationService.ResumePending(ctx); err != nil {
		logrus.WithError(err).Warn("恢复动画任务失败")
	} else if n > 0 {
		logrus.Infof("恢复 %d 个未完成的动画任务", n)
	}

	// 启动后台任务
	pendingOrderJob := job.NewPendingOrderJob(
		db,
		gatewayClient,
		reconcileService,
		time.Duration(cfg.Business.PendingOrderCheckMinutes)*time.Minute,
		time.Duration(cfg.Business.PendingOrderMaxAgeHours)*time.Hour,
	)
	go pendingOrderJob.Start(ctx)

	gin.SetMode(cfg.Server.Mode)
	router := handler.SetupRouter(handler.NewHandler(handler.Services{
		Auth:       authService,
		Token:      tokenService,
		Payment:    paymentService,
		Reconcile:  reconcileService,
		Generation: generationService,
	}), jwtManager, cfg.Server.AdminKey, db)
	if cfg.Storage.Type == storage.TypeLocal {
		router.Static("/files", cfg.Storage.LocalDir)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logrus.Infof("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("服务启动失败")
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("正在关闭服务...")

	// 先停止接收请求，再停止后台任务
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("服务关闭异常")
	}

	cancel()
	generationService.Close()

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
	logrus.Info("服务已关闭")
}

func setupLogger(cfg *config.LogConfig) {
	logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	logrus.SetOutput(os.Stdout)
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}
