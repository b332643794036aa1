package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"friends-go/internal/accounts"
	"friends-go/internal/auth"
	"friends-go/internal/config"
	"friends-go/internal/handlers/apiserver"
	appKafka "friends-go/internal/kafka"
	"friends-go/internal/logging"
	"friends-go/internal/middleware"
	appRedis "friends-go/internal/redis"
	"friends-go/internal/services"
	"friends-go/internal/storage"
)

func main() {
	// 1. 加载配置
	cfg, err := config.LoadConfig(os.Getenv("FRIENDS_CONFIG"))
	if err != nil {
		log.Fatalf("无法加载配置: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("无法初始化日志: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("app", cfg.AppName), zap.String("version", cfg.AppVersion))
	logger.Info("API 服务器配置加载成功")

	if err := run(cfg, logger); err != nil {
		logger.Fatal("API 服务器异常退出", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. 初始化数据库连接
	db, err := storage.InitDB(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("初始化数据库: %w", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if cfg.Database.AutoMigrate {
		if err := storage.AutoMigrateTables(db, logger); err != nil {
			return fmt.Errorf("数据库表迁移: %w", err)
		}
	}

	// 3. Redis: token 黑名单与账户缓存
	var blacklist auth.TokenBlacklist = auth.NewMemoryBlacklist()
	var lookup services.AccountLookup = accounts.NewHTTPClient(cfg.Accounts.BaseURL, cfg.Accounts.Timeout, logger)
	if cfg.Redis.Enabled {
		redisClient, err := appRedis.NewClient(rootCtx, cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		logger.Info("成功连接到 Redis", zap.String("addr", cfg.Redis.Addr))

		blacklist = appRedis.NewRedisTokenBlacklist(redisClient)
		lookup = accounts.NewCachedLookup(lookup, appRedis.NewAccountCache(redisClient), cfg.Accounts.CacheTTL, logger)
	} else {
		logger.Warn("Redis 未启用，token 黑名单仅保存在内存中，账户信息不缓存")
	}

	// 4. 初始化 Kafka Producer 与通知分发器
	producer, err := appKafka.NewConfluentKafkaProducer(cfg.Kafka, logger)
	if err != nil {
		return fmt.Errorf("创建 Kafka 生产者: %w", err)
	}
	defer producer.Close()

	dispatcher := appKafka.NewNotificationDispatcher(producer, appKafka.DispatcherConfig{
		Topic:          cfg.Kafka.NotificationsTopic,
		Workers:        cfg.Notifications.Workers,
		QueueSize:      cfg.Notifications.QueueSize,
		PublishTimeout: cfg.Notifications.PublishTimeout,
	}, logger)

	// 5. 初始化 Service 与 Handler
	repo := storage.NewGormRelationshipRepository(db)
	service := services.NewRelationshipService(repo, dispatcher, lookup, logger, services.ServiceOptions{
		NotifyOnRequest: cfg.Notifications.NotifyOnRequest,
	})

	var limiter *middleware.RateLimiter
	if cfg.APIServer.RateLimit.Enabled {
		limiter = middleware.NewRateLimiter(cfg.APIServer.RateLimit)
		go limiter.RunCleanup(rootCtx)
	}

	handler := apiserver.NewRouter(apiserver.RouterDeps{
		Config:      cfg,
		Relations:   apiserver.NewRelationshipHandler(service, logger),
		Health:      apiserver.NewHealthHandler(db),
		Blacklist:   blacklist,
		RateLimiter: limiter,
		Logger:      logger,
	})

	// 6. 启动 HTTP 服务器并实现优雅关闭
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.APIServer.Host, cfg.APIServer.Port),
		Handler:      handler,
		ReadTimeout:  cfg.APIServer.ReadTimeout,
		WriteTimeout: cfg.APIServer.WriteTimeout,
		IdleTimeout:  cfg.APIServer.IdleTimeout,
		ErrorLog:     zap.NewStdLog(logger.Named("http-server")),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("API 服务器启动", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("API 服务器启动失败: %w", err)
		}
	case <-rootCtx.Done():
		logger.Info("收到关闭信号，正在关闭 API 服务器...")
	}

	shutdownTimeout := cfg.APIServer.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	ctxShutdown, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.Error("API 服务器强制关闭", zap.Error(err))
	}
	// HTTP 停止后不再产生新事件，排空分发队列
	if err := dispatcher.Close(ctxShutdown); err != nil {
		logger.Warn("通知队列未完全排空", zap.Error(err))
	}
	stats := dispatcher.Stats()
	logger.Info("API 服务器已成功关闭",
		zap.Int64("published", stats.Published),
		zap.Int64("failed", stats.Failed),
		zap.Int64("dropped", stats.Dropped))
	return nil
}
