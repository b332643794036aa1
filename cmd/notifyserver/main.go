package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"friends-go/internal/auth"
	"friends-go/internal/config"
	"friends-go/internal/handlers/notifyserver"
	appKafka "friends-go/internal/kafka"
	kafkahandlers "friends-go/internal/kafka/handlers"
	"friends-go/internal/logging"
	"friends-go/internal/middleware"
	appRedis "friends-go/internal/redis"
	"friends-go/internal/websocket"
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
	logger = logger.With(zap.String("app", cfg.AppName+"-notify"))

	if err := run(cfg, logger); err != nil {
		logger.Fatal("通知服务器异常退出", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var blacklist auth.TokenBlacklist
	if cfg.Redis.Enabled {
		redisClient, err := appRedis.NewClient(rootCtx, cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		blacklist = appRedis.NewRedisTokenBlacklist(redisClient)
	}

	// 2. 初始化 WebSocket Hub
	hub := websocket.NewHub(cfg.Notifications.QueueSize, logger)
	hubCtx, stopHub := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(hubCtx)
	}()

	// 3. Kafka 消费者：通知 topic -> hub
	consumer, err := appKafka.NewConfluentKafkaConsumer(cfg.Kafka, logger)
	if err != nil {
		stopHub()
		return fmt.Errorf("创建 Kafka 消费者: %w", err)
	}
	defer consumer.Close()

	consumerLogic := kafkahandlers.NewNotificationConsumerLogic(hub, logger)
	consumerCtx, cancelConsumer := context.WithCancel(rootCtx)
	defer cancelConsumer()
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("Kafka 通知消费者启动",
			zap.String("topic", cfg.Kafka.NotificationsTopic),
			zap.String("group", cfg.Kafka.ConsumerGroup))
		err := consumer.Consume(consumerCtx, []string{cfg.Kafka.NotificationsTopic}, cfg.Kafka.ConsumerGroup, consumerLogic.HandleNotification)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Kafka 通知消费者错误", zap.Error(err))
			stop()
		}
		logger.Info("Kafka 通知消费者已停止")
	}()

	// 4. HTTP 路由
	mux := http.NewServeMux()
	mux.Handle(cfg.NotifyServer.WebSocketPath, notifyserver.NewWebSocketHandler(hub, cfg, blacklist, logger))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]any{"status": "up", "online": hub.Online()})
	})

	srv := &http.Server{
		Addr:     fmt.Sprintf("%s:%s", cfg.NotifyServer.Host, cfg.NotifyServer.Port),
		Handler:  middleware.RequestID(middleware.Recovery(logger)(mux)),
		ErrorLog: zap.NewStdLog(logger.Named("http-server")),
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("通知服务器启动", zap.String("addr", srv.Addr), zap.String("path", cfg.NotifyServer.WebSocketPath))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("通知服务器启动失败: %w", err)
		}
	case <-rootCtx.Done():
		logger.Info("通知服务器准备关闭...")
	}

	cancelConsumer()
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.Error("通知服务器关闭失败", zap.Error(err))
	}
	// websocket 连接不受 Shutdown 管理，由 hub 关闭
	stopHub()
	wg.Wait()
	logger.Info("通知服务器已优雅关闭")
	return runErr
}
