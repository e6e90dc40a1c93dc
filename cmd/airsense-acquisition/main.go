package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"airsense-acquisition/common/logger"
	"airsense-acquisition/internal/config"
	"airsense-acquisition/internal/service"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// .env 可选
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Failed to load .env: %v", err)
	}

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化Logger
	zapLogger, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "airsense-acquisition")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting airsense-acquisition service",
		zap.String("db_driver", cfg.Database.Driver),
		zap.Int("baud_rate", cfg.Acquisition.BaudRate),
		zap.Int("allowed_devices", len(cfg.Acquisition.AllowedDevices)),
	)

	// 创建服务
	acqService, err := service.NewAcquisitionService(cfg, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to create acquisition service", zap.Error(err))
	}

	// 启动服务
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := acqService.Start(ctx); err != nil {
		zapLogger.Fatal("Failed to start acquisition service", zap.Error(err))
	}

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	zapLogger.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	// 优雅关闭
	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := acqService.Stop(stopCtx); err != nil {
		zapLogger.Error("Error during shutdown", zap.Error(err))
	}

	zapLogger.Info("Service stopped")
}
