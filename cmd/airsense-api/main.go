package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"airsense-acquisition/common/database"
	"airsense-acquisition/common/logger"
	"airsense-acquisition/internal/config"
	httpapi "airsense-acquisition/internal/http"
	"airsense-acquisition/internal/models"
	"airsense-acquisition/internal/placements"
	"airsense-acquisition/internal/repository"

	"github.com/gin-gonic/gin"
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
	zapLogger, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "airsense-api")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	// 初始化数据库
	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	// 摆放表缺失时只提供单传感器查询
	placementList, err := placements.Load(cfg.API.PlacementsFile)
	if err != nil {
		zapLogger.Warn("Placements unavailable", zap.String("file", cfg.API.PlacementsFile), zap.Error(err))
		placementList = []models.Placement{}
	}

	repo := repository.NewMeasurementRepository(db, database.DialectFor(cfg.Database.Driver),
		models.DefaultSchemaTable(), cfg.Acquisition.TimestampLayout, zapLogger.Named("repository"))

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := httpapi.NewHandler(repo, placementList, cfg.API.Window, cfg.API.RowLimit, nil, zapLogger.Named("http"))
	server := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           httpapi.NewRouter(handler, zapLogger.Named("http")),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		zapLogger.Info("Starting airsense-api",
			zap.String("addr", cfg.API.Addr),
			zap.Int("placements", len(placementList)),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	zapLogger.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		zapLogger.Error("Error during shutdown", zap.Error(err))
	}

	zapLogger.Info("Service stopped")
}
