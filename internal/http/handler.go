package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"time"

	"airsense-acquisition/internal/models"
	"airsense-acquisition/internal/repository"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MeasurementReader 读取接口依赖的仓库方法
type MeasurementReader interface {
	MeanPM25(ctx context.Context, sensor, serialNumber string, since time.Time, limit int) (sql.NullFloat64, error)
	MeanPM25Many(ctx context.Context, placements []models.Placement, since time.Time, limit int) ([]sql.NullFloat64, error)
	Ping(ctx context.Context) error
}

// Handler PM2.5 读取接口
type Handler struct {
	reader     MeasurementReader
	placements []models.Placement
	window     time.Duration
	limit      int
	clock      clock.Clock
	logger     *zap.Logger
}

// NewHandler 创建 Handler
func NewHandler(reader MeasurementReader, placements []models.Placement, window time.Duration, limit int, clk clock.Clock, logger *zap.Logger) *Handler {
	if window <= 0 {
		window = repository.DefaultWindow
	}
	if limit <= 0 {
		limit = repository.DefaultRowLimit
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Handler{
		reader:     reader,
		placements: placements,
		window:     window,
		limit:      limit,
		clock:      clk,
		logger:     logger,
	}
}

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.Health)

	v1 := router.Group("/api/v1")
	v1.GET("/sensors/:kind/:serial/pm2_5", h.GetMeanPM25)
	v1.GET("/placements", h.ListPlacements)
}

// Health 检查数据库连接
func (h *Handler) Health(c *gin.Context) {
	if err := h.reader.Ping(c.Request.Context()); err != nil {
		h.logger.Warn("Health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetMeanPM25 GET /api/v1/sensors/:kind/:serial/pm2_5?window=5m&limit=3
func (h *Handler) GetMeanPM25(c *gin.Context) {
	kind := c.Param("kind")
	serial := c.Param("serial")

	window, limit, ok := h.queryParams(c)
	if !ok {
		return
	}

	mean, err := h.reader.MeanPM25(c.Request.Context(), kind, serial, h.clock.Now().Add(-window), limit)
	if errors.Is(err, repository.ErrUnknownSensor) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("Failed to query mean pm2_5",
			zap.String("sensor", kind),
			zap.String("serial_number", serial),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sensor":         kind,
		"serial_number":  serial,
		"pm2_5":          nullable(mean),
		"window_seconds": int64(window / time.Second),
		"limit":          limit,
	})
}

type placementView struct {
	models.Placement
	PM25 *float64 `json:"pm2_5"`
}

// ListPlacements GET /api/v1/placements 摆放表及每个传感器当前的 PM2.5 均值
func (h *Handler) ListPlacements(c *gin.Context) {
	window, limit, ok := h.queryParams(c)
	if !ok {
		return
	}

	means, err := h.reader.MeanPM25Many(c.Request.Context(), h.placements, h.clock.Now().Add(-window), limit)
	if err != nil {
		h.logger.Error("Failed to query placements pm2_5", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	views := make([]placementView, len(h.placements))
	for i, p := range h.placements {
		views[i] = placementView{Placement: p, PM25: nullable(means[i])}
	}
	c.JSON(http.StatusOK, gin.H{"placements": views})
}

// queryParams 解析可选的 window / limit 参数，非法时直接返回 400
func (h *Handler) queryParams(c *gin.Context) (time.Duration, int, bool) {
	window, limit := h.window, h.limit

	if v := c.Query("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid window"})
			return 0, 0, false
		}
		window = d
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return 0, 0, false
		}
		limit = n
	}
	return window, limit, true
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
