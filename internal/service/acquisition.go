package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"airsense-acquisition/common/database"
	mqttcommon "airsense-acquisition/common/mqtt"
	rediscommon "airsense-acquisition/common/redis"
	"airsense-acquisition/internal/config"
	"airsense-acquisition/internal/decoder"
	"airsense-acquisition/internal/discovery"
	"airsense-acquisition/internal/dispatcher"
	"airsense-acquisition/internal/hotplug"
	"airsense-acquisition/internal/models"
	"airsense-acquisition/internal/publisher"
	"airsense-acquisition/internal/queue"
	"airsense-acquisition/internal/reader"
	"airsense-acquisition/internal/repository"

	"github.com/benbjohnson/clock"
	"github.com/go-redis/redis/v8"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Dependencies 可替换的外部依赖（测试中注入）
type Dependencies struct {
	DB         *sql.DB
	Discovery  hotplug.Discovery
	Opener     reader.Opener
	Clock      clock.Clock
	Publishers []publisher.Publisher
}

// AcquisitionService 采集服务：发现设备、每设备一个读取器、单一分发循环
type AcquisitionService struct {
	config *config.Config
	logger *zap.Logger

	db         *sql.DB
	redis      *redis.Client
	mqttClient *mqttcommon.Client

	decoder    *decoder.Decoder
	queue      *queue.IngestionQueue
	monitor    *hotplug.Monitor
	dispatcher *dispatcher.Dispatcher
	opener     reader.Opener
	clock      clock.Clock

	mu       sync.Mutex
	readers  map[string]*reader.DeviceReader
	stopping bool
	// group 只运行分发循环；readerGroup 运行所有读取器，停止时先于分发循环结束
	group         *errgroup.Group
	cancel        context.CancelFunc
	readerGroup   *errgroup.Group
	readerCtx     context.Context
	cancelReaders context.CancelFunc
}

// NewAcquisitionService 创建采集服务；数据库连接失败是唯一的致命错误
func NewAcquisitionService(cfg *config.Config, logger *zap.Logger) (*AcquisitionService, error) {
	// 初始化数据库
	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	// sqlite 边缘部署通常是新文件，表不存在时自动创建；postgres 表由运维管理
	if database.DialectFor(cfg.Database.Driver) == database.DialectSQLite {
		if err := database.EnsureTables(context.Background(), db); err != nil {
			database.Close(db)
			return nil, err
		}
	}

	deps := Dependencies{
		DB:        db,
		Discovery: discovery.NewDiscoverer(cfg.Acquisition.AllowedDevices, logger.Named("discovery")),
	}

	var redisClient *redis.Client
	var mqttClient *mqttcommon.Client

	// 转发是可选的，连接失败只告警
	if cfg.Publish.Redis.Enabled {
		redisClient = rediscommon.NewRedisClient(&cfg.Redis)
		if err := rediscommon.Ping(context.Background(), redisClient, 0); err != nil {
			logger.Warn("Redis unavailable, stream publishing disabled", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
			rediscommon.Close(redisClient)
			redisClient = nil
		} else {
			deps.Publishers = append(deps.Publishers,
				publisher.NewRedisStreamPublisher(redisClient, cfg.Publish.Redis.Stream, cfg.Publish.Redis.MaxLen))
		}
	}
	if cfg.Publish.MQTT.Enabled {
		mqttClient, err = mqttcommon.NewClient(&cfg.MQTT, logger)
		if err != nil {
			logger.Warn("MQTT unavailable, topic publishing disabled", zap.String("broker", cfg.MQTT.Broker), zap.Error(err))
			mqttClient = nil
		} else {
			deps.Publishers = append(deps.Publishers,
				publisher.NewMQTTPublisher(mqttClient, cfg.Publish.MQTT.TopicPrefix, cfg.MQTT.QoS))
		}
	}

	s := newAcquisitionService(cfg, logger, deps)
	s.redis = redisClient
	s.mqttClient = mqttClient
	return s, nil
}

func newAcquisitionService(cfg *config.Config, logger *zap.Logger, deps Dependencies) *AcquisitionService {
	clk := deps.Clock
	if clk == nil {
		clk = clock.New()
	}

	schemas := models.DefaultSchemaTable()
	dialect := database.DialectFor(cfg.Database.Driver)

	s := &AcquisitionService{
		config:  cfg,
		logger:  logger,
		db:      deps.DB,
		decoder: decoder.New(schemas, cfg.Acquisition.TimestampLayout),
		queue:   queue.New(),
		opener:  deps.Opener,
		clock:   clk,
		readers: make(map[string]*reader.DeviceReader),
	}

	repo := repository.NewMeasurementRepository(deps.DB, dialect, schemas, cfg.Acquisition.TimestampLayout, logger.Named("repository"))
	fanout := publisher.NewFanout(logger.Named("publisher"), deps.Publishers...)
	s.monitor = hotplug.NewMonitor(deps.Discovery, s.startReader, cfg.Acquisition.HotplugInterval, clk, logger.Named("hotplug"))
	s.dispatcher = dispatcher.NewDispatcher(s.queue, schemas, repo, fanout, s.monitor, logger.Named("dispatcher"))
	return s
}

// Start 启动服务：先做一次设备发现，再启动分发循环
func (s *AcquisitionService) Start(ctx context.Context) error {
	s.logger.Info("Starting acquisition service components",
		zap.Int("baud_rate", s.config.Acquisition.BaudRate),
		zap.Duration("hotplug_interval", s.monitor.Interval()),
	)

	ctx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(ctx)
	readerCtx, cancelReaders := context.WithCancel(groupCtx)
	readerGroup, readerCtx := errgroup.WithContext(readerCtx)

	s.mu.Lock()
	s.group = group
	s.cancel = cancel
	s.readerGroup = readerGroup
	s.readerCtx = readerCtx
	s.cancelReaders = cancelReaders
	s.stopping = false
	s.mu.Unlock()

	started := s.monitor.Scan()
	if started == 0 {
		s.logger.Warn("No supported devices connected, waiting for hot-plug")
	}

	group.Go(func() error {
		return s.dispatcher.Run(groupCtx)
	})

	s.logger.Info("Acquisition service started successfully", zap.Int("devices", started))
	return nil
}

// startReader 为新设备启动读取器，由热插拔监视器调用
func (s *AcquisitionService) startReader(device models.DeviceDescriptor) {
	r := reader.NewDeviceReader(
		device,
		reader.Options{
			BaudRate: s.config.Acquisition.BaudRate,
			Backoff: reader.Backoff{
				Initial: s.config.Acquisition.BackoffInitial,
				Max:     s.config.Acquisition.BackoffMax,
			},
		},
		s.opener,
		s.decoder,
		s.clock,
		s.logger.Named("reader"),
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readerGroup == nil || s.stopping {
		return
	}
	s.readers[device.Key()] = r
	ctx := s.readerCtx
	s.readerGroup.Go(func() error {
		return r.Run(ctx, s.queue)
	})
}

// DeviceStates 各设备读取器当前状态
func (s *AcquisitionService) DeviceStates() map[string]reader.State {
	s.mu.Lock()
	defer s.mu.Unlock()

	states := make(map[string]reader.State, len(s.readers))
	for key, r := range s.readers {
		states[key] = r.State()
	}
	return states
}

// Stats 分发计数
func (s *AcquisitionService) Stats() dispatcher.Stats {
	return s.dispatcher.Stats()
}

// Stop 停止服务：先停读取器，再停分发循环（分发循环退出前写完已入队的记录），最后释放连接
func (s *AcquisitionService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping acquisition service")

	s.mu.Lock()
	s.stopping = true
	cancel, group := s.cancel, s.group
	cancelReaders, readerGroup := s.cancelReaders, s.readerGroup
	s.mu.Unlock()

	var errs error
	if cancel != nil {
		done := make(chan error, 1)
		go func() {
			cancelReaders()
			err := readerGroup.Wait()
			cancel()
			done <- multierr.Append(err, group.Wait())
		}()
		select {
		case err := <-done:
			errs = multierr.Append(errs, err)
		case <-ctx.Done():
			cancel()
			errs = multierr.Append(errs, fmt.Errorf("workers did not stop: %w", ctx.Err()))
		}
	}

	// 断开MQTT
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	// 关闭Redis
	if s.redis != nil {
		errs = multierr.Append(errs, rediscommon.Close(s.redis))
	}

	// 关闭数据库
	if s.db != nil {
		errs = multierr.Append(errs, database.Close(s.db))
	}

	stats := s.dispatcher.Stats()
	s.logger.Info("Acquisition service stopped",
		zap.Uint64("persisted", stats.Persisted),
		zap.Uint64("discarded", stats.Discarded),
		zap.Uint64("failed", stats.Failed),
		zap.Int("pending", s.queue.Len()),
	)
	return errs
}
