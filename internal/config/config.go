package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"airsense-acquisition/common/config"
	"airsense-acquisition/internal/models"

	"github.com/google/uuid"
)

// Config 采集服务与读取接口配置，启动时加载一次后显式传递
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	// 采集配置
	Acquisition struct {
		BaudRate        int
		AllowedDevices  models.AllowList
		HotplugInterval time.Duration
		BackoffInitial  time.Duration
		BackoffMax      time.Duration
		TimestampLayout string
	}

	// 提交后转发
	Publish struct {
		Redis struct {
			Enabled bool
			Stream  string
			MaxLen  int64
		}
		MQTT struct {
			Enabled     bool
			TopicPrefix string
		}
	}

	// 读取接口
	API struct {
		Addr           string
		PlacementsFile string
		Window         time.Duration
		RowLimit       int
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// 从环境变量加载（默认值）
	cfg.Database.Driver = getEnv("DB_DRIVER", config.DriverPostgres)
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = 5432
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "airsense")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = 5
	cfg.Database.MaxIdle = 2
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = 0
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	// 同一 broker 上可能有多台采集主机，默认 client id 带随机后缀
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "airsense-acquisition-"+uuid.NewString()[:8])
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.LoadFromEnv("MQTT")

	// 采集配置
	if cfg.Acquisition.BaudRate, err = getEnvInt("ACQ_BAUD_RATE", 115200); err != nil {
		return nil, err
	}
	// QT Py SAMD21
	if cfg.Acquisition.AllowedDevices, err = models.ParseAllowList(getEnv("ACQ_ALLOWED_DEVICES", "239a:80cb")); err != nil {
		return nil, fmt.Errorf("invalid ACQ_ALLOWED_DEVICES: %w", err)
	}
	if len(cfg.Acquisition.AllowedDevices) == 0 {
		return nil, fmt.Errorf("ACQ_ALLOWED_DEVICES must list at least one vid:pid")
	}
	if cfg.Acquisition.HotplugInterval, err = getEnvDuration("ACQ_HOTPLUG_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.Acquisition.BackoffInitial, err = getEnvDuration("ACQ_BACKOFF_INITIAL", time.Second); err != nil {
		return nil, err
	}
	if cfg.Acquisition.BackoffMax, err = getEnvDuration("ACQ_BACKOFF_MAX", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.Acquisition.BackoffMax < cfg.Acquisition.BackoffInitial {
		cfg.Acquisition.BackoffMax = cfg.Acquisition.BackoffInitial
	}
	cfg.Acquisition.TimestampLayout = getEnv("ACQ_TIMESTAMP_FORMAT", "2006-01-02 15:04:05")

	// 转发配置
	cfg.Publish.Redis.Enabled = getEnvBool("PUBLISH_REDIS_ENABLED", false)
	cfg.Publish.Redis.Stream = getEnv("PUBLISH_REDIS_STREAM", "airsense:records")
	maxLen, err := getEnvInt("PUBLISH_REDIS_MAXLEN", 10000)
	if err != nil {
		return nil, err
	}
	cfg.Publish.Redis.MaxLen = int64(maxLen)
	cfg.Publish.MQTT.Enabled = getEnvBool("PUBLISH_MQTT_ENABLED", false)
	cfg.Publish.MQTT.TopicPrefix = getEnv("PUBLISH_MQTT_TOPIC_PREFIX", "airsense")

	// 读取接口配置
	cfg.API.Addr = getEnv("API_ADDR", ":8080")
	cfg.API.PlacementsFile = getEnv("API_PLACEMENTS_FILE", "placements.csv")
	if cfg.API.Window, err = getEnvDuration("API_WINDOW", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.API.RowLimit, err = getEnvInt("API_ROW_LIMIT", 3); err != nil {
		return nil, err
	}

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

func getEnvBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}
