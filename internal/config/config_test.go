package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"DB_DRIVER", "DB_HOST", "DB_PORT", "DB_NAME",
	"REDIS_ADDR", "MQTT_BROKER", "MQTT_CLIENT_ID", "MQTT_QOS",
	"ACQ_BAUD_RATE", "ACQ_ALLOWED_DEVICES", "ACQ_HOTPLUG_INTERVAL", "ACQ_BACKOFF_INITIAL", "ACQ_BACKOFF_MAX",
	"ACQ_TIMESTAMP_FORMAT", "PUBLISH_REDIS_ENABLED", "PUBLISH_MQTT_ENABLED", "PUBLISH_MQTT_TOPIC_PREFIX",
	"API_ADDR", "API_WINDOW", "API_ROW_LIMIT", "LOG_LEVEL", "LOG_FORMAT",
}

// clearEnv 清除相关环境变量（测试结束后自动恢复）
func clearEnv(t *testing.T) {
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	// 验证默认值
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "airsense", cfg.Database.Database)

	assert.True(t, strings.HasPrefix(cfg.MQTT.ClientID, "airsense-acquisition-"))
	assert.Len(t, cfg.MQTT.ClientID, len("airsense-acquisition-")+8)

	assert.Equal(t, 115200, cfg.Acquisition.BaudRate)
	assert.True(t, cfg.Acquisition.AllowedDevices.Allows(0x239a, 0x80cb))
	assert.Len(t, cfg.Acquisition.AllowedDevices, 1)
	assert.Equal(t, 5*time.Second, cfg.Acquisition.HotplugInterval)
	assert.Equal(t, time.Second, cfg.Acquisition.BackoffInitial)
	assert.Equal(t, 30*time.Second, cfg.Acquisition.BackoffMax)
	assert.Equal(t, "2006-01-02 15:04:05", cfg.Acquisition.TimestampLayout)

	assert.False(t, cfg.Publish.Redis.Enabled)
	assert.False(t, cfg.Publish.MQTT.Enabled)
	assert.Equal(t, "airsense", cfg.Publish.MQTT.TopicPrefix)

	assert.Equal(t, ":8080", cfg.API.Addr)
	assert.Equal(t, 5*time.Minute, cfg.API.Window)
	assert.Equal(t, 3, cfg.API.RowLimit)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_NAME", "/var/lib/airsense/data.db")
	t.Setenv("DB_PORT", "5433")
	t.Setenv("MQTT_QOS", "1")
	t.Setenv("ACQ_BAUD_RATE", "9600")
	t.Setenv("ACQ_ALLOWED_DEVICES", "239a:80cb, 0x2341:0x0043")
	t.Setenv("ACQ_HOTPLUG_INTERVAL", "2s")
	t.Setenv("ACQ_BACKOFF_MAX", "10s")
	t.Setenv("PUBLISH_MQTT_ENABLED", "true")
	t.Setenv("API_ROW_LIMIT", "5")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/var/lib/airsense/data.db", cfg.Database.GetDSN())
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.Equal(t, 9600, cfg.Acquisition.BaudRate)
	assert.True(t, cfg.Acquisition.AllowedDevices.Allows(0x2341, 0x0043))
	assert.Equal(t, 2*time.Second, cfg.Acquisition.HotplugInterval)
	assert.Equal(t, 10*time.Second, cfg.Acquisition.BackoffMax)
	assert.True(t, cfg.Publish.MQTT.Enabled)
	assert.Equal(t, 5, cfg.API.RowLimit)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_InvalidValues(t *testing.T) {
	cases := map[string]string{
		"ACQ_BAUD_RATE":        "fast",
		"ACQ_ALLOWED_DEVICES":  "239a",
		"ACQ_HOTPLUG_INTERVAL": "-1s",
		"API_WINDOW":           "five minutes",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoad_BackoffMaxNotBelowInitial(t *testing.T) {
	clearEnv(t)
	t.Setenv("ACQ_BACKOFF_INITIAL", "5s")
	t.Setenv("ACQ_BACKOFF_MAX", "1s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Acquisition.BackoffMax)
}
