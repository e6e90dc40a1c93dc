package redis

import (
	"context"
	"time"

	"airsense-acquisition/common/config"

	"github.com/go-redis/redis/v8"
)

// Client Redis客户端类型别名
type Client = redis.Client

// DefaultPingTimeout 启动时连接检查的超时
const DefaultPingTimeout = 3 * time.Second

// NewRedisClient 创建Redis客户端；采集端只做 XADD，连接池保持很小
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     2,
		MaxRetries:   1,
		DialTimeout:  DefaultPingTimeout,
		WriteTimeout: 2 * time.Second,
		ReadTimeout:  2 * time.Second,
	})
}

// Ping 在 timeout 内测试Redis连接，timeout <= 0 时使用 DefaultPingTimeout
func Ping(ctx context.Context, client *redis.Client, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultPingTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return client.Ping(ctx).Err()
}

// Close 关闭Redis连接
func Close(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
