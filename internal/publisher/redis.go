package publisher

import (
	"context"

	rediscommon "airsense-acquisition/common/redis"
)

// RedisStreamPublisher 发布到 Redis Streams
type RedisStreamPublisher struct {
	client rediscommon.StreamAdder
	stream string
	maxLen int64
}

// NewRedisStreamPublisher 创建 Redis Streams 发布者，maxLen > 0 时近似裁剪
func NewRedisStreamPublisher(client rediscommon.StreamAdder, stream string, maxLen int64) *RedisStreamPublisher {
	return &RedisStreamPublisher{
		client: client,
		stream: stream,
		maxLen: maxLen,
	}
}

// Name 发布者名称
func (p *RedisStreamPublisher) Name() string {
	return "redis:" + p.stream
}

// Publish 以 {"data": <json>, "timestamp": <unix>} 写入流
func (p *RedisStreamPublisher) Publish(ctx context.Context, msg *Message) error {
	_, err := rediscommon.PublishJSONToStream(ctx, p.client, p.stream, p.maxLen, msg)
	return err
}
