// Package publisher 把已提交的记录转发到 Redis Streams / MQTT。
// 发布是尽力而为的：失败只记录日志，不影响落库。
package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"airsense-acquisition/internal/models"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Publisher 记录发布者
type Publisher interface {
	Publish(ctx context.Context, msg *Message) error
	Name() string
}

// Message 发布的消息体
type Message struct {
	RecordID     string             `json:"record_id"`
	Sensor       string             `json:"sensor"`
	SerialNumber string             `json:"serial_number"`
	Timestamp    string             `json:"ts"`
	Values       map[string]float64 `json:"values"`
	Telemetry    map[string]float64 `json:"telemetry,omitempty"`
	Source       string             `json:"source,omitempty"`
}

// NewMessage 由记录构建消息，每条消息分配一个 record_id
func NewMessage(rec models.Record) *Message {
	return &Message{
		RecordID:     uuid.New().String(),
		Sensor:       rec.Kind.String(),
		SerialNumber: rec.SerialNumber,
		Timestamp:    rec.Timestamp,
		Values:       rec.Values,
		Telemetry:    rec.Telemetry,
		Source:       rec.Source,
	}
}

// JSON 序列化
func (m *Message) JSON() ([]byte, error) {
	return json.Marshal(m)
}

// Fanout 依次发布到所有发布者，不因单个失败中断
type Fanout struct {
	publishers []Publisher
	logger     *zap.Logger
}

// NewFanout 创建 Fanout；没有发布者时 Publish 是空操作
func NewFanout(logger *zap.Logger, publishers ...Publisher) *Fanout {
	return &Fanout{
		publishers: publishers,
		logger:     logger,
	}
}

// Len 发布者数量
func (f *Fanout) Len() int {
	return len(f.publishers)
}

// Publish 发布记录，返回所有失败的合并错误
func (f *Fanout) Publish(ctx context.Context, rec models.Record) error {
	if len(f.publishers) == 0 {
		return nil
	}

	msg := NewMessage(rec)
	var errs error
	for _, p := range f.publishers {
		if err := p.Publish(ctx, msg); err != nil {
			f.logger.Warn("Failed to publish record",
				zap.String("publisher", p.Name()),
				zap.String("record_id", msg.RecordID),
				zap.String("serial_number", msg.SerialNumber),
				zap.Error(err),
			)
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		f.logger.Debug("Published record",
			zap.String("publisher", p.Name()),
			zap.String("record_id", msg.RecordID),
		)
	}
	return errs
}
