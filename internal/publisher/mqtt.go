package publisher

import (
	"context"
	"strings"
)

// MQTTSender MQTT 发布的最小接口（*common/mqtt.Client 满足）
type MQTTSender interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// MQTTPublisher 发布到 <prefix>/<serial>/<sensor>
type MQTTPublisher struct {
	client MQTTSender
	prefix string
	qos    byte
}

// NewMQTTPublisher 创建 MQTT 发布者
func NewMQTTPublisher(client MQTTSender, topicPrefix string, qos byte) *MQTTPublisher {
	return &MQTTPublisher{
		client: client,
		prefix: strings.TrimSuffix(topicPrefix, "/"),
		qos:    qos,
	}
}

// Name 发布者名称
func (p *MQTTPublisher) Name() string {
	return "mqtt:" + p.prefix
}

// Topic 记录对应的主题
func (p *MQTTPublisher) Topic(msg *Message) string {
	return p.prefix + "/" + topicSegment(msg.SerialNumber) + "/" + msg.Sensor
}

// Publish 发布 JSON 消息
func (p *MQTTPublisher) Publish(_ context.Context, msg *Message) error {
	payload, err := msg.JSON()
	if err != nil {
		return err
	}
	return p.client.Publish(p.Topic(msg), p.qos, false, payload)
}

// topicSegment 序列号来自设备，去掉 MQTT 通配符和层级分隔符
func topicSegment(s string) string {
	r := strings.NewReplacer("/", "_", "+", "_", "#", "_")
	if s == "" {
		return "_"
	}
	return r.Replace(s)
}
