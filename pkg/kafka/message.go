package kafka

import (
	"encoding/json"
	"fmt"
	"time"
)

// PartitionAny 由 broker 客户端按 key 选择分区
const PartitionAny int32 = -1

// Header 消息头
type Header struct {
	Key   string
	Value []byte
}

// Message Kafka 消息
type Message struct {
	// Topic 主题
	Topic string
	// Key 消息键 (用于分区路由)
	Key []byte
	// Value 消息值
	Value []byte
	// Headers 消息头
	Headers []Header
	// Partition 分区提示，-1 表示自动选择
	Partition int32
	// Timestamp 消息时间戳
	Timestamp time.Time
}

// Header 按名称查找消息头
func (m *Message) Header(key string) ([]byte, bool) {
	for _, h := range m.Headers {
		if h.Key == key {
			return h.Value, true
		}
	}
	return nil, false
}

// MessageBuilder 消息构建器
type MessageBuilder struct {
	msg   *Message
	value interface{}
}

// NewMessageBuilder 创建消息构建器
func NewMessageBuilder() *MessageBuilder {
	return &MessageBuilder{
		msg: &Message{
			Partition: PartitionAny,
			Timestamp: time.Now(),
		},
	}
}

// WithTopic 设置主题
func (b *MessageBuilder) WithTopic(topic string) *MessageBuilder {
	b.msg.Topic = topic
	return b
}

// WithKey 设置键
func (b *MessageBuilder) WithKey(key string) *MessageBuilder {
	b.msg.Key = []byte(key)
	return b
}

// WithValue 设置值，Build 时以 JSON 序列化
func (b *MessageBuilder) WithValue(value interface{}) *MessageBuilder {
	b.value = value
	return b
}

// WithHeaderString 添加字符串消息头
func (b *MessageBuilder) WithHeaderString(key, value string) *MessageBuilder {
	b.msg.Headers = append(b.msg.Headers, Header{Key: key, Value: []byte(value)})
	return b
}

// Build 序列化并返回消息
func (b *MessageBuilder) Build() (*Message, error) {
	if b.value != nil {
		data, err := json.Marshal(b.value)
		if err != nil {
			return nil, fmt.Errorf("marshal message value: %w", err)
		}
		b.msg.Value = data
	}
	if err := validateMessage(b.msg); err != nil {
		return nil, err
	}
	return b.msg, nil
}
