package kafka

import (
	"errors"
	"fmt"
)

// 预定义错误
var (
	// ErrProducerClosed 生产者已关闭
	ErrProducerClosed = errors.New("kafka producer is closed")
	// ErrMessageNil 消息为空
	ErrMessageNil = errors.New("message is nil")
	// ErrTopicRequired 主题必填
	ErrTopicRequired = errors.New("topic is required")
	// ErrBrokersRequired brokers 必填
	ErrBrokersRequired = errors.New("kafka brokers is required")
	// ErrUnknownDriver 未知驱动
	ErrUnknownDriver = errors.New("unknown kafka driver")
	// ErrCloseTimeout 关闭超时，仍有未完成投递
	ErrCloseTimeout = errors.New("kafka producer close timeout")
)

// SendError 投递错误
type SendError struct {
	Topic     string
	Partition int32
	Err       error
}

// Error 实现 error 接口
func (e *SendError) Error() string {
	return fmt.Sprintf("send to topic %s partition %d failed: %v", e.Topic, e.Partition, e.Err)
}

// Unwrap 返回原始错误
func (e *SendError) Unwrap() error {
	return e.Err
}

// NewSendError 创建投递错误
func NewSendError(topic string, partition int32, err error) *SendError {
	return &SendError{
		Topic:     topic,
		Partition: partition,
		Err:       err,
	}
}

func validateMessage(msg *Message) error {
	if msg == nil {
		return ErrMessageNil
	}
	if msg.Topic == "" {
		return ErrTopicRequired
	}
	return nil
}
