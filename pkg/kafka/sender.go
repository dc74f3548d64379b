package kafka

import (
	"context"
	"fmt"
	"time"
)

// Sender 异步消息发送器
// Send 只负责入队，投递结果通过 DeliveryHandler 异步回调
type Sender interface {
	Send(ctx context.Context, msg *Message) error
	Close() error
}

// DeliveryHandler 投递结果回调，err 为 nil 表示投递成功
// 回调在发送器内部协程中执行，不得阻塞
type DeliveryHandler func(msg *Message, err error)

// NewSender 按配置的驱动创建发送器
func NewSender(cfg *ProducerConfig, onDelivery DeliveryHandler) (Sender, error) {
	if cfg == nil {
		cfg = DefaultProducerConfig()
	}

	switch cfg.Driver {
	case "", DriverSarama:
		return NewProducer(cfg, onDelivery)
	case DriverKafkaGo:
		return NewWriter(cfg, onDelivery)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, cfg.Driver)
	}
}

// closeWithTimeout 在超时内执行关闭函数
func closeWithTimeout(timeout time.Duration, closeFn func() error) error {
	if timeout <= 0 {
		return closeFn()
	}

	done := make(chan error, 1)
	go func() {
		done <- closeFn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return ErrCloseTimeout
	}
}
