package generator

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-feedgen/internal/metrics"
	"github.com/eidos-exchange/eidos/eidos-feedgen/pkg/kafka"
)

// Publisher 消息发布能力，kafka.Sender 即满足
type Publisher interface {
	Send(ctx context.Context, msg *kafka.Message) error
}

// EngineConfig 发布循环配置
type EngineConfig struct {
	// TickInterval 发布节拍
	TickInterval time.Duration
	// PublishTimeout 单次入队最长等待，需小于 TickInterval
	PublishTimeout time.Duration
	// Headers 附加到每条消息的头 (producer_id, worker_slot)
	Headers []kafka.Header
}

// DefaultEngineConfig 默认配置
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		TickInterval:   1000 * time.Millisecond,
		PublishTimeout: 200 * time.Millisecond,
	}
}

// Engine 固定节拍的发布循环
// 入队失败只记录并丢弃当前 tick，不重试，循环继续
type Engine struct {
	config EngineConfig
	gen    Generator
	pub    Publisher
	logger *zap.Logger
	role   string
}

// NewEngine 创建发布循环
func NewEngine(gen Generator, pub Publisher, config EngineConfig, logger *zap.Logger) *Engine {
	defaults := DefaultEngineConfig()
	if config.TickInterval <= 0 {
		config.TickInterval = defaults.TickInterval
	}
	if config.PublishTimeout <= 0 || config.PublishTimeout >= config.TickInterval {
		config.PublishTimeout = config.TickInterval / 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		config: config,
		gen:    gen,
		pub:    pub,
		logger: logger.Named("engine"),
		role:   gen.Role().String(),
	}
}

// Run 运行发布循环直到 ctx 取消
// 第一条事件在一个节拍之后发出
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.config.TickInterval)
	defer ticker.Stop()

	e.logger.Info("publish loop started",
		zap.String("role", e.role),
		zap.String("asset", e.gen.Asset()),
		zap.Duration("tick_interval", e.config.TickInterval),
		zap.Duration("publish_timeout", e.config.PublishTimeout))

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("publish loop stopped", zap.String("role", e.role))
			return nil
		case <-ticker.C:
			_ = e.Tick(ctx)
		}
	}
}

// Tick 生成并发布一条事件
// 返回值仅供观测，调用方不应据此重试
func (e *Engine) Tick(ctx context.Context) error {
	msg, err := e.gen.Next()
	if errors.Is(err, ErrNothingToPublish) {
		metrics.RecordSkippedTick(e.role, "empty_universe")
		e.logger.Debug("tick skipped, nothing to publish", zap.String("role", e.role))
		return nil
	}
	if err != nil {
		metrics.RecordSkippedTick(e.role, "generate_error")
		e.logger.Error("generate event failed", zap.String("role", e.role), zap.Error(err))
		return err
	}
	msg.Headers = append(msg.Headers, e.config.Headers...)

	pubCtx, cancel := context.WithTimeout(ctx, e.config.PublishTimeout)
	defer cancel()

	start := time.Now()
	if err := e.pub.Send(pubCtx, msg); err != nil {
		metrics.RecordEnqueueFailure(e.role)
		e.logger.Warn("publish failed, event dropped",
			zap.String("role", e.role),
			zap.String("topic", msg.Topic),
			zap.ByteString("key", msg.Key),
			zap.Error(err))
		return err
	}
	metrics.RecordEvent(e.role, e.gen.Asset(), time.Since(start).Seconds())
	return nil
}
