// Package worker 运行单个槽位的发布循环，并提供协程与子进程两种启动方式
package worker

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-feedgen/internal/config"
	"github.com/eidos-exchange/eidos/eidos-feedgen/internal/generator"
	"github.com/eidos-exchange/eidos/eidos-feedgen/internal/metrics"
	"github.com/eidos-exchange/eidos/eidos-feedgen/internal/model"
	"github.com/eidos-exchange/eidos/eidos-feedgen/internal/partition"
	"github.com/eidos-exchange/eidos/eidos-feedgen/pkg/kafka"
)

// SenderFactory 创建 worker 独占的发送器
type SenderFactory func(cfg *kafka.ProducerConfig, onDelivery kafka.DeliveryHandler) (kafka.Sender, error)

type workerIDKey struct{}

// WithWorkerID 将 worker 实例 ID 写入 ctx
func WithWorkerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, workerIDKey{}, id)
}

// WorkerIDFromContext 读取 worker 实例 ID，不存在时生成新的
func WorkerIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(workerIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// Runner 按槽位号运行 worker
// 角色只由槽位号和 worker 数量决定，重启后的实例不需要任何额外状态
type Runner struct {
	cfg       *config.Config
	plan      *partition.Plan
	newSender SenderFactory
	logger    *zap.Logger
}

// NewRunner 创建 Runner
func NewRunner(cfg *config.Config, plan *partition.Plan, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:       cfg,
		plan:      plan,
		newSender: kafka.NewSender,
		logger:    logger,
	}
}

// Run 运行槽位 worker 直到 ctx 取消
// 每个 worker 创建独立的 broker 连接，退出时关闭并在超时内冲刷未完成投递
func (r *Runner) Run(ctx context.Context, slotIndex int) error {
	slot, err := r.plan.Slot(slotIndex)
	if err != nil {
		return err
	}

	workerID := WorkerIDFromContext(ctx)
	role := slot.Role.String()
	log := r.logger.With(
		zap.Int("slot", slot.Index),
		zap.String("role", role),
		zap.String("asset", slot.Asset),
		zap.String("worker_id", workerID))

	gen, err := generator.New(slot, r.plan, generator.Options{
		TriggerTopic:   r.cfg.Topics.Active,
		OrderbookTopic: r.cfg.Topics.Orderbook,
		ValueMode:      generator.ValueMode(r.cfg.Generator.OrderbookValueMode),
		Rand:           generator.NewRand(r.cfg.Generator.Seed),
	})
	if err != nil {
		return fmt.Errorf("create generator for slot %d: %w", slot.Index, err)
	}

	clientID := fmt.Sprintf("%s-worker-%d", r.cfg.Kafka.GroupID, slot.Index)
	sender, err := r.newSender(r.cfg.ProducerConfig(clientID), func(msg *kafka.Message, err error) {
		metrics.RecordDelivery(role, msg.Topic, err)
		if err != nil {
			log.Warn("delivery failed",
				zap.String("topic", msg.Topic),
				zap.ByteString("key", msg.Key),
				zap.Error(err))
			return
		}
		log.Debug("delivered",
			zap.String("topic", msg.Topic),
			zap.ByteString("key", msg.Key),
			zap.Int32("partition", msg.Partition))
	})
	if err != nil {
		return fmt.Errorf("create producer for slot %d: %w", slot.Index, err)
	}
	defer func() {
		if err := sender.Close(); err != nil {
			log.Warn("close producer failed", zap.Error(err))
		}
	}()

	engine := generator.NewEngine(gen, sender, generator.EngineConfig{
		TickInterval:   r.cfg.Generator.TickInterval,
		PublishTimeout: r.cfg.Generator.PublishTimeout,
		Headers: []kafka.Header{
			{Key: model.HeaderProducerID, Value: []byte(workerID)},
			{Key: model.HeaderWorkerSlot, Value: []byte(strconv.Itoa(slot.Index))},
		},
	}, log)

	log.Info("worker started", zap.String("client_id", clientID))
	return engine.Run(ctx)
}
