package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-feedgen/pkg/logger"
)

// Writer 基于 kafka-go 异步 Writer 的生产者
// kafka-go 的 Writer 不支持逐条指定分区，分区提示被忽略，始终按 key 哈希
type Writer struct {
	config     *ProducerConfig
	writer     messageWriter
	onDelivery DeliveryHandler

	mu     sync.RWMutex
	closed bool
}

// messageWriter 抽象 *kafkago.Writer，便于测试
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// NewWriter 创建 kafka-go 异步生产者
func NewWriter(cfg *ProducerConfig, onDelivery DeliveryHandler) (*Writer, error) {
	if cfg == nil {
		cfg = DefaultProducerConfig()
	}

	if len(cfg.Brokers) == 0 {
		return nil, ErrBrokersRequired
	}

	kw, err := buildKafkaGoWriter(cfg)
	if err != nil {
		return nil, err
	}

	w := &Writer{
		config:     cfg,
		writer:     kw,
		onDelivery: onDelivery,
	}
	kw.Completion = w.complete

	logger.Info("kafka-go writer created",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("client_id", cfg.ClientID),
	)

	return w, nil
}

// buildKafkaGoWriter 构建 kafka-go Writer
func buildKafkaGoWriter(cfg *ProducerConfig) (*kafkago.Writer, error) {
	mechanism, err := kafkaGoMechanism(cfg.SASL)
	if err != nil {
		return nil, err
	}

	tlsConfig, err := buildTLSConfig(cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("build tls config failed: %w", err)
	}

	var compression kafkago.Compression
	switch cfg.Compression {
	case "gzip":
		compression = kafkago.Gzip
	case "snappy":
		compression = kafkago.Snappy
	case "lz4":
		compression = kafkago.Lz4
	case "zstd":
		compression = kafkago.Zstd
	}

	requiredAcks := kafkago.RequireAll
	switch cfg.RequiredAcks {
	case 0:
		requiredAcks = kafkago.RequireNone
	case 1:
		requiredAcks = kafkago.RequireOne
	}

	return &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Balancer:     &kafkago.Hash{},
		MaxAttempts:  cfg.Retry.Max + 1,
		BatchSize:    cfg.Batch.Size,
		BatchBytes:   int64(cfg.Batch.Bytes),
		BatchTimeout: cfg.Batch.Timeout,
		WriteTimeout: cfg.Timeout,
		RequiredAcks: requiredAcks,
		Compression:  compression,
		Async:        true,
		Transport: &kafkago.Transport{
			ClientID: cfg.ClientID,
			SASL:     mechanism,
			TLS:      tlsConfig,
		},
	}, nil
}

// Send 异步发送消息，Async 模式下 WriteMessages 只入队
func (w *Writer) Send(ctx context.Context, msg *Message) error {
	if err := validateMessage(msg); err != nil {
		return err
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return ErrProducerClosed
	}

	if err := w.writer.WriteMessages(ctx, toKafkaGoMessage(msg)); err != nil {
		return fmt.Errorf("enqueue message to %s: %w", msg.Topic, err)
	}
	return nil
}

// complete kafka-go 批次完成回调
func (w *Writer) complete(messages []kafkago.Message, err error) {
	if err != nil {
		logger.Warn("kafka-go batch send failed",
			zap.Int("count", len(messages)),
			zap.Error(err),
		)
	}

	if w.onDelivery == nil {
		return
	}
	for i := range messages {
		msg := fromKafkaGoMessage(messages[i])
		if err != nil {
			w.onDelivery(msg, NewSendError(msg.Topic, msg.Partition, err))
			continue
		}
		w.onDelivery(msg, nil)
	}
}

// Close 关闭 Writer，在 CloseTimeout 内等待未完成的投递
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	if err := closeWithTimeout(w.config.CloseTimeout, w.writer.Close); err != nil {
		return fmt.Errorf("close kafka-go writer failed: %w", err)
	}

	logger.Info("kafka-go writer closed")
	return nil
}

func toKafkaGoMessage(msg *Message) kafkago.Message {
	out := kafkago.Message{
		Topic: msg.Topic,
		Key:   msg.Key,
		Value: msg.Value,
		Time:  msg.Timestamp,
	}
	if len(msg.Headers) > 0 {
		out.Headers = make([]kafkago.Header, len(msg.Headers))
		for i, h := range msg.Headers {
			out.Headers[i] = kafkago.Header{Key: h.Key, Value: h.Value}
		}
	}
	return out
}

func fromKafkaGoMessage(m kafkago.Message) *Message {
	out := &Message{
		Topic:     m.Topic,
		Key:       m.Key,
		Value:     m.Value,
		Partition: int32(m.Partition),
		Timestamp: m.Time,
	}
	if out.Timestamp.IsZero() {
		out.Timestamp = time.Now()
	}
	for _, h := range m.Headers {
		out.Headers = append(out.Headers, Header{Key: h.Key, Value: h.Value})
	}
	return out
}
