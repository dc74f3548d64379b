package kafka

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-feedgen/pkg/logger"
)

// Producer 基于 sarama AsyncProducer 的异步生产者
type Producer struct {
	config     *ProducerConfig
	producer   sarama.AsyncProducer
	onDelivery DeliveryHandler

	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool

	metrics ProducerMetrics
}

// ProducerMetrics 生产者指标
type ProducerMetrics struct {
	MessagesSent      int64
	MessagesSucceeded int64
	MessagesFailed    int64
	BytesSent         int64
}

// NewProducer 创建 sarama 异步生产者
func NewProducer(cfg *ProducerConfig, onDelivery DeliveryHandler) (*Producer, error) {
	if cfg == nil {
		cfg = DefaultProducerConfig()
	}

	if len(cfg.Brokers) == 0 {
		return nil, ErrBrokersRequired
	}

	saramaConfig, err := buildSaramaProducerConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("build sarama config failed: %w", err)
	}

	asyncProducer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("create async producer failed: %w", err)
	}

	p := newProducer(cfg, asyncProducer, onDelivery)

	logger.Info("kafka producer created",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("client_id", cfg.ClientID),
		zap.Int("required_acks", cfg.RequiredAcks),
	)

	return p, nil
}

func newProducer(cfg *ProducerConfig, asyncProducer sarama.AsyncProducer, onDelivery DeliveryHandler) *Producer {
	p := &Producer{
		config:     cfg,
		producer:   asyncProducer,
		onDelivery: onDelivery,
	}

	// 必须持续消费 Successes/Errors，否则 sarama 内部会阻塞
	p.wg.Add(2)
	go p.handleSuccesses()
	go p.handleErrors()

	return p
}

// buildSaramaProducerConfig 构建 Sarama 生产者配置
func buildSaramaProducerConfig(cfg *ProducerConfig) (*sarama.Config, error) {
	saramaConfig := sarama.NewConfig()

	if cfg.Version != "" {
		version, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return nil, fmt.Errorf("parse kafka version failed: %w", err)
		}
		saramaConfig.Version = version
	}

	if cfg.ClientID != "" {
		saramaConfig.ClientID = cfg.ClientID
	}

	switch cfg.RequiredAcks {
	case 0:
		saramaConfig.Producer.RequiredAcks = sarama.NoResponse
	case 1:
		saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	default:
		saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	}

	saramaConfig.Producer.Partitioner = newHintPartitioner

	// 批量配置
	saramaConfig.Producer.Flush.Messages = cfg.Batch.Size
	saramaConfig.Producer.Flush.Bytes = cfg.Batch.Bytes
	saramaConfig.Producer.Flush.Frequency = cfg.Batch.Timeout

	saramaConfig.Producer.Retry.Max = cfg.Retry.Max
	saramaConfig.Producer.Retry.Backoff = cfg.Retry.Backoff

	switch cfg.Compression {
	case "gzip":
		saramaConfig.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		saramaConfig.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		saramaConfig.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		saramaConfig.Producer.Compression = sarama.CompressionZSTD
	default:
		saramaConfig.Producer.Compression = sarama.CompressionNone
	}

	if cfg.MaxMessageBytes > 0 {
		saramaConfig.Producer.MaxMessageBytes = cfg.MaxMessageBytes
	}
	if cfg.Timeout > 0 {
		saramaConfig.Producer.Timeout = cfg.Timeout
	}
	if cfg.ChannelBufferSize > 0 {
		saramaConfig.ChannelBufferSize = cfg.ChannelBufferSize
	}

	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true

	if err := applySaramaSASL(cfg.SASL, saramaConfig); err != nil {
		return nil, err
	}

	tlsConfig, err := buildTLSConfig(cfg.TLS)
	if err != nil {
		return nil, fmt.Errorf("build tls config failed: %w", err)
	}
	if tlsConfig != nil {
		saramaConfig.Net.TLS.Enable = true
		saramaConfig.Net.TLS.Config = tlsConfig
	}

	return saramaConfig, nil
}

// Send 异步发送消息
// 仅等待入队，入队等待受 ctx 约束；投递结果由 DeliveryHandler 回调
func (p *Producer) Send(ctx context.Context, msg *Message) error {
	if err := validateMessage(msg); err != nil {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}

	select {
	case p.producer.Input() <- p.buildProducerMessage(msg):
		atomic.AddInt64(&p.metrics.MessagesSent, 1)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("enqueue message to %s: %w", msg.Topic, ctx.Err())
	}
}

// handleSuccesses 处理投递成功的消息
func (p *Producer) handleSuccesses() {
	defer p.wg.Done()

	for success := range p.producer.Successes() {
		atomic.AddInt64(&p.metrics.MessagesSucceeded, 1)
		if success.Value != nil {
			atomic.AddInt64(&p.metrics.BytesSent, int64(success.Value.Length()))
		}

		logger.Debug("kafka message sent",
			zap.String("topic", success.Topic),
			zap.Int32("partition", success.Partition),
			zap.Int64("offset", success.Offset),
		)

		if p.onDelivery != nil {
			p.onDelivery(sourceMessage(success), nil)
		}
	}
}

// handleErrors 处理投递失败的消息，不重发
func (p *Producer) handleErrors() {
	defer p.wg.Done()

	for perr := range p.producer.Errors() {
		atomic.AddInt64(&p.metrics.MessagesFailed, 1)

		sendErr := NewSendError(perr.Msg.Topic, perr.Msg.Partition, perr.Err)
		logger.Warn("kafka message send failed",
			zap.String("topic", perr.Msg.Topic),
			zap.Error(perr.Err),
		)

		if p.onDelivery != nil {
			p.onDelivery(sourceMessage(perr.Msg), sendErr)
		}
	}
}

// buildProducerMessage 构建 Sarama 消息，原始消息挂在 Metadata 上供回调使用
func (p *Producer) buildProducerMessage(msg *Message) *sarama.ProducerMessage {
	producerMsg := &sarama.ProducerMessage{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Timestamp: msg.Timestamp,
		Metadata:  msg,
	}

	if msg.Key != nil {
		producerMsg.Key = sarama.ByteEncoder(msg.Key)
	}

	if msg.Value != nil {
		producerMsg.Value = sarama.ByteEncoder(msg.Value)
	}

	if len(msg.Headers) > 0 {
		headers := make([]sarama.RecordHeader, len(msg.Headers))
		for i, h := range msg.Headers {
			headers[i] = sarama.RecordHeader{
				Key:   []byte(h.Key),
				Value: h.Value,
			}
		}
		producerMsg.Headers = headers
	}

	return producerMsg
}

func sourceMessage(pm *sarama.ProducerMessage) *Message {
	if msg, ok := pm.Metadata.(*Message); ok {
		return msg
	}
	return &Message{Topic: pm.Topic, Partition: pm.Partition}
}

// Metrics 获取指标快照
func (p *Producer) Metrics() ProducerMetrics {
	return ProducerMetrics{
		MessagesSent:      atomic.LoadInt64(&p.metrics.MessagesSent),
		MessagesSucceeded: atomic.LoadInt64(&p.metrics.MessagesSucceeded),
		MessagesFailed:    atomic.LoadInt64(&p.metrics.MessagesFailed),
		BytesSent:         atomic.LoadInt64(&p.metrics.BytesSent),
	}
}

// Close 关闭生产者，在 CloseTimeout 内等待未完成的投递
func (p *Producer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	err := closeWithTimeout(p.config.CloseTimeout, func() error {
		// 关闭生产者会关闭 Successes 和 Errors channel
		closeErr := p.producer.Close()
		p.wg.Wait()
		return closeErr
	})
	if err != nil {
		return fmt.Errorf("close kafka producer failed: %w", err)
	}

	m := p.Metrics()
	logger.Info("kafka producer closed",
		zap.Int64("messages_sent", m.MessagesSent),
		zap.Int64("messages_succeeded", m.MessagesSucceeded),
		zap.Int64("messages_failed", m.MessagesFailed),
	)

	return nil
}
