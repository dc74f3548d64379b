// Package kafka 提供 Kafka 异步生产者的封装实现
// 支持 sarama 与 kafka-go 两种驱动、SASL/TLS 认证、投递结果回调
package kafka

import "time"

// 驱动名称
const (
	DriverSarama  = "sarama"
	DriverKafkaGo = "kafka-go"
)

// 安全协议 (与 librdkafka security.protocol 取值一致)
const (
	ProtocolPlaintext     = "PLAINTEXT"
	ProtocolSSL           = "SSL"
	ProtocolSASLPlaintext = "SASL_PLAINTEXT"
	ProtocolSASLSSL       = "SASL_SSL"
)

// SASL 认证机制
const (
	MechanismPlain       = "PLAIN"
	MechanismSCRAMSHA256 = "SCRAM-SHA-256"
	MechanismSCRAMSHA512 = "SCRAM-SHA-512"
)

// Config 连接配置，sarama 与 kafka-go 共用
type Config struct {
	Brokers  []string    `yaml:"brokers" json:"brokers"`
	ClientID string      `yaml:"client_id" json:"client_id"` // 每个 worker 独立
	Version  string      `yaml:"version" json:"version"`     // 仅 sarama 使用
	SASL     *SASLConfig `yaml:"sasl" json:"sasl"`           // nil 不认证
	TLS      *TLSConfig  `yaml:"tls" json:"tls"`             // nil 明文
}

// SASLConfig 认证参数，Mechanism 为空时按 PLAIN 处理
type SASLConfig struct {
	Enable    bool   `yaml:"enable" json:"enable"`
	Mechanism string `yaml:"mechanism" json:"mechanism"`
	Username  string `yaml:"username" json:"username"`
	Password  string `yaml:"password" json:"-"`
}

// TLSConfig 证书路径均可为空，为空时使用系统根证书且不做双向认证
type TLSConfig struct {
	Enable             bool   `yaml:"enable" json:"enable"`
	CAFile             string `yaml:"ca_file" json:"ca_file"`
	CertFile           string `yaml:"cert_file" json:"cert_file"`
	KeyFile            string `yaml:"key_file" json:"key_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" json:"insecure_skip_verify"`
}

// ProducerConfig 生产者配置
type ProducerConfig struct {
	Config `yaml:",inline"`

	Driver string `yaml:"driver" json:"driver"` // sarama | kafka-go

	// 0 不等待, 1 leader 写入, -1 全部 ISR
	RequiredAcks int `yaml:"required_acks" json:"required_acks"`
	// none | gzip | snappy | lz4 | zstd
	Compression string `yaml:"compression" json:"compression"`

	Batch BatchConfig `yaml:"batch" json:"batch"`
	// 只影响客户端内部的重发，业务层不重发被丢弃的事件
	Retry RetryConfig `yaml:"retry" json:"retry"`

	MaxMessageBytes   int           `yaml:"max_message_bytes" json:"max_message_bytes"`
	ChannelBufferSize int           `yaml:"channel_buffer_size" json:"channel_buffer_size"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`             // broker 请求超时
	CloseTimeout      time.Duration `yaml:"close_timeout" json:"close_timeout"` // 关闭时冲刷上限
}

// BatchConfig 攒批阈值，任一条件满足即发送
type BatchConfig struct {
	Size    int           `yaml:"size" json:"size"`
	Bytes   int           `yaml:"bytes" json:"bytes"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// RetryConfig 客户端重发
type RetryConfig struct {
	Max     int           `yaml:"max" json:"max"`
	Backoff time.Duration `yaml:"backoff" json:"backoff"`
}

// DefaultProducerConfig 默认生产者配置
// 合成行情允许少量丢失，默认 leader 确认、不启用幂等
func DefaultProducerConfig() *ProducerConfig {
	const oneMB = 1 << 20
	return &ProducerConfig{
		Config:       Config{Version: "2.8.0"},
		Driver:       DriverSarama,
		RequiredAcks: 1,
		Compression:  "snappy",
		Batch: BatchConfig{
			Size:    100,
			Bytes:   oneMB,
			Timeout: 10 * time.Millisecond,
		},
		Retry:             RetryConfig{Max: 3, Backoff: 100 * time.Millisecond},
		MaxMessageBytes:   oneMB,
		ChannelBufferSize: 256,
		Timeout:           10 * time.Second,
		CloseTimeout:      5 * time.Second,
	}
}
