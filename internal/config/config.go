// Package config 加载 feedgen 服务配置
//
// 加载顺序: 默认值 -> .env 文件 -> YAML 文件 (支持 ${VAR:DEFAULT}) -> 环境变量覆盖 -> 校验。
// 校验失败属于致命错误，进程应在启动任何 worker 之前退出。
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/eidos-exchange/eidos/eidos-feedgen/internal/generator"
	"github.com/eidos-exchange/eidos/eidos-feedgen/internal/partition"
	pkgconfig "github.com/eidos-exchange/eidos/eidos-feedgen/pkg/config"
	"github.com/eidos-exchange/eidos/eidos-feedgen/pkg/kafka"
	"github.com/eidos-exchange/eidos/eidos-feedgen/pkg/logger"
)

const maxPort = 65535

// worker 运行模式
const (
	WorkerModeGoroutine = "goroutine"
	WorkerModeProcess   = "process"
)

type Config struct {
	Service   ServiceConfig   `yaml:"service" json:"service"`
	Kafka     KafkaConfig     `yaml:"kafka" json:"kafka"`
	Topics    TopicsConfig    `yaml:"topics" json:"topics"`
	Generator GeneratorConfig `yaml:"generator" json:"generator"`
	Worker    WorkerConfig    `yaml:"worker" json:"worker"`
	Log       logger.Config   `yaml:"log" json:"log"`
}

type ServiceConfig struct {
	Name     string `yaml:"name" json:"name"`
	Env      string `yaml:"env" json:"env"`
	HTTPPort int    `yaml:"http_port" json:"http_port"` // 0 关闭管理端口
	// StatusReport worker 状态汇总日志的 cron 表达式 (支持秒)，为空关闭
	StatusReport string `yaml:"status_report" json:"status_report"`
}

type KafkaConfig struct {
	Driver           string          `yaml:"driver" json:"driver"`
	Brokers          []string        `yaml:"brokers" json:"brokers"`
	GroupID          string          `yaml:"group_id" json:"group_id"`
	SecurityProtocol string          `yaml:"security_protocol" json:"security_protocol"`
	SASL             SASLConfig      `yaml:"sasl" json:"sasl"`
	TLS              kafka.TLSConfig `yaml:"tls" json:"tls"`
	Producer         ProducerConfig  `yaml:"producer" json:"producer"`
}

type SASLConfig struct {
	Mechanism string `yaml:"mechanism" json:"mechanism"`
	Username  string `yaml:"username" json:"username"`
	Password  string `yaml:"password" json:"-"`
}

type ProducerConfig struct {
	Version           string        `yaml:"version" json:"version"`
	RequiredAcks      int           `yaml:"required_acks" json:"required_acks"`
	Compression       string        `yaml:"compression" json:"compression"`
	BatchSize         int           `yaml:"batch_size" json:"batch_size"`
	BatchTimeout      time.Duration `yaml:"batch_timeout" json:"batch_timeout"`
	RetryMax          int           `yaml:"retry_max" json:"retry_max"`
	RetryBackoff      time.Duration `yaml:"retry_backoff" json:"retry_backoff"`
	Timeout           time.Duration `yaml:"timeout" json:"timeout"`
	CloseTimeout      time.Duration `yaml:"close_timeout" json:"close_timeout"`
	ChannelBufferSize int           `yaml:"channel_buffer_size" json:"channel_buffer_size"`
}

type TopicsConfig struct {
	Active    string `yaml:"active" json:"active"`
	Orderbook string `yaml:"orderbook" json:"orderbook"`
}

type GeneratorConfig struct {
	TickInterval       time.Duration `yaml:"tick_interval" json:"tick_interval"`
	PublishTimeout     time.Duration `yaml:"publish_timeout" json:"publish_timeout"`
	OrderbookValueMode string        `yaml:"orderbook_value_mode" json:"orderbook_value_mode"`
	// Seed 触发流随机种子，0 表示随机
	Seed uint64 `yaml:"seed" json:"seed"`
}

type WorkerConfig struct {
	Count               int           `yaml:"count" json:"count"`
	Mode                string        `yaml:"mode" json:"mode"`
	LaunchRetryInterval time.Duration `yaml:"launch_retry_interval" json:"launch_retry_interval"`
	// MetricsBasePort process 模式下子进程在 base+slot 端口暴露 /metrics，0 关闭
	MetricsBasePort int `yaml:"metrics_base_port" json:"metrics_base_port"`
}

// Default 返回默认配置
// brokers、group_id、topics 没有默认值，必须显式配置
func Default() *Config {
	producer := kafka.DefaultProducerConfig()
	return &Config{
		Service: ServiceConfig{
			Name:         "eidos-feedgen",
			Env:          "dev",
			HTTPPort:     8090,
			StatusReport: "@every 1m",
		},
		Kafka: KafkaConfig{
			Driver:           kafka.DriverSarama,
			SecurityProtocol: kafka.ProtocolSASLSSL,
			SASL:             SASLConfig{Mechanism: kafka.MechanismPlain},
			Producer: ProducerConfig{
				Version:           producer.Version,
				RequiredAcks:      producer.RequiredAcks,
				Compression:       producer.Compression,
				BatchSize:         producer.Batch.Size,
				BatchTimeout:      producer.Batch.Timeout,
				RetryMax:          producer.Retry.Max,
				RetryBackoff:      producer.Retry.Backoff,
				Timeout:           producer.Timeout,
				CloseTimeout:      producer.CloseTimeout,
				ChannelBufferSize: producer.ChannelBufferSize,
			},
		},
		Generator: GeneratorConfig{
			TickInterval:       1000 * time.Millisecond,
			PublishTimeout:     200 * time.Millisecond,
			OrderbookValueMode: string(generator.ValueModeFixed),
		},
		Worker: WorkerConfig{
			Count:               defaultWorkerCount(),
			Mode:                WorkerModeGoroutine,
			LaunchRetryInterval: time.Second,
		},
		Log: logger.Config{
			Level:  "info",
			Format: "json",
		},
	}
}

// defaultWorkerCount 默认与 CPU 核数一致，超出字母表容量时截断
func defaultWorkerCount() int {
	n := runtime.NumCPU()
	if n > partition.MaxWorkers {
		n = partition.MaxWorkers
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Load 加载并校验配置
// path 为空时按 CONFIG_PATH、./config/config.yaml、可执行文件目录依次查找，文件不存在不报错；
// envFile 为空时尝试加载 ./.env
func Load(path, envFile string) (*Config, error) {
	if err := loadDotEnv(envFile); err != nil {
		return nil, err
	}

	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = getConfigPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		content := pkgconfig.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case explicit || !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	envErr := applyEnvOverrides(cfg)
	if err := errors.Join(envErr, cfg.Validate()); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadDotEnv(envFile string) error {
	explicit := envFile != ""
	if !explicit {
		envFile = ".env"
	}
	// godotenv 不覆盖已存在的环境变量
	if err := godotenv.Load(envFile); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", envFile, err)
	}
	return nil
}

// getConfigPath 获取配置文件路径
func getConfigPath() string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}

	if _, err := os.Stat("config/config.yaml"); err == nil {
		return "config/config.yaml"
	}

	if exe, err := os.Executable(); err == nil {
		path := filepath.Join(filepath.Dir(exe), "config", "config.yaml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return "config/config.yaml"
}

// applyEnvOverrides 从环境变量覆盖配置
// 数值格式错误不回退默认值，与校验错误一并返回
func applyEnvOverrides(cfg *Config) error {
	var errs []error
	envInt := func(key string, dst *int) {
		v, err := pkgconfig.GetEnvInt(key, *dst)
		if err != nil {
			errs = append(errs, err)
		}
		*dst = v
	}
	envMillis := func(key string, dst *time.Duration) {
		v, err := pkgconfig.GetEnvMillis(key, *dst)
		if err != nil {
			errs = append(errs, err)
		}
		*dst = v
	}

	// Service
	cfg.Service.Name = pkgconfig.GetEnv("SERVICE_NAME", cfg.Service.Name)
	cfg.Service.Env = pkgconfig.GetEnv("SERVICE_ENV", cfg.Service.Env)
	envInt("HTTP_PORT", &cfg.Service.HTTPPort)
	cfg.Service.StatusReport = pkgconfig.GetEnv("STATUS_REPORT", cfg.Service.StatusReport)

	// Kafka
	cfg.Kafka.Brokers = pkgconfig.GetEnvSlice("BOOTSTRAP_SERVERS", cfg.Kafka.Brokers)
	cfg.Kafka.GroupID = pkgconfig.GetEnv("GROUP_ID", cfg.Kafka.GroupID)
	cfg.Kafka.Driver = pkgconfig.GetEnv("KAFKA_DRIVER", cfg.Kafka.Driver)
	cfg.Kafka.SecurityProtocol = pkgconfig.GetEnv("KAFKA_SECURITY_PROTOCOL", cfg.Kafka.SecurityProtocol)
	cfg.Kafka.SASL.Mechanism = pkgconfig.GetEnv("KAFKA_SASL_MECHANISM", cfg.Kafka.SASL.Mechanism)
	cfg.Kafka.SASL.Username = pkgconfig.GetEnv("API_KEY", cfg.Kafka.SASL.Username)
	cfg.Kafka.SASL.Password = pkgconfig.GetEnv("API_SECRET", cfg.Kafka.SASL.Password)

	// Topics
	cfg.Topics.Active = pkgconfig.GetEnv("TOPIC_ACTIVE", cfg.Topics.Active)
	cfg.Topics.Orderbook = pkgconfig.GetEnv("TOPIC_OB", cfg.Topics.Orderbook)

	// Generator
	envMillis("TICK_INTERVAL_MS", &cfg.Generator.TickInterval)
	envMillis("PUBLISH_TIMEOUT_MS", &cfg.Generator.PublishTimeout)
	cfg.Generator.OrderbookValueMode = pkgconfig.GetEnv("ORDERBOOK_VALUE_MODE", cfg.Generator.OrderbookValueMode)

	// Worker
	envInt("WORKER_COUNT", &cfg.Worker.Count)
	cfg.Worker.Mode = pkgconfig.GetEnv("WORKER_MODE", cfg.Worker.Mode)
	envInt("WORKER_METRICS_BASE_PORT", &cfg.Worker.MetricsBasePort)

	// Log
	cfg.Log.Level = pkgconfig.GetEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = pkgconfig.GetEnv("LOG_FORMAT", cfg.Log.Format)
	cfg.Log.File = pkgconfig.GetEnv("LOG_FILE", cfg.Log.File)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %w", errors.Join(errs...))
	}
	return nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	var errs []error

	if len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required (BOOTSTRAP_SERVERS)"))
	}
	if c.Kafka.GroupID == "" {
		errs = append(errs, errors.New("kafka.group_id is required (GROUP_ID)"))
	}
	if c.Topics.Active == "" {
		errs = append(errs, errors.New("topics.active is required (TOPIC_ACTIVE)"))
	}
	if c.Topics.Orderbook == "" {
		errs = append(errs, errors.New("topics.orderbook is required (TOPIC_OB)"))
	}

	switch c.Kafka.Driver {
	case kafka.DriverSarama, kafka.DriverKafkaGo:
	default:
		errs = append(errs, fmt.Errorf("unknown kafka.driver %q", c.Kafka.Driver))
	}

	switch c.Kafka.SecurityProtocol {
	case kafka.ProtocolPlaintext, kafka.ProtocolSSL:
	case kafka.ProtocolSASLPlaintext, kafka.ProtocolSASLSSL:
		switch c.Kafka.SASL.Mechanism {
		case kafka.MechanismPlain, kafka.MechanismSCRAMSHA256, kafka.MechanismSCRAMSHA512:
		default:
			errs = append(errs, fmt.Errorf("unknown kafka.sasl.mechanism %q", c.Kafka.SASL.Mechanism))
		}
		if c.Kafka.SASL.Username == "" || c.Kafka.SASL.Password == "" {
			errs = append(errs, fmt.Errorf("kafka.sasl credentials are required for %s (API_KEY, API_SECRET)", c.Kafka.SecurityProtocol))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown kafka.security_protocol %q", c.Kafka.SecurityProtocol))
	}

	if c.Worker.Count < 1 || c.Worker.Count > partition.MaxWorkers {
		errs = append(errs, fmt.Errorf("worker.count must be in [1, %d], got %d", partition.MaxWorkers, c.Worker.Count))
	}
	switch c.Worker.Mode {
	case WorkerModeGoroutine, WorkerModeProcess:
	default:
		errs = append(errs, fmt.Errorf("unknown worker.mode %q", c.Worker.Mode))
	}
	if c.Service.HTTPPort < 0 || c.Service.HTTPPort > maxPort {
		errs = append(errs, fmt.Errorf("service.http_port must be in [0, %d], got %d", maxPort, c.Service.HTTPPort))
	}
	if base := c.Worker.MetricsBasePort; base != 0 {
		last := base + c.Worker.Count - 1
		switch {
		case base < 0 || last > maxPort:
			errs = append(errs, fmt.Errorf("worker.metrics_base_port range [%d, %d] is out of [1, %d]", base, last, maxPort))
		case c.Service.HTTPPort >= base && c.Service.HTTPPort <= last:
			errs = append(errs, fmt.Errorf("worker.metrics_base_port range [%d, %d] overlaps service.http_port %d",
				base, last, c.Service.HTTPPort))
		}
	}

	if c.Generator.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("generator.tick_interval must be positive, got %s", c.Generator.TickInterval))
	}
	if c.Generator.PublishTimeout <= 0 || c.Generator.PublishTimeout >= c.Generator.TickInterval {
		errs = append(errs, fmt.Errorf("generator.publish_timeout must be in (0, %s), got %s",
			c.Generator.TickInterval, c.Generator.PublishTimeout))
	}
	if _, err := generator.ParseValueMode(c.Generator.OrderbookValueMode); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// UsesSASL 安全协议是否需要 SASL 认证
func (c *KafkaConfig) UsesSASL() bool {
	return strings.HasPrefix(c.SecurityProtocol, "SASL_")
}

// UsesTLS 安全协议是否需要 TLS
func (c *KafkaConfig) UsesTLS() bool {
	return c.SecurityProtocol == kafka.ProtocolSSL || c.SecurityProtocol == kafka.ProtocolSASLSSL
}

// ProducerConfig 转换为 worker 使用的生产者配置，每个 worker 使用独立 clientID
func (c *Config) ProducerConfig(clientID string) *kafka.ProducerConfig {
	pc := kafka.DefaultProducerConfig()
	p := c.Kafka.Producer

	pc.Driver = c.Kafka.Driver
	pc.Brokers = append([]string(nil), c.Kafka.Brokers...)
	pc.ClientID = clientID
	if p.Version != "" {
		pc.Version = p.Version
	}
	pc.RequiredAcks = p.RequiredAcks
	if p.Compression != "" {
		pc.Compression = p.Compression
	}
	if p.BatchSize > 0 {
		pc.Batch.Size = p.BatchSize
	}
	if p.BatchTimeout > 0 {
		pc.Batch.Timeout = p.BatchTimeout
	}
	if p.RetryMax >= 0 {
		pc.Retry.Max = p.RetryMax
	}
	if p.RetryBackoff > 0 {
		pc.Retry.Backoff = p.RetryBackoff
	}
	if p.Timeout > 0 {
		pc.Timeout = p.Timeout
	}
	if p.CloseTimeout > 0 {
		pc.CloseTimeout = p.CloseTimeout
	}
	if p.ChannelBufferSize > 0 {
		pc.ChannelBufferSize = p.ChannelBufferSize
	}

	if c.Kafka.UsesSASL() {
		pc.SASL = &kafka.SASLConfig{
			Enable:    true,
			Mechanism: c.Kafka.SASL.Mechanism,
			Username:  c.Kafka.SASL.Username,
			Password:  c.Kafka.SASL.Password,
		}
	}
	if c.Kafka.UsesTLS() {
		tls := c.Kafka.TLS
		tls.Enable = true
		pc.TLS = &tls
	}
	return pc
}
