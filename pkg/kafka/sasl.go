package kafka

import (
	"crypto/sha256"
	"crypto/sha512"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"hash"
	"os"
	"strings"

	"github.com/IBM/sarama"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	kafkagoscram "github.com/segmentio/kafka-go/sasl/scram"
	"github.com/xdg-go/scram"
)

// SHA256 SCRAM-SHA-256 哈希函数
var SHA256 scram.HashGeneratorFcn = func() hash.Hash { return sha256.New() }

// SHA512 SCRAM-SHA-512 哈希函数
var SHA512 scram.HashGeneratorFcn = func() hash.Hash { return sha512.New() }

// xdgScramClient 实现 sarama.SCRAMClient
type xdgScramClient struct {
	*scram.Client
	*scram.ClientConversation
	HashGeneratorFcn scram.HashGeneratorFcn
}

func (x *xdgScramClient) Begin(userName, password, authzID string) error {
	client, err := x.HashGeneratorFcn.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}
	x.Client = client
	x.ClientConversation = client.NewConversation()
	return nil
}

func (x *xdgScramClient) Step(challenge string) (string, error) {
	return x.ClientConversation.Step(challenge)
}

func (x *xdgScramClient) Done() bool {
	return x.ClientConversation.Done()
}

// applySaramaSASL 将 SASL 配置写入 sarama 配置
func applySaramaSASL(cfg *SASLConfig, saramaConfig *sarama.Config) error {
	if cfg == nil || !cfg.Enable {
		return nil
	}

	saramaConfig.Net.SASL.Enable = true
	saramaConfig.Net.SASL.Handshake = true
	saramaConfig.Net.SASL.User = cfg.Username
	saramaConfig.Net.SASL.Password = cfg.Password

	switch strings.ToUpper(cfg.Mechanism) {
	case "", MechanismPlain:
		saramaConfig.Net.SASL.Mechanism = sarama.SASLTypePlaintext
	case MechanismSCRAMSHA256:
		saramaConfig.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return &xdgScramClient{HashGeneratorFcn: SHA256}
		}
		saramaConfig.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
	case MechanismSCRAMSHA512:
		saramaConfig.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return &xdgScramClient{HashGeneratorFcn: SHA512}
		}
		saramaConfig.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
	default:
		return fmt.Errorf("unsupported sasl mechanism %q", cfg.Mechanism)
	}
	return nil
}

// kafkaGoMechanism 构建 kafka-go 的 SASL 机制，未启用时返回 nil
func kafkaGoMechanism(cfg *SASLConfig) (sasl.Mechanism, error) {
	if cfg == nil || !cfg.Enable {
		return nil, nil
	}

	switch strings.ToUpper(cfg.Mechanism) {
	case "", MechanismPlain:
		return plain.Mechanism{Username: cfg.Username, Password: cfg.Password}, nil
	case MechanismSCRAMSHA256:
		return kafkagoscram.Mechanism(kafkagoscram.SHA256, cfg.Username, cfg.Password)
	case MechanismSCRAMSHA512:
		return kafkagoscram.Mechanism(kafkagoscram.SHA512, cfg.Username, cfg.Password)
	default:
		return nil, fmt.Errorf("unsupported sasl mechanism %q", cfg.Mechanism)
	}
}

// buildTLSConfig 构建 TLS 配置，未启用时返回 nil
func buildTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil || !cfg.Enable {
		return nil, nil
	}

	tlsConfig := &tls.Config{
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("load cert pair failed: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if cfg.CAFile != "" {
		caCert, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read ca file failed: %w", err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.CAFile)
		}
		tlsConfig.RootCAs = caCertPool
	}

	return tlsConfig, nil
}
