package generator

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/eidos-exchange/eidos/eidos-feedgen/internal/model"
	"github.com/eidos-exchange/eidos/eidos-feedgen/internal/partition"
	"github.com/eidos-exchange/eidos/eidos-feedgen/pkg/kafka"
)

// valueBytes 6 字节随机数编码为 12 位十六进制
const valueBytes = 6

// Orderbook 订单簿快照事件生成器，只负责一个资产
type Orderbook struct {
	topic   string
	asset   string
	mode    ValueMode
	entropy io.Reader
	value   string // fixed 模式下的固定值
}

// NewOrderbook 创建订单簿生成器
// fixed 模式在创建时生成 value，因此随机源错误在此返回
func NewOrderbook(topic, asset string, mode ValueMode, entropy io.Reader) (*Orderbook, error) {
	if entropy == nil {
		entropy = rand.Reader
	}
	if mode == "" {
		mode = ValueModeFixed
	}
	if mode != ValueModeFixed && mode != ValueModePerTick {
		return nil, fmt.Errorf("unknown orderbook value mode: %q", mode)
	}

	g := &Orderbook{
		topic:   topic,
		asset:   asset,
		mode:    mode,
		entropy: entropy,
	}

	if mode == ValueModeFixed {
		v, err := g.newValue()
		if err != nil {
			return nil, err
		}
		g.value = v
	}
	return g, nil
}

func (g *Orderbook) Role() partition.Role { return partition.RoleOrderbook }

func (g *Orderbook) Asset() string { return g.asset }

// Next 生成一条订单簿事件，key 为资产符号
func (g *Orderbook) Next() (*kafka.Message, error) {
	value := g.value
	if g.mode == ValueModePerTick {
		v, err := g.newValue()
		if err != nil {
			return nil, err
		}
		value = v
	}

	return kafka.NewMessageBuilder().
		WithTopic(g.topic).
		WithKey(g.asset).
		WithValue(model.OrderbookEvent{Asset: g.asset, Value: value}).
		WithHeaderString(model.HeaderEventType, model.EventTypeOrderbook).
		Build()
}

func (g *Orderbook) newValue() (string, error) {
	buf := make([]byte, valueBytes)
	if _, err := io.ReadFull(g.entropy, buf); err != nil {
		return "", fmt.Errorf("read entropy: %w", err)
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}
