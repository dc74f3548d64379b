package generator

import (
	"fmt"
	"io"
	"math/rand/v2"
)

// ValueMode 订单簿 value 的生成方式
type ValueMode string

const (
	// ValueModeFixed 每个 worker 实例生成一次，之后每个 tick 复用
	ValueModeFixed ValueMode = "fixed"
	// ValueModePerTick 每个 tick 重新生成
	ValueModePerTick ValueMode = "per_tick"
)

// ParseValueMode 解析 value 模式，空串视为 fixed
func ParseValueMode(s string) (ValueMode, error) {
	switch ValueMode(s) {
	case "", ValueModeFixed:
		return ValueModeFixed, nil
	case ValueModePerTick:
		return ValueModePerTick, nil
	default:
		return "", fmt.Errorf("unknown orderbook value mode: %q", s)
	}
}

// Options 生成器参数
type Options struct {
	TriggerTopic   string
	OrderbookTopic string
	ValueMode      ValueMode
	// Rand 触发流随机源，nil 时使用随机种子
	Rand *rand.Rand
	// Entropy 订单簿 value 随机源，nil 时使用 crypto/rand
	Entropy io.Reader
}

// NewRand 按种子创建随机源，seed 为 0 时随机播种
func NewRand(seed uint64) *rand.Rand {
	if seed == 0 {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
