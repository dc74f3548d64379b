// Package generator 生成合成行情事件并按固定节拍发布
package generator

import (
	"errors"
	"fmt"

	"github.com/eidos-exchange/eidos/eidos-feedgen/internal/partition"
	"github.com/eidos-exchange/eidos/eidos-feedgen/pkg/kafka"
)

// ErrNothingToPublish 当前 tick 没有可生成的事件 (例如资产对集合为空)
var ErrNothingToPublish = errors.New("nothing to publish")

// Generator 单个 worker 的事件生成器
type Generator interface {
	// Role 生成器角色
	Role() partition.Role
	// Asset 订单簿资产，触发流返回空串
	Asset() string
	// Next 生成下一条待发布消息
	Next() (*kafka.Message, error)
}

// New 按槽位角色创建生成器
func New(slot partition.Slot, plan *partition.Plan, opts Options) (Generator, error) {
	switch slot.Role {
	case partition.RoleTrigger:
		return NewTrigger(opts.TriggerTopic, plan.Spreads, opts.Rand), nil
	case partition.RoleOrderbook:
		return NewOrderbook(opts.OrderbookTopic, slot.Asset, opts.ValueMode, opts.Entropy)
	default:
		return nil, fmt.Errorf("unknown role for slot %d: %s", slot.Index, slot.Role)
	}
}
