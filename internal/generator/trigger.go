package generator

import (
	"math/rand/v2"

	"github.com/eidos-exchange/eidos/eidos-feedgen/internal/model"
	"github.com/eidos-exchange/eidos/eidos-feedgen/internal/partition"
	"github.com/eidos-exchange/eidos/eidos-feedgen/pkg/kafka"
)

// Trigger 活跃流触发事件生成器
// 每个 tick 从有序资产对中均匀随机选一个，并附带一个随机布尔值
type Trigger struct {
	topic   string
	spreads []partition.Spread
	rnd     *rand.Rand
}

// NewTrigger 创建触发流生成器
func NewTrigger(topic string, spreads []partition.Spread, rnd *rand.Rand) *Trigger {
	if rnd == nil {
		rnd = NewRand(0)
	}
	return &Trigger{
		topic:   topic,
		spreads: spreads,
		rnd:     rnd,
	}
}

func (g *Trigger) Role() partition.Role { return partition.RoleTrigger }

func (g *Trigger) Asset() string { return "" }

// Next 生成一条触发事件，key 为资产对名称
func (g *Trigger) Next() (*kafka.Message, error) {
	if len(g.spreads) == 0 {
		return nil, ErrNothingToPublish
	}

	spread := g.spreads[g.rnd.IntN(len(g.spreads))]
	event := model.TriggerEvent{
		Spread:   spread.String(),
		AssetOne: spread.AssetOne,
		AssetTwo: spread.AssetTwo,
		Trigger:  g.rnd.IntN(2) == 1,
	}

	return kafka.NewMessageBuilder().
		WithTopic(g.topic).
		WithKey(event.Spread).
		WithValue(event).
		WithHeaderString(model.HeaderEventType, model.EventTypeTrigger).
		Build()
}
