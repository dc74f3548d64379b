// Package partition 负责把 worker 槽位静态划分为触发流与订单簿流
//
// 槽位 0 固定生成活跃流触发事件；槽位 1..N-1 各自独占字母表中的一个资产。
// 划分结果只依赖 worker 数量，worker 重启后按槽位号重新计算即可恢复原角色。
package partition

import (
	"errors"
	"fmt"
)

// Alphabet 资产符号全集
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// MaxWorkers 最大 worker 数量 (1 个触发流 + 26 个资产)
const MaxWorkers = len(Alphabet) + 1

// TriggerSlot 触发流槽位
const TriggerSlot = 0

// ErrInvalidWorkerCount worker 数量超出 [1, MaxWorkers]
var ErrInvalidWorkerCount = errors.New("invalid worker count")

// ErrSlotOutOfRange 槽位号不存在
var ErrSlotOutOfRange = errors.New("slot out of range")

// Role worker 角色
type Role int

const (
	RoleTrigger Role = iota
	RoleOrderbook
)

// String 返回角色名称
func (r Role) String() string {
	switch r {
	case RoleTrigger:
		return "trigger"
	case RoleOrderbook:
		return "orderbook"
	default:
		return "unknown"
	}
}

// MarshalText 实现 encoding.TextMarshaler
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Slot worker 槽位
type Slot struct {
	Index int    `json:"index"`
	Role  Role   `json:"role"`
	Asset string `json:"asset,omitempty"` // 仅订单簿角色
}

// Spread 有序资产对
type Spread struct {
	AssetOne string `json:"asset_one"`
	AssetTwo string `json:"asset_two"`
}

// String 返回 "A_B" 形式
func (s Spread) String() string {
	return s.AssetOne + "_" + s.AssetTwo
}

// Plan 划分结果，构建后只读
type Plan struct {
	WorkerCount int      `json:"worker_count"`
	Alphabet    []string `json:"alphabet"`
	Spreads     []Spread `json:"spreads"`
	Slots       []Slot   `json:"slots"`
}

// New 按 worker 数量计算划分
func New(workerCount int) (*Plan, error) {
	if workerCount < 1 || workerCount > MaxWorkers {
		return nil, fmt.Errorf("%w: %d (want 1..%d)", ErrInvalidWorkerCount, workerCount, MaxWorkers)
	}

	assets := make([]string, workerCount-1)
	for i := range assets {
		assets[i] = string(Alphabet[i])
	}

	slots := make([]Slot, workerCount)
	slots[TriggerSlot] = Slot{Index: TriggerSlot, Role: RoleTrigger}
	for i := 1; i < workerCount; i++ {
		slots[i] = Slot{Index: i, Role: RoleOrderbook, Asset: assets[i-1]}
	}

	return &Plan{
		WorkerCount: workerCount,
		Alphabet:    assets,
		Spreads:     Spreads(assets),
		Slots:       slots,
	}, nil
}

// Spreads 枚举所有有序且不同的资产对 (含 A_B 与 B_A，不含 A_A)
func Spreads(assets []string) []Spread {
	k := len(assets)
	if k < 2 {
		return []Spread{}
	}

	spreads := make([]Spread, 0, k*(k-1))
	for i := range assets {
		for j := range assets {
			if i == j {
				continue
			}
			spreads = append(spreads, Spread{AssetOne: assets[i], AssetTwo: assets[j]})
		}
	}
	return spreads
}

// Assets 返回订单簿资产列表的副本
func (p *Plan) Assets() []string {
	return append([]string(nil), p.Alphabet...)
}

// Slot 按槽位号返回角色
func (p *Plan) Slot(index int) (Slot, error) {
	if index < 0 || index >= len(p.Slots) {
		return Slot{}, fmt.Errorf("%w: %d (worker count %d)", ErrSlotOutOfRange, index, p.WorkerCount)
	}
	return p.Slots[index], nil
}
