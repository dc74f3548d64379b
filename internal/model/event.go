// Package model 定义发布到 Kafka 的合成行情事件
package model

// TriggerEvent 活跃流触发事件 (active-stream topic)
type TriggerEvent struct {
	Spread   string `json:"spread"`    // "A_B"
	AssetOne string `json:"asset_one"` // "A"
	AssetTwo string `json:"asset_two"` // "B"
	Trigger  bool   `json:"trigger"`
}

// OrderbookEvent 订单簿快照事件 (order-book topic)
type OrderbookEvent struct {
	Asset string `json:"asset"`
	Value string `json:"value"` // 12 位大写十六进制
}

// 消息头
const (
	HeaderProducerID = "producer_id" // worker 实例 ID，每次 (重新) 启动生成
	HeaderWorkerSlot = "worker_slot"
	HeaderEventType  = "event_type"
)

// 事件类型
const (
	EventTypeTrigger   = "trigger"
	EventTypeOrderbook = "orderbook"
)
