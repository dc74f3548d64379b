package kafka

import (
	"github.com/IBM/sarama"
)

// hintPartitioner 消息带有效分区提示时直接使用，否则按 key 哈希
type hintPartitioner struct {
	hash sarama.Partitioner
}

// newHintPartitioner 符合 sarama.PartitionerConstructor
func newHintPartitioner(topic string) sarama.Partitioner {
	return &hintPartitioner{hash: sarama.NewHashPartitioner(topic)}
}

func (p *hintPartitioner) Partition(message *sarama.ProducerMessage, numPartitions int32) (int32, error) {
	if message.Partition >= 0 && message.Partition < numPartitions {
		return message.Partition, nil
	}
	return p.hash.Partition(message, numPartitions)
}

func (p *hintPartitioner) RequiresConsistency() bool {
	return true
}
