package event

import (
	"encoding/json"
	"errors"
	"fmt"

	"go-annotation-service/pkg/config"
	"go-annotation-service/pkg/logger"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// Emitter 生命周期事件出口 即发即弃
type Emitter interface {
	Emit(ev Lifecycle) error
	Close() error
}

// CreateEmitter 根据配置创建事件出口
func CreateEmitter() (Emitter, error) {
	provider := config.GlobalConfig.Messaging.Provider
	logger.L.Info("Creating event emitter", zap.String("provider", provider))

	switch provider {
	case "kafka":
		return NewKafkaEmitter()
	case "log":
		// 仅记录 本地开发和测试用
		return &LogEmitter{}, nil
	default:
		return nil, errors.New("unsupported messaging provider")
	}
}

// KafkaEmitter 把事件以JSON发布到Kafka主题 分发方在下游消费
type KafkaEmitter struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaEmitter() (*KafkaEmitter, error) {
	cfg := config.GlobalConfig.Messaging.Kafka
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}

	kConfig := sarama.NewConfig()
	kConfig.Producer.RequiredAcks = sarama.WaitForAll
	kConfig.Producer.Retry.Max = 3
	kConfig.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, kConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return &KafkaEmitter{producer: producer, topic: cfg.EventTopic}, nil
}

func (e *KafkaEmitter) Emit(ev Lifecycle) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// 以fileID为key 同一文件的事件保序
	msg := &sarama.ProducerMessage{
		Topic: e.topic,
		Key:   sarama.StringEncoder(ev.FileID),
		Value: sarama.ByteEncoder(data),
	}
	partition, offset, err := e.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to send event to kafka: %w", err)
	}
	logger.L.Debug("event emitted",
		zap.String("name", ev.Name),
		zap.String("fileID", ev.FileID),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}

func (e *KafkaEmitter) Close() error {
	return e.producer.Close()
}

type LogEmitter struct{}

func (e *LogEmitter) Emit(ev Lifecycle) error {
	logger.L.Info("event emitted (log provider)",
		zap.String("name", ev.Name),
		zap.String("fileID", ev.FileID),
		zap.Uint("actorID", ev.ActorID))
	return nil
}

func (e *LogEmitter) Close() error { return nil }
