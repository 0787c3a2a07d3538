package alerts

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"attendguard/internal/config"
	"attendguard/internal/model"
)

// KafkaSink publishes alerts as JSON, keyed by employee so one employee's
// alerts stay ordered on a partition.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(cfg config.AlertKafkaConfig) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}}
}

func (k *KafkaSink) Publish(ctx context.Context, list []model.Alert) error {
	msgs := make([]kafka.Message, 0, len(list))
	for _, a := range list {
		value, err := json.Marshal(a)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(strconv.FormatInt(a.EmployeeID, 10)),
			Value: value,
			Time:  a.Timestamp,
		})
	}
	return k.writer.WriteMessages(ctx, msgs...)
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
