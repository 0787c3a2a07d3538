package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"attendguard/internal/config"
	"attendguard/internal/model"
)

// StartKafka consumes swipes published by terminal gateways. Offsets are
// committed only after the swipe has been handed to the engine.
func StartKafka(ctx context.Context, cfg *config.Manager, out chan<- model.Swipe, logger *slog.Logger) {
	current := cfg.Get().Ingest.Kafka
	if !current.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	go func() {
		defer reader.Close()
		parser := NewParser()
		for {
			m, err := reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				if !BackoffSleep(ctx, time.Second) {
					return
				}
				continue
			}
			emitLine(ctx, cfg, parser, out, logger, string(m.Value), "kafka")
			if err := reader.CommitMessages(ctx, m); err != nil && logger != nil && ctx.Err() == nil {
				logger.Warn("kafka commit error", "err", err, "offset", m.Offset)
			}
		}
	}()
}
