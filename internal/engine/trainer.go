package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"attendguard/internal/model"
)

// TrainingSource supplies the snapshot the outlier model is trained on.
type TrainingSource interface {
	ListCompletedRecords(ctx context.Context, limit int) ([]model.AttendanceRecord, error)
}

// Trainable is the outlier model as the trainer sees it.
type Trainable interface {
	Train(records []model.AttendanceRecord) (int, bool)
}

type TrainResult struct {
	Trained bool `json:"trained"`
	// Samples counts the records that qualified for fitting.
	Samples int `json:"samples"`
}

// Trainer runs model training off the swipe path. Concurrent Train calls
// share one run.
type Trainer struct {
	source   TrainingSource
	model    Trainable
	logger   *slog.Logger
	limit    atomic.Int64
	cooldown atomic.Int64
	group    singleflight.Group
	throttle *Cooldown
	wake     chan struct{}
}

func NewTrainer(source TrainingSource, m Trainable, logger *slog.Logger, limit int, cooldown time.Duration) *Trainer {
	t := &Trainer{
		source:   source,
		model:    m,
		logger:   logger,
		throttle: NewCooldown(),
		wake:     make(chan struct{}, 1),
	}
	t.Configure(limit, cooldown)
	return t
}

func (t *Trainer) Configure(limit int, cooldown time.Duration) {
	if limit <= 0 {
		limit = 5000
	}
	t.limit.Store(int64(limit))
	t.cooldown.Store(int64(cooldown))
}

func (t *Trainer) Train(ctx context.Context) (TrainResult, error) {
	v, err, _ := t.group.Do("train", func() (any, error) {
		records, err := t.source.ListCompletedRecords(ctx, int(t.limit.Load()))
		if err != nil {
			return TrainResult{}, fmt.Errorf("load training records: %w", err)
		}
		samples, trained := t.model.Train(records)
		res := TrainResult{Trained: trained, Samples: samples}
		if t.logger != nil {
			t.logger.Info("outlier model training finished", "trained", res.Trained, "samples", res.Samples)
		}
		return res, nil
	})
	if err != nil {
		return TrainResult{}, err
	}
	return v.(TrainResult), nil
}

// Trigger asks the background worker for a retrain. Requests inside the
// cooldown are dropped.
func (t *Trainer) Trigger() bool {
	if !t.throttle.AllowKey("retrain", time.Duration(t.cooldown.Load())) {
		return false
	}
	select {
	case t.wake <- struct{}{}:
	default:
	}
	return true
}

// Start runs the retrain worker until ctx is done.
func (t *Trainer) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-t.wake:
				if _, err := t.Train(ctx); err != nil && t.logger != nil {
					t.logger.Warn("background retrain failed", "err", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
