package alerts

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"attendguard/internal/model"
)

// Sink receives alerts after they have been committed.
type Sink interface {
	Publish(ctx context.Context, alerts []model.Alert) error
}

// Emitter is the only place alerts are constructed. Every candidate becomes
// exactly one alert.
type Emitter struct {
	sinks  []Sink
	logger *slog.Logger
	now    func() time.Time
}

func NewEmitter(logger *slog.Logger, sinks ...Sink) *Emitter {
	return &Emitter{
		sinks:  sinks,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (e *Emitter) Build(employeeID int64, swipeID string, c model.Candidate) model.Alert {
	return model.Alert{
		EmployeeID:  employeeID,
		Timestamp:   e.now(),
		Kind:        c.Kind,
		Severity:    c.Severity,
		Description: c.Description,
		Resolved:    false,
		SwipeID:     swipeID,
	}
}

func (e *Emitter) BuildAll(employeeID int64, swipeID string, candidates []model.Candidate) []model.Alert {
	out := make([]model.Alert, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, e.Build(employeeID, swipeID, c))
	}
	return out
}

// Publish fans committed alerts out to every sink. A failing sink does not
// stop the others.
func (e *Emitter) Publish(ctx context.Context, list []model.Alert) error {
	if len(list) == 0 {
		return nil
	}
	var errs []error
	for _, sink := range e.sinks {
		if err := sink.Publish(ctx, list); err != nil {
			errs = append(errs, err)
			if e.logger != nil {
				e.logger.Warn("alert sink publish failed", "err", err, "count", len(list))
			}
		}
	}
	return errors.Join(errs...)
}

func (e *Emitter) Close() error {
	var errs []error
	for _, sink := range e.sinks {
		if c, ok := sink.(interface{ Close() error }); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
