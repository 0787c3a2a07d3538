package ingest

import (
	"context"
	"log/slog"
	"time"

	"attendguard/internal/config"
	"attendguard/internal/model"
	"attendguard/internal/normalize"
)

// Send hands a swipe to the engine, waiting while the channel is full.
// Swipes are never dropped for backpressure; only cancellation stops it.
func Send(ctx context.Context, out chan<- model.Swipe, sw model.Swipe) bool {
	select {
	case out <- sw:
		return true
	case <-ctx.Done():
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// emitLine parses and normalizes one line and forwards it. Unparseable lines
// are logged and skipped.
func emitLine(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.Swipe, logger *slog.Logger, line, source string) {
	fields, err := parser.ParseLine(line)
	if err != nil || fields == nil {
		return
	}
	sw, err := normalize.Normalize(*fields, cfg.Get(), source)
	if err != nil {
		if logger != nil {
			logger.Warn("swipe normalize error", "source", source, "err", err)
		}
		return
	}
	Send(ctx, out, sw)
}
