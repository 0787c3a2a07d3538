package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"attendguard/internal/alerts"
	"attendguard/internal/clock"
	"attendguard/internal/config"
	"attendguard/internal/metrics"
	"attendguard/internal/model"
	"attendguard/internal/outlier"
	"attendguard/internal/storage"
)

var (
	ErrUnknownCredential = errors.New("unknown credential")
	ErrRevokedCredential = errors.New("revoked credential")
	ErrMissingCredential = errors.New("credential is required")
)

// Resolver maps a badge credential to its employee.
type Resolver interface {
	FindByCredential(ctx context.Context, credential string) (model.Employee, error)
}

type Deps struct {
	Store     storage.Store
	Directory Resolver
	Model     *outlier.Model
	Emitter   *alerts.Emitter
	Presence  *metrics.Store
}

type Outcome struct {
	SwipeID    string                  `json:"swipe_id,omitempty"`
	Status     Status                  `json:"status"`
	Message    string                  `json:"message,omitempty"`
	Time       time.Time               `json:"time"`
	Employee   model.Employee          `json:"employee"`
	Record     *model.AttendanceRecord `json:"record,omitempty"`
	Break      *model.Break            `json:"break,omitempty"`
	Alerts     []model.Alert           `json:"alerts"`
	SwipeCount int                     `json:"swipe_count"`
}

type InspectResult struct {
	Employee   model.Employee         `json:"employee"`
	Record     model.AttendanceRecord `json:"record"`
	Candidates []model.Candidate      `json:"candidates"`
	Verdict    string                 `json:"model_verdict"`
}

type Engine struct {
	logger   *slog.Logger
	store    storage.Store
	dir      Resolver
	model    *outlier.Model
	trainer  *Trainer
	emitter  *alerts.Emitter
	presence *metrics.Store
	cfg      atomic.Value
	rules    atomic.Value
	revoked  atomic.Value
	window   *SwipeWindow
	deDupe   *DedupeCache
	locks    *keyedMutex
	started  time.Time
	now      func() time.Time
}

func NewEngine(cfg *config.Config, logger *slog.Logger, deps Deps) (*Engine, error) {
	if deps.Store == nil {
		return nil, errors.New("engine requires a store")
	}
	rules, err := NewRules(cfg.Detection)
	if err != nil {
		return nil, fmt.Errorf("detection rules: %w", err)
	}
	e := &Engine{
		logger:   logger,
		store:    deps.Store,
		dir:      deps.Directory,
		model:    deps.Model,
		emitter:  deps.Emitter,
		presence: deps.Presence,
		window:   NewSwipeWindow(cfg.Detection.SwipeWindow()),
		deDupe:   NewDedupeCache(),
		locks:    newKeyedMutex(),
		started:  time.Now().UTC(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	if e.dir == nil {
		e.dir = storeResolver{deps.Store}
	}
	if e.model == nil {
		e.model = outlier.New(modelOptions(cfg))
	}
	if e.emitter == nil {
		e.emitter = alerts.NewEmitter(logger)
	}
	if e.presence == nil {
		e.presence = metrics.NewStore(cfg.Metrics.StoreLimit)
	}
	e.trainer = NewTrainer(deps.Store, e.model, logger, cfg.Model.TrainingLimit, cfg.Model.RetrainCooldown)
	e.cfg.Store(cfg)
	e.rules.Store(rules)
	e.revoked.Store(buildRevokedSet(cfg))
	return e, nil
}

type storeResolver struct {
	store storage.Store
}

func (s storeResolver) FindByCredential(ctx context.Context, credential string) (model.Employee, error) {
	return s.store.FindEmployeeByCredential(ctx, credential)
}

func modelOptions(cfg *config.Config) outlier.Options {
	return outlier.Options{
		MinSamples:    cfg.Model.MinSamples,
		Trees:         cfg.Model.Trees,
		SampleSize:    cfg.Model.SampleSize,
		Contamination: cfg.Detection.OutlierContamination,
		Seed:          cfg.Model.Seed,
		Location:      cfg.Detection.Location(),
	}
}

func (e *Engine) UpdateConfig(cfg *config.Config) {
	rules, err := NewRules(cfg.Detection)
	if err != nil {
		if e.logger != nil {
			e.logger.Warn("detection config rejected, keeping previous rules", "err", err)
		}
		return
	}
	e.cfg.Store(cfg)
	e.rules.Store(rules)
	e.revoked.Store(buildRevokedSet(cfg))
	e.window.SetDuration(cfg.Detection.SwipeWindow())
	e.model.Configure(modelOptions(cfg))
	e.trainer.Configure(cfg.Model.TrainingLimit, cfg.Model.RetrainCooldown)
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

func (e *Engine) currentRules() Rules {
	return e.rules.Load().(Rules)
}

func (e *Engine) revokedSet() *RevokedSet {
	if v := e.revoked.Load(); v != nil {
		if rs, ok := v.(*RevokedSet); ok {
			return rs
		}
	}
	return nil
}

// Start drains asynchronous swipe sources until ctx is done.
func (e *Engine) Start(ctx context.Context, in <-chan model.Swipe) {
	e.trainer.Start(ctx)
	go func() {
		for {
			select {
			case sw := <-in:
				if _, err := e.ProcessSwipe(ctx, sw); err != nil && e.logger != nil {
					e.logger.Warn("swipe rejected",
						"credential", sw.Credential,
						"source", sw.Source,
						"err", err,
					)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// ProcessSwipe applies one badge swipe. Everything the swipe changes is
// committed in a single store transaction; alerts are published only after
// that commit succeeds.
func (e *Engine) ProcessSwipe(ctx context.Context, sw model.Swipe) (Outcome, error) {
	cfg := e.config()
	rules := e.currentRules()
	sw.Credential = strings.TrimSpace(sw.Credential)
	if sw.Credential == "" {
		return Outcome{}, ErrMissingCredential
	}
	sw.Timestamp = clampTimestamp(sw.Timestamp, e.now(), cfg.Ingest.MaxClockSkew, cfg.Ingest.MaxFutureSkew)

	if e.isDuplicate(sw, cfg.Ingest.RedeliveryWindow) {
		return Outcome{Status: StatusDuplicate, Time: sw.Timestamp, Message: "Duplicate swipe ignored"}, nil
	}
	if e.revokedSet().IsRevoked(sw.Credential) {
		if e.logger != nil {
			e.logger.Warn("revoked credential swiped", "credential", sw.Credential, "reader_id", sw.ReaderID)
		}
		return Outcome{}, fmt.Errorf("%w: %s", ErrRevokedCredential, sw.Credential)
	}
	emp, err := e.dir.FindByCredential(ctx, sw.Credential)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Outcome{}, fmt.Errorf("%w %s: %w", ErrUnknownCredential, sw.Credential, err)
		}
		return Outcome{}, fmt.Errorf("resolve credential: %w", err)
	}

	unlock := e.locks.Lock(emp.ID)
	defer unlock()

	out := Outcome{
		SwipeID:  uuid.NewString(),
		Time:     sw.Timestamp,
		Employee: emp,
		Alerts:   []model.Alert{},
	}
	candidates := make([]model.Candidate, 0, 4)
	out.SwipeCount = e.window.Observe(emp.ID, sw.Timestamp)
	if out.SwipeCount >= cfg.Detection.MultipleSwipeThreshold {
		candidates = append(candidates, multipleSwipes(cfg.Detection.SwipeDedupWindowMinutes))
	}

	date := clock.DateOf(sw.Timestamp, rules.Location)
	current, err := e.store.FindRecord(ctx, emp.ID, date)
	if err != nil {
		return Outcome{}, fmt.Errorf("load record: %w", err)
	}
	step := Transition(current, emp.ID, sw.Timestamp, sw.Intent, rules.Location)
	out.Status = step.Status
	out.Record = step.Record

	var changes storage.Changes
	if !step.Status.Rejected() {
		changes.Record = step.Record
		changes.OpenBreak = step.OpenBreak
		changes.CloseBreak = step.CloseBreak
	}
	if step.Status == StatusCheckedOut {
		found := rules.Evaluate(*step.Record, e.model)
		if len(found) > 0 {
			step.Record.Anomalous = true
			candidates = append(candidates, found...)
			esc := Escalation{Threshold: cfg.Detection.ConsecutiveAnomaliesThreshold, LookbackDays: cfg.Detection.LookbackDays}
			hit, _, err := esc.HasConsecutiveAnomalies(ctx, e.store, emp.ID, date, true)
			if err != nil {
				return Outcome{}, err
			}
			if hit {
				candidates = append(candidates, esc.candidate())
			}
		}
	}
	changes.Alerts = e.emitter.BuildAll(emp.ID, out.SwipeID, candidates)

	if !changes.Empty() {
		committed, err := e.store.Commit(ctx, changes)
		if err != nil {
			return Outcome{}, fmt.Errorf("commit swipe: %w", err)
		}
		if committed.Record != nil {
			out.Record = committed.Record
		}
		switch {
		case committed.OpenBreak != nil:
			out.Break = committed.OpenBreak
		case committed.CloseBreak != nil:
			out.Break = committed.CloseBreak
		}
		out.Alerts = committed.Alerts
	}
	if step.Status == StatusAlreadyCheckedOut {
		out.Time = step.At
	}
	out.Message = describe(out)
	e.afterCommit(ctx, cfg, sw, date, out)
	return out, nil
}

func (e *Engine) afterCommit(ctx context.Context, cfg *config.Config, sw model.Swipe, date time.Time, out Outcome) {
	_ = e.emitter.Publish(context.WithoutCancel(ctx), out.Alerts)
	e.presence.CountSwipe(date)
	e.presence.CountAlerts(date, out.Alerts)
	if !out.Status.Rejected() {
		e.presence.Update(out.Employee, out.Record, sw.Timestamp)
	}
	if e.logger != nil {
		e.logger.Info("swipe processed",
			"swipe_id", out.SwipeID,
			"employee_id", out.Employee.Code,
			"status", out.Status,
			"source", sw.Source,
			"swipe_count", out.SwipeCount,
		)
		for _, a := range out.Alerts {
			e.logger.Warn("alert triggered",
				"swipe_id", out.SwipeID,
				"employee_id", out.Employee.Code,
				"kind", a.Kind,
				"severity", a.Severity,
			)
		}
	}
	if out.Status == StatusCheckedOut && cfg.Model.AutoRetrain {
		e.trainer.Trigger()
	}
}

func describe(out Outcome) string {
	name := out.Employee.Name
	if name == "" {
		name = out.Employee.Code
	}
	switch out.Status {
	case StatusCheckedIn:
		return "Check-in recorded for " + name
	case StatusBreakStarted:
		return "Break started for " + name
	case StatusBreakEnded:
		if out.Break != nil && out.Break.DurationMinutes != nil {
			return fmt.Sprintf("Break ended for %s (%.2f minutes)", name, *out.Break.DurationMinutes)
		}
		return "Break ended for " + name
	case StatusCheckedOut:
		if out.Record != nil && out.Record.TotalHours != nil {
			return fmt.Sprintf("Check-out recorded for %s (%.2f hours)", name, *out.Record.TotalHours)
		}
		return "Check-out recorded for " + name
	case StatusAlreadyCheckedOut:
		return name + " already checked out today"
	case StatusOutOfOrder:
		return "Swipe is older than the last recorded event for " + name
	}
	return ""
}

// Inspect re-runs the rule battery on a stored record. Nothing is written and
// no alert is emitted.
func (e *Engine) Inspect(ctx context.Context, employeeCode string, date time.Time) (InspectResult, error) {
	emp, err := e.store.FindEmployeeByCode(ctx, employeeCode)
	if err != nil {
		return InspectResult{}, fmt.Errorf("employee %s: %w", employeeCode, err)
	}
	rec, err := e.store.FindRecord(ctx, emp.ID, date)
	if err != nil {
		return InspectResult{}, fmt.Errorf("load record: %w", err)
	}
	if rec == nil {
		return InspectResult{}, fmt.Errorf("record for %s on %s: %w", employeeCode, clock.FormatDate(date), storage.ErrNotFound)
	}
	return InspectResult{
		Employee:   emp,
		Record:     *rec,
		Candidates: e.currentRules().Evaluate(*rec, e.model),
		Verdict:    e.model.Score(*rec).String(),
	}, nil
}

func (e *Engine) Train(ctx context.Context) (TrainResult, error) {
	return e.trainer.Train(ctx)
}

func (e *Engine) ModelStatus() outlier.Status {
	return e.model.Status()
}

func (e *Engine) Presence() *metrics.Store {
	return e.presence
}

func (e *Engine) Started() time.Time {
	return e.started
}

// Reset forgets in-memory swipe history; stored records are untouched.
func (e *Engine) Reset() {
	e.window.Reset()
	e.deDupe.Reset()
	e.presence.Clear()
}

func (e *Engine) isDuplicate(sw model.Swipe, window time.Duration) bool {
	if window <= 0 {
		return false
	}
	return e.deDupe.Seen(swipeKey(sw), e.now(), window)
}

func clampTimestamp(ts, now time.Time, maxPast, maxFuture time.Duration) time.Time {
	if ts.IsZero() {
		return now
	}
	if maxPast > 0 {
		if now.Sub(ts) > maxPast {
			return now
		}
	}
	if maxFuture > 0 {
		if ts.Sub(now) > maxFuture {
			return now
		}
	}
	return ts
}
