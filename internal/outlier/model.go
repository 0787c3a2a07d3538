// Package outlier flags attendance records whose shape deviates from an
// employee population's history.
package outlier

import (
	"sync"
	"time"

	"attendguard/internal/clock"
	"attendguard/internal/model"
)

type Verdict int

const (
	NoVerdict Verdict = iota
	Inlier
	Outlier
)

func (v Verdict) String() string {
	switch v {
	case Inlier:
		return "inlier"
	case Outlier:
		return "outlier"
	}
	return "no_verdict"
}

type Options struct {
	MinSamples    int
	Trees         int
	SampleSize    int
	Contamination float64
	Seed          int64
	Location      *time.Location
}

// Model owns the trained detector. A failed Train keeps the previous one.
type Model struct {
	mu       sync.RWMutex
	opts     Options
	detector Detector
	samples  int
	trained  time.Time

	newDetector func(Options) Detector
}

func New(opts Options) *Model {
	if opts.MinSamples <= 0 {
		opts.MinSamples = 10
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Model{
		opts: opts,
		newDetector: func(o Options) Detector {
			return NewIsolationForest(o.Trees, o.SampleSize, o.Contamination, o.Seed)
		},
	}
}

// Features returns [time_in, time_out, break_minutes, worked_minutes, break_count]
// with clock values in minutes since midnight. ok is false unless both
// time-in and time-out are present.
func Features(rec model.AttendanceRecord, loc *time.Location) ([]float64, bool) {
	if rec.TimeIn == nil || rec.TimeOut == nil {
		return nil, false
	}
	worked := 0.0
	if rec.TotalHours != nil {
		worked = *rec.TotalHours * 60
	}
	return []float64{
		float64(clock.MinutesSinceMidnight(*rec.TimeIn, loc)),
		float64(clock.MinutesSinceMidnight(*rec.TimeOut, loc)),
		rec.BreakMinutes(),
		worked,
		float64(len(rec.Breaks)),
	}, true
}

// Train fits a fresh detector on the qualifying records and returns how many
// qualified. It reports false, leaving the current detector in place, when
// fewer than MinSamples qualify.
func (m *Model) Train(records []model.AttendanceRecord) (int, bool) {
	m.mu.RLock()
	opts := m.opts
	m.mu.RUnlock()

	samples := make([][]float64, 0, len(records))
	for _, rec := range records {
		if f, ok := Features(rec, opts.Location); ok {
			samples = append(samples, f)
		}
	}
	if len(samples) < opts.MinSamples {
		return len(samples), false
	}
	det := m.newDetector(opts)
	if err := det.Fit(samples); err != nil {
		return len(samples), false
	}

	m.mu.Lock()
	m.detector = det
	m.samples = len(samples)
	m.trained = time.Now().UTC()
	m.mu.Unlock()
	return len(samples), true
}

func (m *Model) Score(rec model.AttendanceRecord) Verdict {
	m.mu.RLock()
	det := m.detector
	loc := m.opts.Location
	m.mu.RUnlock()
	if det == nil {
		return NoVerdict
	}
	f, ok := Features(rec, loc)
	if !ok {
		return NoVerdict
	}
	if det.Predict(f) {
		return Outlier
	}
	return Inlier
}

type Status struct {
	Trained   bool      `json:"trained"`
	Samples   int       `json:"samples"`
	TrainedAt time.Time `json:"trained_at,omitempty"`
}

func (m *Model) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{Trained: m.detector != nil, Samples: m.samples, TrainedAt: m.trained}
}

// Configure applies new options to the next Train; the current detector stays.
func (m *Model) Configure(opts Options) {
	if opts.MinSamples <= 0 {
		opts.MinSamples = 10
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	m.mu.Lock()
	m.opts = opts
	m.mu.Unlock()
}
