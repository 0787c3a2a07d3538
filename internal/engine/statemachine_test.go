package engine

import (
	"testing"
	"time"

	"attendguard/internal/model"
)

func TestTransitionWalksTheDay(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	loc := time.UTC

	step := Transition(nil, 7, at(day, "09:00"), model.IntentBreak, loc)
	if step.Status != StatusCheckedIn {
		t.Fatalf("expected check-in regardless of intent, got %s", step.Status)
	}
	rec := step.Record
	if rec.EmployeeID != 7 || !rec.Date.Equal(day) {
		t.Fatalf("unexpected new record: %+v", rec)
	}

	step = Transition(rec, 7, at(day, "12:00"), model.IntentBreak, loc)
	if step.Status != StatusBreakStarted || step.OpenBreak == nil || rec.OpenBreak() != nil {
		t.Fatalf("expected break start on a copy: %+v", step)
	}
	rec = step.Record

	step = Transition(rec, 7, at(day, "12:30"), model.IntentBreak, loc)
	if step.Status != StatusBreakEnded || step.CloseBreak == nil || *step.CloseBreak.DurationMinutes != 30 {
		t.Fatalf("expected 30 minute break end: %+v", step)
	}
	rec = step.Record

	step = Transition(rec, 7, at(day, "17:00"), model.IntentNone, loc)
	if step.Status != StatusCheckedOut {
		t.Fatalf("expected check-out, got %s", step.Status)
	}
	if *step.Record.TotalHours != 7.5 {
		t.Fatalf("expected 7.5 hours, got %v", *step.Record.TotalHours)
	}
	rec = step.Record

	for _, intent := range []model.Intent{model.IntentNone, model.IntentBreak} {
		step = Transition(rec, 7, at(day, "17:05"), intent, loc)
		if step.Status != StatusAlreadyCheckedOut || !step.At.Equal(at(day, "17:00")) {
			t.Fatalf("expected rejection reporting 17:00, got %s %v", step.Status, step.At)
		}
		if !step.Record.TimeOut.Equal(*rec.TimeOut) || len(step.Record.Breaks) != 1 || step.OpenBreak != nil {
			t.Fatalf("rejection must not mutate: %+v", step.Record)
		}
	}
}

func TestZeroLengthBreak(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	rec := Transition(nil, 1, at(day, "09:00"), model.IntentNone, time.UTC).Record
	rec = Transition(rec, 1, at(day, "12:00"), model.IntentBreak, time.UTC).Record
	step := Transition(rec, 1, at(day, "12:00"), model.IntentNone, time.UTC)
	if step.Status != StatusBreakEnded || *step.CloseBreak.DurationMinutes != 0 {
		t.Fatalf("expected zero length break, got %+v", step.CloseBreak)
	}
}

func TestTotalHoursFloorsAtZero(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	in := at(day, "09:00")
	rec := &model.AttendanceRecord{
		EmployeeID: 1,
		Date:       day,
		TimeIn:     &in,
		Breaks:     []model.Break{{Start: in, End: model.Ptr(in), DurationMinutes: model.Ptr(120.0)}},
	}
	step := Transition(rec, 1, at(day, "10:00"), model.IntentNone, time.UTC)
	if *step.Record.TotalHours != 0 {
		t.Fatalf("expected hours floored at zero, got %v", *step.Record.TotalHours)
	}
}

func TestTransitionUsesConfiguredZoneForDate(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	ts := time.Date(2026, 3, 3, 2, 0, 0, 0, time.UTC)
	step := Transition(nil, 1, ts, model.IntentNone, loc)
	if got := step.Record.Date.Format("2006-01-02"); got != "2026-03-02" {
		t.Fatalf("expected local date 2026-03-02, got %s", got)
	}
}
