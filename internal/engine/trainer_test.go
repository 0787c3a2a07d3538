package engine

import (
	"context"
	"testing"
	"time"

	"attendguard/internal/model"
	"attendguard/internal/outlier"
	"attendguard/internal/storage"
)

func seedCompleted(t *testing.T, store storage.Store, days int) {
	t.Helper()
	ctx := context.Background()
	emp, err := store.SaveEmployee(ctx, model.Employee{Code: "EMP900", Credential: "AA00000900"})
	if err != nil {
		t.Fatalf("seed employee: %v", err)
	}
	first := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	for i := 0; i < days; i++ {
		day := first.AddDate(0, 0, i)
		in := day.Add(9*time.Hour + time.Duration(i%5)*time.Minute)
		out := day.Add(17*time.Hour + time.Duration(i%7)*time.Minute)
		rec := &model.AttendanceRecord{EmployeeID: emp.ID, Date: day, TimeIn: &in, TimeOut: &out, TotalHours: model.Ptr(out.Sub(in).Hours())}
		if _, err := store.Commit(ctx, storage.Changes{Record: rec}); err != nil {
			t.Fatalf("seed record %d: %v", i, err)
		}
	}
}

func TestTrainerNeedsTenRecords(t *testing.T) {
	store := storage.NewMemory()
	seedCompleted(t, store, 9)
	m := outlier.New(outlier.Options{MinSamples: 10, Trees: 50, SampleSize: 64, Contamination: 0.05, Seed: 42})
	tr := NewTrainer(store, m, nil, 100, 0)

	res, err := tr.Train(context.Background())
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if res.Trained || res.Samples != 9 || m.Status().Trained {
		t.Fatalf("nine records must not train: %+v", res)
	}

	seedCompletedDay(t, store, time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC))
	res, err = tr.Train(context.Background())
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if !res.Trained || !m.Status().Trained || res.Samples != 10 {
		t.Fatalf("ten records must train: %+v", res)
	}
}

func TestTrainerReportsQualifyingSamples(t *testing.T) {
	store := storage.NewMemory()
	seedCompleted(t, store, 10)
	m := &countingTrainable{qualify: 7}
	res, err := NewTrainer(store, m, nil, 100, 0).Train(context.Background())
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if m.seen != 10 || res.Samples != 7 || res.Trained {
		t.Fatalf("samples must reflect fitted records: seen=%d res=%+v", m.seen, res)
	}
}

type countingTrainable struct {
	qualify int
	seen    int
}

func (c *countingTrainable) Train(records []model.AttendanceRecord) (int, bool) {
	c.seen = len(records)
	return c.qualify, c.qualify >= 10
}

func seedCompletedDay(t *testing.T, store storage.Store, day time.Time) {
	t.Helper()
	ctx := context.Background()
	emp, err := store.FindEmployeeByCode(ctx, "EMP900")
	if err != nil {
		t.Fatalf("find employee: %v", err)
	}
	in := day.Add(9 * time.Hour)
	out := day.Add(17 * time.Hour)
	rec := &model.AttendanceRecord{EmployeeID: emp.ID, Date: day, TimeIn: &in, TimeOut: &out, TotalHours: model.Ptr(8.0)}
	if _, err := store.Commit(ctx, storage.Changes{Record: rec}); err != nil {
		t.Fatalf("seed record: %v", err)
	}
}

func TestTriggerHonoursCooldown(t *testing.T) {
	tr := NewTrainer(storage.NewMemory(), outlier.New(outlier.Options{}), nil, 10, time.Hour)
	if !tr.Trigger() {
		t.Fatalf("first trigger must be accepted")
	}
	if tr.Trigger() {
		t.Fatalf("second trigger inside cooldown must be dropped")
	}
}
