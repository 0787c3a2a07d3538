package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"attendguard/internal/model"
)

func openSQLite(t *testing.T) Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "attendguard_test.db") + "?_pragma=busy_timeout(5000)"
	s, err := NewSQLite(dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestMemoryStoreContract(t *testing.T) {
	runContract(t, NewMemory())
}

func TestSQLiteStoreContract(t *testing.T) {
	runContract(t, openSQLite(t))
}

func TestSQLiteMigrationsAreIdempotent(t *testing.T) {
	s := openSQLite(t)
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("second init: %v", err)
	}
}

func runContract(t *testing.T, s Store) {
	ctx := context.Background()

	emp, err := s.SaveEmployee(ctx, model.Employee{Code: "EMP001", Credential: "5F3C7A9E1B", Name: "John Smith", Department: "Engineering", Position: "Developer"})
	if err != nil {
		t.Fatalf("save employee: %v", err)
	}
	if emp.ID == 0 {
		t.Fatalf("expected employee id")
	}
	again, err := s.SaveEmployee(ctx, model.Employee{Code: "EMP001", Credential: "5F3C7A9E1B", Name: "John Q. Smith"})
	if err != nil {
		t.Fatalf("upsert employee: %v", err)
	}
	if again.ID != emp.ID {
		t.Fatalf("upsert must keep id: %d vs %d", again.ID, emp.ID)
	}
	found, err := s.FindEmployeeByCredential(ctx, "5f3c7a9e1b")
	if err != nil || found.Name != "John Q. Smith" {
		t.Fatalf("find by credential: %+v %v", found, err)
	}
	if _, err := s.FindEmployeeByCredential(ctx, "NOPE"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.FindEmployeeByCode(ctx, "EMP001"); err != nil {
		t.Fatalf("find by code: %v", err)
	}
	if _, err := s.FindEmployee(ctx, emp.ID); err != nil {
		t.Fatalf("find by id: %v", err)
	}

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	if rec, err := s.FindRecord(ctx, emp.ID, day); err != nil || rec != nil {
		t.Fatalf("expected no record, got %+v %v", rec, err)
	}

	in := day.Add(9 * time.Hour)
	created, err := s.Commit(ctx, Changes{Record: &model.AttendanceRecord{EmployeeID: emp.ID, Date: day, TimeIn: &in}})
	if err != nil {
		t.Fatalf("create record: %v", err)
	}
	if created.Record.ID == 0 {
		t.Fatalf("expected record id")
	}
	if _, err := s.Commit(ctx, Changes{Record: &model.AttendanceRecord{EmployeeID: emp.ID, Date: day, TimeIn: &in}}); err == nil {
		t.Fatalf("expected second record for same day to fail")
	}

	rec := created.Record.Clone()
	brk := model.Break{Start: in.Add(2 * time.Hour)}
	rec.Breaks = append(rec.Breaks, brk)
	opened, err := s.Commit(ctx, Changes{Record: rec, OpenBreak: &brk})
	if err != nil {
		t.Fatalf("open break: %v", err)
	}
	if opened.OpenBreak == nil || opened.OpenBreak.ID == 0 {
		t.Fatalf("expected opened break id")
	}

	loaded, err := s.FindRecord(ctx, emp.ID, day)
	if err != nil || loaded == nil {
		t.Fatalf("reload: %+v %v", loaded, err)
	}
	open := loaded.OpenBreak()
	if open == nil {
		t.Fatalf("expected open break after reload")
	}
	end := open.Start.Add(20 * time.Minute)
	open.End = &end
	open.DurationMinutes = model.Ptr(20.0)
	closed := *open
	out := in.Add(8 * time.Hour)
	loaded.TimeOut = &out
	loaded.TotalHours = model.Ptr(7.0 + 40.0/60)
	loaded.Anomalous = true
	alert := model.Alert{EmployeeID: emp.ID, Timestamp: out, Kind: model.KindShortWorkday, Severity: model.SeverityMedium, Description: "short", SwipeID: "abc"}
	committed, err := s.Commit(ctx, Changes{Record: loaded, CloseBreak: &closed, Alerts: []model.Alert{alert}})
	if err != nil {
		t.Fatalf("close out: %v", err)
	}
	if len(committed.Alerts) != 1 || committed.Alerts[0].ID == 0 {
		t.Fatalf("expected alert id, got %+v", committed.Alerts)
	}

	final, err := s.FindRecord(ctx, emp.ID, day)
	if err != nil {
		t.Fatalf("final reload: %v", err)
	}
	if final.TimeOut == nil || !final.TimeOut.Equal(out) {
		t.Fatalf("time out not stored: %+v", final.TimeOut)
	}
	if !final.TimeIn.Equal(in) {
		t.Fatalf("time in changed: %v", final.TimeIn)
	}
	if len(final.Breaks) != 1 || final.Breaks[0].DurationMinutes == nil || *final.Breaks[0].DurationMinutes != 20 {
		t.Fatalf("break not closed: %+v", final.Breaks)
	}
	if !final.Anomalous {
		t.Fatalf("anomaly flag not stored")
	}

	anomalous, err := s.ListAnomalousRecords(ctx, emp.ID, day.AddDate(0, 0, -7), day)
	if err != nil || len(anomalous) != 1 {
		t.Fatalf("list anomalous: %d %v", len(anomalous), err)
	}
	none, err := s.ListAnomalousRecords(ctx, emp.ID, day.AddDate(0, 0, -7), day.AddDate(0, 0, -1))
	if err != nil || len(none) != 0 {
		t.Fatalf("range must exclude the day: %d %v", len(none), err)
	}
	all, err := s.ListRecords(ctx, emp.ID, time.Time{}, time.Time{})
	if err != nil || len(all) != 1 {
		t.Fatalf("list records: %d %v", len(all), err)
	}
	completed, err := s.ListCompletedRecords(ctx, 10)
	if err != nil || len(completed) != 1 {
		t.Fatalf("list completed: %d %v", len(completed), err)
	}

	alerts, err := s.ListAlerts(ctx, model.AlertFilter{EmployeeID: emp.ID, Severity: model.SeverityMedium})
	if err != nil || len(alerts) != 1 {
		t.Fatalf("list alerts: %d %v", len(alerts), err)
	}
	if alerts[0].Kind != model.KindShortWorkday || alerts[0].SwipeID != "abc" || alerts[0].Resolved {
		t.Fatalf("alert fields: %+v", alerts[0])
	}
	high, err := s.ListAlerts(ctx, model.AlertFilter{Severity: model.SeverityHigh})
	if err != nil || len(high) != 0 {
		t.Fatalf("severity filter: %d %v", len(high), err)
	}
	later, err := s.ListAlerts(ctx, model.AlertFilter{Since: out.Add(time.Minute)})
	if err != nil || len(later) != 0 {
		t.Fatalf("since filter: %d %v", len(later), err)
	}
}
