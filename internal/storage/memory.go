package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"attendguard/internal/model"
)

// memoryStore keeps everything in process; used when persistence is disabled
// and in tests.
type memoryStore struct {
	mu        sync.RWMutex
	employees map[int64]model.Employee
	records   map[int64]*model.AttendanceRecord
	byDay     map[string]int64
	alerts    []model.Alert
	nextID    int64
}

func NewMemory() Store {
	return &memoryStore{
		employees: make(map[int64]model.Employee),
		records:   make(map[int64]*model.AttendanceRecord),
		byDay:     make(map[string]int64),
	}
}

func (s *memoryStore) Init(context.Context) error { return nil }

func (s *memoryStore) Close() error { return nil }

func (s *memoryStore) id() int64 {
	s.nextID++
	return s.nextID
}

func dayIndex(employeeID int64, date time.Time) string {
	return fmt.Sprintf("%d|%s", employeeID, dateKey(date))
}

func (s *memoryStore) FindEmployee(_ context.Context, id int64) (model.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	emp, ok := s.employees[id]
	if !ok {
		return model.Employee{}, ErrNotFound
	}
	return emp, nil
}

func (s *memoryStore) FindEmployeeByCredential(_ context.Context, credential string) (model.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, emp := range s.employees {
		if strings.EqualFold(emp.Credential, credential) {
			return emp, nil
		}
	}
	return model.Employee{}, ErrNotFound
}

func (s *memoryStore) FindEmployeeByCode(_ context.Context, code string) (model.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, emp := range s.employees {
		if emp.Code == code {
			return emp, nil
		}
	}
	return model.Employee{}, ErrNotFound
}

func (s *memoryStore) SaveEmployee(_ context.Context, emp model.Employee) (model.Employee, error) {
	if emp.Code == "" || emp.Credential == "" {
		return model.Employee{}, errors.New("employee code and credential are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.employees {
		if existing.Code != emp.Code && strings.EqualFold(existing.Credential, emp.Credential) {
			return model.Employee{}, fmt.Errorf("credential %s already assigned to %s", emp.Credential, existing.Code)
		}
		if existing.Code == emp.Code {
			emp.ID = id
		}
	}
	if emp.ID == 0 {
		emp.ID = s.id()
	}
	if emp.JoinDate.IsZero() {
		emp.JoinDate = nowUTC()
	}
	s.employees[emp.ID] = emp
	return emp, nil
}

func (s *memoryStore) FindRecord(_ context.Context, employeeID int64, date time.Time) (*model.AttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byDay[dayIndex(employeeID, date)]
	if !ok {
		return nil, nil
	}
	return s.records[id].Clone(), nil
}

func (s *memoryStore) ListRecords(_ context.Context, employeeID int64, from, to time.Time) ([]model.AttendanceRecord, error) {
	return s.list(func(r *model.AttendanceRecord) bool {
		return r.EmployeeID == employeeID && inRange(r.Date, from, to)
	}, 0), nil
}

func (s *memoryStore) ListAnomalousRecords(_ context.Context, employeeID int64, from, to time.Time) ([]model.AttendanceRecord, error) {
	return s.list(func(r *model.AttendanceRecord) bool {
		return r.EmployeeID == employeeID && r.Anomalous && inRange(r.Date, from, to)
	}, 0), nil
}

func (s *memoryStore) ListCompletedRecords(_ context.Context, limit int) ([]model.AttendanceRecord, error) {
	return s.list(func(r *model.AttendanceRecord) bool {
		return r.TimeIn != nil && r.TimeOut != nil
	}, limit), nil
}

// list returns matches newest date first.
func (s *memoryStore) list(match func(*model.AttendanceRecord) bool, limit int) []model.AttendanceRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.AttendanceRecord, 0)
	for _, r := range s.records {
		if match(r) {
			out = append(out, *r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ki, kj := dateKey(out[i].Date), dateKey(out[j].Date)
		if ki != kj {
			return ki > kj
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func inRange(date, from, to time.Time) bool {
	key := dateKey(date)
	if !from.IsZero() && key < dateKey(from) {
		return false
	}
	if !to.IsZero() && key > dateKey(to) {
		return false
	}
	return true
}

func (s *memoryStore) ListAlerts(_ context.Context, filter model.AlertFilter) ([]model.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Alert, 0)
	for i := len(s.alerts) - 1; i >= 0; i-- {
		a := s.alerts[i]
		if !matchAlert(a, filter) {
			continue
		}
		out = append(out, a)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func matchAlert(a model.Alert, f model.AlertFilter) bool {
	if f.EmployeeID != 0 && a.EmployeeID != f.EmployeeID {
		return false
	}
	if f.Severity != "" && a.Severity != f.Severity {
		return false
	}
	if f.Kind != "" && a.Kind != f.Kind {
		return false
	}
	if f.Resolved != nil && a.Resolved != *f.Resolved {
		return false
	}
	if !f.Since.IsZero() && a.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

func (s *memoryStore) Commit(_ context.Context, changes Changes) (Changes, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := changes
	if changes.Record != nil {
		rec := changes.Record.Clone()
		key := dayIndex(rec.EmployeeID, rec.Date)
		if rec.ID == 0 {
			if _, exists := s.byDay[key]; exists {
				return Changes{}, fmt.Errorf("record for employee %d on %s already exists", rec.EmployeeID, dateKey(rec.Date))
			}
			rec.ID = s.id()
		} else if _, ok := s.records[rec.ID]; !ok {
			return Changes{}, fmt.Errorf("update record %d: %w", rec.ID, ErrNotFound)
		}
		for i := range rec.Breaks {
			rec.Breaks[i].RecordID = rec.ID
			if rec.Breaks[i].ID == 0 {
				rec.Breaks[i].ID = s.id()
			}
		}
		s.records[rec.ID] = rec
		s.byDay[key] = rec.ID
		out.Record = rec.Clone()
		if changes.OpenBreak != nil {
			if opened := rec.OpenBreak(); opened != nil {
				b := *opened
				out.OpenBreak = &b
			}
		}
		if changes.CloseBreak != nil {
			for _, b := range rec.Breaks {
				if b.ID == changes.CloseBreak.ID {
					closed := b
					out.CloseBreak = &closed
				}
			}
		}
	}

	out.Alerts = make([]model.Alert, len(changes.Alerts))
	for i, a := range changes.Alerts {
		a.ID = s.id()
		s.alerts = append(s.alerts, a)
		out.Alerts[i] = a
	}
	return out, nil
}
