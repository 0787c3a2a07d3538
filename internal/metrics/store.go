package metrics

import (
	"sort"
	"sync"
	"time"

	"attendguard/internal/clock"
	"attendguard/internal/model"
)

type State string

const (
	StatePresent    State = "present"
	StateOnBreak    State = "on_break"
	StateCheckedOut State = "checked_out"
)

type Presence struct {
	EmployeeID int64     `json:"employee_id"`
	Code       string    `json:"code"`
	Name       string    `json:"name"`
	Date       string    `json:"date"`
	State      State     `json:"state"`
	LastSwipe  time.Time `json:"last_swipe"`
}

type Stats struct {
	Date       string                  `json:"date"`
	Present    int                     `json:"present_today"`
	OnBreak    int                     `json:"on_break"`
	CheckedOut int                     `json:"checked_out"`
	Swipes     int                     `json:"swipes"`
	Alerts     int                     `json:"alerts_today"`
	BySeverity map[model.Severity]int  `json:"alerts_by_severity"`
	ByKind     map[model.AlertKind]int `json:"alerts_by_kind"`
	Employees  []Presence              `json:"employees,omitempty"`
}

type dayCounters struct {
	swipes     int
	alerts     int
	bySeverity map[model.Severity]int
	byKind     map[model.AlertKind]int
}

// Store is the live presence board: who is in, on break or gone for the day,
// and alert counters per day.
type Store struct {
	mu        sync.RWMutex
	presence  map[int64]Presence
	days      map[string]*dayCounters
	updatedAt map[int64]time.Time
	limit     int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 5000
	}
	return &Store{
		presence:  make(map[int64]Presence),
		days:      make(map[string]*dayCounters),
		updatedAt: make(map[int64]time.Time),
		limit:     limit,
	}
}

// Update records the employee's state after a swipe applied to rec.
func (s *Store) Update(emp model.Employee, rec *model.AttendanceRecord, at time.Time) {
	if rec == nil {
		return
	}
	state := StatePresent
	switch {
	case rec.TimeOut != nil:
		state = StateCheckedOut
	case rec.OpenBreak() != nil:
		state = StateOnBreak
	}
	date := clock.FormatDate(rec.Date)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence[emp.ID] = Presence{
		EmployeeID: emp.ID,
		Code:       emp.Code,
		Name:       emp.Name,
		Date:       date,
		State:      state,
		LastSwipe:  at,
	}
	s.updatedAt[emp.ID] = time.Now().UTC()
	if len(s.presence) > s.limit {
		s.evictOldest()
	}
}

// CountSwipe counts a swipe against its day, rejected or not.
func (s *Store) CountSwipe(date time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.day(clock.FormatDate(date)).swipes++
}

func (s *Store) CountAlerts(date time.Time, list []model.Alert) {
	if len(list) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.day(clock.FormatDate(date))
	for _, a := range list {
		d.alerts++
		d.bySeverity[a.Severity]++
		d.byKind[a.Kind]++
	}
}

func (s *Store) day(key string) *dayCounters {
	d, ok := s.days[key]
	if !ok {
		d = &dayCounters{
			bySeverity: make(map[model.Severity]int),
			byKind:     make(map[model.AlertKind]int),
		}
		s.days[key] = d
	}
	return d
}

func (s *Store) Get(employeeID int64) (Presence, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.presence[employeeID]
	return p, ok
}

// Snapshot summarises the board for one calendar day.
func (s *Store) Snapshot(date time.Time, withEmployees bool) Stats {
	key := clock.FormatDate(date)
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{
		Date:       key,
		BySeverity: make(map[model.Severity]int),
		ByKind:     make(map[model.AlertKind]int),
	}
	for _, p := range s.presence {
		if p.Date != key {
			continue
		}
		switch p.State {
		case StatePresent:
			st.Present++
		case StateOnBreak:
			st.Present++
			st.OnBreak++
		case StateCheckedOut:
			st.Present++
			st.CheckedOut++
		}
		if withEmployees {
			st.Employees = append(st.Employees, p)
		}
	}
	if d, ok := s.days[key]; ok {
		st.Swipes = d.swipes
		st.Alerts = d.alerts
		for k, v := range d.bySeverity {
			st.BySeverity[k] = v
		}
		for k, v := range d.byKind {
			st.ByKind[k] = v
		}
	}
	sort.Slice(st.Employees, func(i, j int) bool { return st.Employees[i].EmployeeID < st.Employees[j].EmployeeID })
	return st
}

func (s *Store) evictOldest() {
	var oldestID int64
	var oldest time.Time
	found := false
	for id, ts := range s.updatedAt {
		if !found || ts.Before(oldest) {
			oldestID = id
			oldest = ts
			found = true
		}
	}
	if found {
		delete(s.presence, oldestID)
		delete(s.updatedAt, oldestID)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presence = make(map[int64]Presence)
	s.days = make(map[string]*dayCounters)
	s.updatedAt = make(map[int64]time.Time)
}
