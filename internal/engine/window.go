package engine

import (
	"slices"
	"sort"
	"sync"
	"time"
)

type swipeEntry struct {
	Timestamp  time.Time
	EmployeeID int64
}

// SwipeWindow is a log of recent swipes across all employees, kept sorted by
// timestamp whatever order swipes arrive in. Entries older than the window,
// measured from the incoming swipe, are evicted on every Observe.
type SwipeWindow struct {
	mu       sync.Mutex
	duration time.Duration
	events   []swipeEntry
	head     int
	// per-employee timestamps, sorted; mirrors events[head:]
	byEmployee map[int64][]time.Time
}

func NewSwipeWindow(duration time.Duration) *SwipeWindow {
	return &SwipeWindow{
		duration:   duration,
		events:     make([]swipeEntry, 0, 128),
		byEmployee: make(map[int64][]time.Time),
	}
}

// Observe records the swipe and returns how many swipes by employeeID fall in
// [ts-duration, ts], the current one included.
func (w *SwipeWindow) Observe(employeeID int64, ts time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	cutoff := ts.Add(-w.duration)
	w.evict(cutoff)
	w.insert(swipeEntry{Timestamp: ts, EmployeeID: employeeID})

	times := w.byEmployee[employeeID]
	lo := sort.Search(len(times), func(i int) bool { return !times[i].Before(cutoff) })
	hi := sort.Search(len(times), func(i int) bool { return times[i].After(ts) })
	return hi - lo
}

// SetDuration applies a new window length from the next Observe on.
func (w *SwipeWindow) SetDuration(d time.Duration) {
	w.mu.Lock()
	w.duration = d
	w.mu.Unlock()
}

func (w *SwipeWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.events) - w.head
}

func (w *SwipeWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = w.events[:0]
	w.head = 0
	w.byEmployee = make(map[int64][]time.Time)
}

// insert places e after every entry not later than it. Callers hold mu.
func (w *SwipeWindow) insert(e swipeEntry) {
	live := w.events[w.head:]
	pos := w.head + sort.Search(len(live), func(i int) bool { return live[i].Timestamp.After(e.Timestamp) })
	w.events = slices.Insert(w.events, pos, e)

	times := w.byEmployee[e.EmployeeID]
	at := sort.Search(len(times), func(i int) bool { return times[i].After(e.Timestamp) })
	w.byEmployee[e.EmployeeID] = slices.Insert(times, at, e.Timestamp)
}

// evict drops entries before cutoff. The head of events is the oldest entry
// overall, so it is also the oldest of its employee. Callers hold mu.
func (w *SwipeWindow) evict(cutoff time.Time) {
	for w.head < len(w.events) {
		ev := w.events[w.head]
		if !ev.Timestamp.Before(cutoff) {
			break
		}
		if times := w.byEmployee[ev.EmployeeID]; len(times) <= 1 {
			delete(w.byEmployee, ev.EmployeeID)
		} else {
			w.byEmployee[ev.EmployeeID] = times[1:]
		}
		w.head++
	}
	if w.head > 0 && w.head*2 >= len(w.events) {
		w.events = append([]swipeEntry{}, w.events[w.head:]...)
		w.head = 0
	}
}
