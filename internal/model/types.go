package model

import "time"

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

type AlertKind string

const (
	KindLateArrival          AlertKind = "Late Arrival"
	KindEarlyDeparture       AlertKind = "Early Departure"
	KindExtendedBreak        AlertKind = "Extended Break"
	KindMissingCheckIn       AlertKind = "Missing Check-in"
	KindMissingCheckOut      AlertKind = "Missing Check-out"
	KindMultipleSwipes       AlertKind = "Multiple Swipes"
	KindUnusualPattern       AlertKind = "Unusual Pattern"
	KindShortWorkday         AlertKind = "Short Workday"
	KindConsecutiveAnomalies AlertKind = "Consecutive Anomalies"
)

var AlertKinds = []AlertKind{
	KindLateArrival,
	KindEarlyDeparture,
	KindExtendedBreak,
	KindMissingCheckIn,
	KindMissingCheckOut,
	KindMultipleSwipes,
	KindUnusualPattern,
	KindShortWorkday,
	KindConsecutiveAnomalies,
}

func (k AlertKind) Valid() bool {
	for _, known := range AlertKinds {
		if k == known {
			return true
		}
	}
	return false
}

type Intent string

const (
	IntentNone  Intent = ""
	IntentBreak Intent = "break"
)

type Employee struct {
	ID         int64     `json:"id" yaml:"-"`
	Code       string    `json:"employee_id" yaml:"employee_id"`
	Credential string    `json:"rfid_tag" yaml:"rfid_tag"`
	Name       string    `json:"name" yaml:"name"`
	Department string    `json:"department" yaml:"department"`
	Position   string    `json:"position" yaml:"position"`
	JoinDate   time.Time `json:"join_date" yaml:"join_date"`
}

type Break struct {
	ID              int64      `json:"id"`
	RecordID        int64      `json:"record_id"`
	Start           time.Time  `json:"start_time"`
	End             *time.Time `json:"end_time,omitempty"`
	DurationMinutes *float64   `json:"duration,omitempty"`
}

func (b Break) Open() bool {
	return b.End == nil
}

type AttendanceRecord struct {
	ID         int64      `json:"id"`
	EmployeeID int64      `json:"employee_id"`
	Date       time.Time  `json:"date"`
	TimeIn     *time.Time `json:"time_in,omitempty"`
	TimeOut    *time.Time `json:"time_out,omitempty"`
	Breaks     []Break    `json:"breaks"`
	TotalHours *float64   `json:"total_hours,omitempty"`
	Anomalous  bool       `json:"is_anomaly"`
}

// OpenBreak returns the break without an end time, if any.
func (r *AttendanceRecord) OpenBreak() *Break {
	for i := range r.Breaks {
		if r.Breaks[i].Open() {
			return &r.Breaks[i]
		}
	}
	return nil
}

// BreakMinutes sums the durations of closed breaks.
func (r *AttendanceRecord) BreakMinutes() float64 {
	var total float64
	for _, b := range r.Breaks {
		if b.DurationMinutes != nil {
			total += *b.DurationMinutes
		}
	}
	return total
}

// LastEvent is the latest timestamp already applied to the record.
func (r *AttendanceRecord) LastEvent() time.Time {
	var last time.Time
	consider := func(t *time.Time) {
		if t != nil && t.After(last) {
			last = *t
		}
	}
	consider(r.TimeIn)
	consider(r.TimeOut)
	for i := range r.Breaks {
		start := r.Breaks[i].Start
		consider(&start)
		consider(r.Breaks[i].End)
	}
	return last
}

func (r *AttendanceRecord) Clone() *AttendanceRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.TimeIn = cloneTime(r.TimeIn)
	out.TimeOut = cloneTime(r.TimeOut)
	out.TotalHours = cloneFloat(r.TotalHours)
	out.Breaks = make([]Break, len(r.Breaks))
	for i, b := range r.Breaks {
		b.End = cloneTime(b.End)
		b.DurationMinutes = cloneFloat(b.DurationMinutes)
		out.Breaks[i] = b
	}
	return &out
}

type Candidate struct {
	Kind        AlertKind `json:"type"`
	Severity    Severity  `json:"severity"`
	Description string    `json:"description"`
}

type Alert struct {
	ID          int64     `json:"id"`
	EmployeeID  int64     `json:"employee_id"`
	Timestamp   time.Time `json:"timestamp"`
	Kind        AlertKind `json:"alert_type"`
	Severity    Severity  `json:"severity"`
	Description string    `json:"description"`
	Resolved    bool      `json:"is_resolved"`
	SwipeID     string    `json:"swipe_id,omitempty"`
}

type AlertFilter struct {
	EmployeeID int64
	Severity   Severity
	Kind       AlertKind
	Resolved   *bool
	Since      time.Time
	Limit      int
}

type Swipe struct {
	Timestamp  time.Time `json:"timestamp"`
	Credential string    `json:"rfid_tag"`
	Intent     Intent    `json:"action,omitempty"`
	ReaderID   string    `json:"reader_id,omitempty"`
	Source     string    `json:"source,omitempty"`
	Raw        string    `json:"raw,omitempty"`
}

func Ptr[T any](v T) *T {
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
