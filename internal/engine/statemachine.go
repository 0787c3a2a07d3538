package engine

import (
	"time"

	"attendguard/internal/clock"
	"attendguard/internal/model"
)

type Status string

const (
	StatusCheckedIn         Status = "checked_in"
	StatusBreakStarted      Status = "break_started"
	StatusBreakEnded        Status = "break_ended"
	StatusCheckedOut        Status = "checked_out"
	StatusAlreadyCheckedOut Status = "already_checked_out"
	StatusOutOfOrder        Status = "out_of_order"
	StatusDuplicate         Status = "duplicate"
)

// Rejected reports statuses that leave the record untouched.
func (s Status) Rejected() bool {
	switch s {
	case StatusAlreadyCheckedOut, StatusOutOfOrder, StatusDuplicate:
		return true
	}
	return false
}

// Step is the result of applying one swipe to a day record. Record is a copy
// with the transition applied; the caller decides whether to persist it.
type Step struct {
	Status     Status
	Record     *model.AttendanceRecord
	OpenBreak  *model.Break
	CloseBreak *model.Break
	// At is the time-out already on the record when the swipe is rejected
	// as already checked out.
	At time.Time
}

// Transition applies a swipe at the given instant to the employee's record for
// that day. current is nil when no record exists yet. current is never
// mutated.
func Transition(current *model.AttendanceRecord, employeeID int64, at time.Time, intent model.Intent, loc *time.Location) Step {
	if current == nil {
		in := at
		return Step{
			Status: StatusCheckedIn,
			Record: &model.AttendanceRecord{
				EmployeeID: employeeID,
				Date:       clock.DateOf(at, loc),
				TimeIn:     &in,
				Breaks:     []model.Break{},
			},
		}
	}

	rec := current.Clone()
	if rec.TimeOut != nil {
		return Step{Status: StatusAlreadyCheckedOut, Record: rec, At: *rec.TimeOut}
	}
	if at.Before(rec.LastEvent()) {
		return Step{Status: StatusOutOfOrder, Record: rec}
	}

	if open := rec.OpenBreak(); open != nil {
		end := at
		open.End = &end
		open.DurationMinutes = model.Ptr(clock.ElapsedMinutes(open.Start, end))
		closed := *open
		return Step{Status: StatusBreakEnded, Record: rec, CloseBreak: &closed}
	}

	if intent == model.IntentBreak {
		brk := model.Break{RecordID: rec.ID, Start: at}
		rec.Breaks = append(rec.Breaks, brk)
		return Step{Status: StatusBreakStarted, Record: rec, OpenBreak: &brk}
	}

	out := at
	rec.TimeOut = &out
	if rec.TimeIn != nil {
		rec.TotalHours = model.Ptr(clock.WorkedHours(*rec.TimeIn, out, rec.BreakMinutes()))
	}
	return Step{Status: StatusCheckedOut, Record: rec}
}
