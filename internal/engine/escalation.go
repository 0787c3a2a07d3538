package engine

import (
	"context"
	"fmt"
	"time"

	"attendguard/internal/model"
)

// AnomalyHistory is the store query escalation needs.
type AnomalyHistory interface {
	ListAnomalousRecords(ctx context.Context, employeeID int64, from, to time.Time) ([]model.AttendanceRecord, error)
}

// Escalation counts anomalous days in a trailing lookback window.
type Escalation struct {
	Threshold    int
	LookbackDays int
}

// HasConsecutiveAnomalies counts stored anomalous records dated in
// [date-lookback, date) plus the current record when it is anomalous.
func (e Escalation) HasConsecutiveAnomalies(ctx context.Context, history AnomalyHistory, employeeID int64, date time.Time, currentAnomalous bool) (bool, int, error) {
	if e.Threshold <= 0 {
		return false, 0, nil
	}
	from := date.AddDate(0, 0, -e.LookbackDays)
	to := date.AddDate(0, 0, -1)
	prior, err := history.ListAnomalousRecords(ctx, employeeID, from, to)
	if err != nil {
		return false, 0, fmt.Errorf("list anomalous records: %w", err)
	}
	count := len(prior)
	if currentAnomalous {
		count++
	}
	return count >= e.Threshold, count, nil
}

func (e Escalation) candidate() model.Candidate {
	return model.Candidate{
		Kind:        model.KindConsecutiveAnomalies,
		Severity:    model.SeverityCritical,
		Description: fmt.Sprintf("Employee has shown %d or more anomalies in the past %d days.", e.Threshold, e.LookbackDays),
	}
}
