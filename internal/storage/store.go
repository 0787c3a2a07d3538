package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"attendguard/internal/config"
	"attendguard/internal/model"
)

var ErrNotFound = errors.New("not found")

// Changes is one swipe's unit of work. Record with a zero ID is created,
// otherwise updated. OpenBreak is attached to Record; CloseBreak must already
// exist. All of it commits or none of it does.
type Changes struct {
	Record     *model.AttendanceRecord
	OpenBreak  *model.Break
	CloseBreak *model.Break
	Alerts     []model.Alert
}

func (c Changes) Empty() bool {
	return c.Record == nil && c.OpenBreak == nil && c.CloseBreak == nil && len(c.Alerts) == 0
}

type Store interface {
	Init(ctx context.Context) error
	Close() error

	FindEmployee(ctx context.Context, id int64) (model.Employee, error)
	FindEmployeeByCredential(ctx context.Context, credential string) (model.Employee, error)
	FindEmployeeByCode(ctx context.Context, code string) (model.Employee, error)
	SaveEmployee(ctx context.Context, emp model.Employee) (model.Employee, error)

	// FindRecord returns nil, nil when the employee has no record for date.
	FindRecord(ctx context.Context, employeeID int64, date time.Time) (*model.AttendanceRecord, error)
	ListRecords(ctx context.Context, employeeID int64, from, to time.Time) ([]model.AttendanceRecord, error)
	ListAnomalousRecords(ctx context.Context, employeeID int64, from, to time.Time) ([]model.AttendanceRecord, error)
	// ListCompletedRecords returns the newest records with both time-in and time-out.
	ListCompletedRecords(ctx context.Context, limit int) ([]model.AttendanceRecord, error)

	ListAlerts(ctx context.Context, filter model.AlertFilter) ([]model.Alert, error)

	// Commit applies the changes atomically and returns them with ids assigned.
	Commit(ctx context.Context, changes Changes) (Changes, error)
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return NewMemory(), nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
