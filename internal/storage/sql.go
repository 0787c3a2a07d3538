package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"attendguard/internal/model"
)

const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

type dialect struct {
	name string
	// postgres numbers its placeholders
	numbered bool
	// sqlite keeps timestamps as fixed-width UTC text so they order lexically
	textTimes bool
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqlStore struct {
	db      *sql.DB
	dialect dialect
}

func (s *sqlStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	return Migrate(ctx, s.db, s.dialect.name)
}

func (s *sqlStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *sqlStore) bind(query string) string {
	if !s.dialect.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func (s *sqlStore) timeArg(t time.Time) any {
	if s.dialect.textTimes {
		return t.UTC().Format(tsLayout)
	}
	return t.UTC()
}

func (s *sqlStore) nullTimeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return s.timeArg(*t)
}

// dbTime scans timestamps and dates stored either natively or as text.
type dbTime struct {
	Time  time.Time
	Valid bool
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = v, true
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	}
	return fmt.Errorf("unsupported time value %T", src)
}

func (t *dbTime) parse(v string) error {
	for _, layout := range []string{tsLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02"} {
		if parsed, err := time.Parse(layout, v); err == nil {
			t.Time, t.Valid = parsed, true
			return nil
		}
	}
	return fmt.Errorf("unsupported time format %q", v)
}

func (t dbTime) ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

const employeeColumns = `id, code, credential, name, department, position, join_date`

func scanEmployee(row interface{ Scan(...any) error }) (model.Employee, error) {
	var emp model.Employee
	var joined dbTime
	if err := row.Scan(&emp.ID, &emp.Code, &emp.Credential, &emp.Name, &emp.Department, &emp.Position, &joined); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Employee{}, ErrNotFound
		}
		return model.Employee{}, err
	}
	emp.JoinDate = joined.Time
	return emp, nil
}

func (s *sqlStore) FindEmployee(ctx context.Context, id int64) (model.Employee, error) {
	return scanEmployee(s.db.QueryRowContext(ctx, s.bind(`SELECT `+employeeColumns+` FROM employees WHERE id = ?`), id))
}

func (s *sqlStore) FindEmployeeByCredential(ctx context.Context, credential string) (model.Employee, error) {
	return scanEmployee(s.db.QueryRowContext(ctx, s.bind(`SELECT `+employeeColumns+` FROM employees WHERE UPPER(credential) = UPPER(?)`), credential))
}

func (s *sqlStore) FindEmployeeByCode(ctx context.Context, code string) (model.Employee, error) {
	return scanEmployee(s.db.QueryRowContext(ctx, s.bind(`SELECT `+employeeColumns+` FROM employees WHERE code = ?`), code))
}

func (s *sqlStore) SaveEmployee(ctx context.Context, emp model.Employee) (model.Employee, error) {
	if emp.Code == "" || emp.Credential == "" {
		return model.Employee{}, errors.New("employee code and credential are required")
	}
	if emp.JoinDate.IsZero() {
		emp.JoinDate = nowUTC()
	}
	existing, err := s.FindEmployeeByCode(ctx, emp.Code)
	switch {
	case err == nil:
		emp.ID = existing.ID
		_, err = s.db.ExecContext(ctx, s.bind(
			`UPDATE employees SET credential = ?, name = ?, department = ?, position = ?, join_date = ? WHERE id = ?`),
			emp.Credential, emp.Name, emp.Department, emp.Position, s.timeArg(emp.JoinDate), emp.ID)
		if err != nil {
			return model.Employee{}, fmt.Errorf("update employee %s: %w", emp.Code, err)
		}
		return emp, nil
	case errors.Is(err, ErrNotFound):
		err = s.db.QueryRowContext(ctx, s.bind(
			`INSERT INTO employees (code, credential, name, department, position, join_date)
			VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
			emp.Code, emp.Credential, emp.Name, emp.Department, emp.Position, s.timeArg(emp.JoinDate)).Scan(&emp.ID)
		if err != nil {
			return model.Employee{}, fmt.Errorf("insert employee %s: %w", emp.Code, err)
		}
		return emp, nil
	default:
		return model.Employee{}, err
	}
}

const recordColumns = `id, employee_id, work_date, time_in, time_out, total_hours, is_anomaly`

func scanRecord(row interface{ Scan(...any) error }) (model.AttendanceRecord, error) {
	var rec model.AttendanceRecord
	var date, in, out dbTime
	var hours sql.NullFloat64
	if err := row.Scan(&rec.ID, &rec.EmployeeID, &date, &in, &out, &hours, &rec.Anomalous); err != nil {
		return model.AttendanceRecord{}, err
	}
	rec.Date = date.Time
	rec.TimeIn = in.ptr()
	rec.TimeOut = out.ptr()
	if hours.Valid {
		rec.TotalHours = model.Ptr(hours.Float64)
	}
	rec.Breaks = []model.Break{}
	return rec, nil
}

func (s *sqlStore) FindRecord(ctx context.Context, employeeID int64, date time.Time) (*model.AttendanceRecord, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, s.bind(
		`SELECT `+recordColumns+` FROM attendance_records WHERE employee_id = ? AND work_date = ?`),
		employeeID, dateKey(date)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find record: %w", err)
	}
	list := []model.AttendanceRecord{rec}
	if err := s.loadBreaks(ctx, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

func (s *sqlStore) ListRecords(ctx context.Context, employeeID int64, from, to time.Time) ([]model.AttendanceRecord, error) {
	where, args := rangeClause(employeeID, from, to)
	return s.queryRecords(ctx, `SELECT `+recordColumns+` FROM attendance_records WHERE `+where+` ORDER BY work_date DESC, id DESC`, args...)
}

func (s *sqlStore) ListAnomalousRecords(ctx context.Context, employeeID int64, from, to time.Time) ([]model.AttendanceRecord, error) {
	where, args := rangeClause(employeeID, from, to)
	return s.queryRecords(ctx, `SELECT `+recordColumns+` FROM attendance_records WHERE `+where+` AND is_anomaly = TRUE ORDER BY work_date DESC, id DESC`, args...)
}

func (s *sqlStore) ListCompletedRecords(ctx context.Context, limit int) ([]model.AttendanceRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM attendance_records WHERE time_in IS NOT NULL AND time_out IS NOT NULL ORDER BY work_date DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ` + strconv.Itoa(limit)
	}
	return s.queryRecords(ctx, query)
}

func rangeClause(employeeID int64, from, to time.Time) (string, []any) {
	clauses := []string{"employee_id = ?"}
	args := []any{employeeID}
	if !from.IsZero() {
		clauses = append(clauses, "work_date >= ?")
		args = append(args, dateKey(from))
	}
	if !to.IsZero() {
		clauses = append(clauses, "work_date <= ?")
		args = append(args, dateKey(to))
	}
	return strings.Join(clauses, " AND "), args
}

func (s *sqlStore) queryRecords(ctx context.Context, query string, args ...any) ([]model.AttendanceRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.bind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()
	out := make([]model.AttendanceRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := s.loadBreaks(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

const breakChunk = 500

func (s *sqlStore) loadBreaks(ctx context.Context, records []model.AttendanceRecord) error {
	index := make(map[int64]int, len(records))
	for i := range records {
		index[records[i].ID] = i
	}
	for start := 0; start < len(records); start += breakChunk {
		end := start + breakChunk
		if end > len(records) {
			end = len(records)
		}
		args := make([]any, 0, end-start)
		marks := make([]string, 0, end-start)
		for _, rec := range records[start:end] {
			args = append(args, rec.ID)
			marks = append(marks, "?")
		}
		rows, err := s.db.QueryContext(ctx, s.bind(
			`SELECT id, record_id, start_time, end_time, duration_minutes FROM breaks
			WHERE record_id IN (`+strings.Join(marks, ", ")+`) ORDER BY start_time, id`), args...)
		if err != nil {
			return fmt.Errorf("load breaks: %w", err)
		}
		for rows.Next() {
			var b model.Break
			var startT, endT dbTime
			var dur sql.NullFloat64
			if err := rows.Scan(&b.ID, &b.RecordID, &startT, &endT, &dur); err != nil {
				rows.Close()
				return err
			}
			b.Start = startT.Time
			b.End = endT.ptr()
			if dur.Valid {
				b.DurationMinutes = model.Ptr(dur.Float64)
			}
			if i, ok := index[b.RecordID]; ok {
				records[i].Breaks = append(records[i].Breaks, b)
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlStore) ListAlerts(ctx context.Context, filter model.AlertFilter) ([]model.Alert, error) {
	clauses := []string{"1 = 1"}
	args := []any{}
	if filter.EmployeeID != 0 {
		clauses = append(clauses, "employee_id = ?")
		args = append(args, filter.EmployeeID)
	}
	if filter.Severity != "" {
		clauses = append(clauses, "severity = ?")
		args = append(args, string(filter.Severity))
	}
	if filter.Kind != "" {
		clauses = append(clauses, "alert_type = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.Resolved != nil {
		clauses = append(clauses, "is_resolved = ?")
		args = append(args, *filter.Resolved)
	}
	if !filter.Since.IsZero() {
		clauses = append(clauses, "ts >= ?")
		args = append(args, s.timeArg(filter.Since))
	}
	query := `SELECT id, employee_id, ts, alert_type, severity, description, is_resolved, swipe_id FROM alerts WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY ts DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + strconv.Itoa(filter.Limit)
	}
	rows, err := s.db.QueryContext(ctx, s.bind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()
	out := make([]model.Alert, 0)
	for rows.Next() {
		var a model.Alert
		var ts dbTime
		var kind, severity string
		var swipeID sql.NullString
		if err := rows.Scan(&a.ID, &a.EmployeeID, &ts, &kind, &severity, &a.Description, &a.Resolved, &swipeID); err != nil {
			return nil, err
		}
		a.Timestamp = ts.Time
		a.Kind = model.AlertKind(kind)
		a.Severity = model.Severity(severity)
		a.SwipeID = swipeID.String
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqlStore) Commit(ctx context.Context, changes Changes) (Changes, error) {
	if changes.Empty() {
		return changes, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Changes{}, err
	}
	out, err := s.commitTx(ctx, tx, changes)
	if err != nil {
		_ = tx.Rollback()
		return Changes{}, err
	}
	if err := tx.Commit(); err != nil {
		return Changes{}, err
	}
	return out, nil
}

func (s *sqlStore) commitTx(ctx context.Context, tx querier, changes Changes) (Changes, error) {
	out := changes
	var recordID int64
	if changes.Record != nil {
		rec := changes.Record.Clone()
		var hours any
		if rec.TotalHours != nil {
			hours = *rec.TotalHours
		}
		if rec.ID == 0 {
			err := tx.QueryRowContext(ctx, s.bind(
				`INSERT INTO attendance_records (employee_id, work_date, time_in, time_out, total_hours, is_anomaly)
				VALUES (?, ?, ?, ?, ?, ?) RETURNING id`),
				rec.EmployeeID, dateKey(rec.Date), s.nullTimeArg(rec.TimeIn), s.nullTimeArg(rec.TimeOut), hours, rec.Anomalous,
			).Scan(&rec.ID)
			if err != nil {
				return Changes{}, fmt.Errorf("insert record: %w", err)
			}
		} else {
			res, err := tx.ExecContext(ctx, s.bind(
				`UPDATE attendance_records SET time_in = ?, time_out = ?, total_hours = ?, is_anomaly = ? WHERE id = ?`),
				s.nullTimeArg(rec.TimeIn), s.nullTimeArg(rec.TimeOut), hours, rec.Anomalous, rec.ID)
			if err != nil {
				return Changes{}, fmt.Errorf("update record %d: %w", rec.ID, err)
			}
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				return Changes{}, fmt.Errorf("update record %d: %w", rec.ID, ErrNotFound)
			}
		}
		recordID = rec.ID
		for i := range rec.Breaks {
			rec.Breaks[i].RecordID = rec.ID
		}
		out.Record = rec
	}

	if changes.OpenBreak != nil {
		b := *changes.OpenBreak
		if b.RecordID == 0 {
			b.RecordID = recordID
		}
		err := tx.QueryRowContext(ctx, s.bind(
			`INSERT INTO breaks (record_id, start_time, end_time, duration_minutes) VALUES (?, ?, NULL, NULL) RETURNING id`),
			b.RecordID, s.timeArg(b.Start)).Scan(&b.ID)
		if err != nil {
			return Changes{}, fmt.Errorf("insert break: %w", err)
		}
		out.OpenBreak = &b
		if out.Record != nil {
			for i := range out.Record.Breaks {
				if out.Record.Breaks[i].ID == 0 && out.Record.Breaks[i].Start.Equal(b.Start) {
					out.Record.Breaks[i].ID = b.ID
				}
			}
		}
	}

	if changes.CloseBreak != nil {
		b := *changes.CloseBreak
		if b.End == nil || b.DurationMinutes == nil {
			return Changes{}, errors.New("close break: end time and duration required")
		}
		res, err := tx.ExecContext(ctx, s.bind(
			`UPDATE breaks SET end_time = ?, duration_minutes = ? WHERE id = ?`),
			s.timeArg(*b.End), *b.DurationMinutes, b.ID)
		if err != nil {
			return Changes{}, fmt.Errorf("close break %d: %w", b.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return Changes{}, fmt.Errorf("close break %d: %w", b.ID, ErrNotFound)
		}
		out.CloseBreak = &b
	}

	out.Alerts = make([]model.Alert, len(changes.Alerts))
	for i, a := range changes.Alerts {
		var swipeID any
		if a.SwipeID != "" {
			swipeID = a.SwipeID
		}
		err := tx.QueryRowContext(ctx, s.bind(
			`INSERT INTO alerts (employee_id, ts, alert_type, severity, description, is_resolved, swipe_id)
			VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`),
			a.EmployeeID, s.timeArg(a.Timestamp), string(a.Kind), string(a.Severity), a.Description, a.Resolved, swipeID,
		).Scan(&a.ID)
		if err != nil {
			return Changes{}, fmt.Errorf("insert alert: %w", err)
		}
		out.Alerts[i] = a
	}
	return out, nil
}
