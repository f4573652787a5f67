package records

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// DateLayout is the wire form of calendar dates.
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return t, nil
}

type Department struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func (s *Store) ListDepartments(ctx context.Context) ([]Department, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name FROM departments ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Department, error) {
		var d Department
		err := row.Scan(&d.ID, &d.Name)
		return d, err
	})
}

func (s *Store) CreateDepartment(ctx context.Context, name string) (Department, error) {
	d := Department{Name: strings.TrimSpace(name)}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO departments (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`, d.Name).Scan(&d.ID)
	return d, err
}

// Schedule is one shift assignment. EmployeeName comes from the profile.
type Schedule struct {
	ID                    int64     `json:"id"`
	EmployeeID            string    `json:"employee_id"`
	EmployeeName          string    `json:"employee_name"`
	Date                  time.Time `json:"date"`
	Shift                 string    `json:"shift"`
	TemporaryDepartmentID *int64    `json:"temporary_department_id,omitempty"`
	TemporaryDepartment   *string   `json:"temporary_department,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
}

// ScheduleInput carries the writable schedule fields.
type ScheduleInput struct {
	EmployeeID            string
	Date                  time.Time
	Shift                 string
	TemporaryDepartmentID *int64
}

const scheduleSelect = `
	SELECT s.id, s.employee_id, COALESCE(p.full_name, ''), s.date, s.shift, s.temporary_department, d.name, s.created_at
	FROM schedules s
	LEFT JOIN profiles p ON p.id = s.employee_id
	LEFT JOIN departments d ON d.id = s.temporary_department
`

func scanSchedule(row pgx.CollectableRow) (Schedule, error) {
	var sc Schedule
	err := row.Scan(&sc.ID, &sc.EmployeeID, &sc.EmployeeName, &sc.Date, &sc.Shift, &sc.TemporaryDepartmentID, &sc.TemporaryDepartment, &sc.CreatedAt)
	return sc, err
}

// ListSchedules returns every schedule ordered by date ascending.
func (s *Store) ListSchedules(ctx context.Context) ([]Schedule, error) {
	rows, err := s.pool.Query(ctx, scheduleSelect+`ORDER BY s.date ASC, s.id ASC`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanSchedule)
}

func (s *Store) ListSchedulesForEmployee(ctx context.Context, employeeID string) ([]Schedule, error) {
	rows, err := s.pool.Query(ctx, scheduleSelect+`WHERE s.employee_id = $1 ORDER BY s.date ASC`, employeeID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanSchedule)
}

func (s *Store) CreateSchedule(ctx context.Context, in ScheduleInput) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO schedules (employee_id, date, shift, temporary_department)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, in.EmployeeID, in.Date, in.Shift, in.TemporaryDepartmentID).Scan(&id)
	return id, err
}

func (s *Store) UpdateSchedule(ctx context.Context, id int64, in ScheduleInput) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE schedules
		SET employee_id = $1, date = $2, shift = $3, temporary_department = $4
		WHERE id = $5
	`, in.EmployeeID, in.Date, in.Shift, in.TemporaryDepartmentID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteSchedule(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type Attendance struct {
	ID           int64      `json:"id"`
	EmployeeID   string     `json:"employee_id"`
	EmployeeName string     `json:"employee_name,omitempty"`
	Date         time.Time  `json:"date"`
	Status       string     `json:"status"`
	CheckIn      *time.Time `json:"check_in,omitempty"`
	CheckOut     *time.Time `json:"check_out,omitempty"`
}

const attendanceSelect = `
	SELECT a.id, a.employee_id, COALESCE(e.full_name, ''), a.date, a.status, a.check_in, a.check_out
	FROM attendance a
	LEFT JOIN employees e ON e.id = a.employee_id
`

func scanAttendance(row pgx.CollectableRow) (Attendance, error) {
	var a Attendance
	err := row.Scan(&a.ID, &a.EmployeeID, &a.EmployeeName, &a.Date, &a.Status, &a.CheckIn, &a.CheckOut)
	return a, err
}

// RecordAttendance inserts or replaces the row for the employee and date.
func (s *Store) RecordAttendance(ctx context.Context, a Attendance) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO attendance (employee_id, date, status, check_in, check_out)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (employee_id, date) DO UPDATE SET
			status = EXCLUDED.status, check_in = EXCLUDED.check_in, check_out = EXCLUDED.check_out
		RETURNING id
	`, a.EmployeeID, a.Date, a.Status, a.CheckIn, a.CheckOut).Scan(&id)
	return id, err
}

// ListAttendanceForEmployee returns the employee's history, newest first.
func (s *Store) ListAttendanceForEmployee(ctx context.Context, employeeID string) ([]Attendance, error) {
	rows, err := s.pool.Query(ctx, attendanceSelect+`WHERE a.employee_id = $1 ORDER BY a.date DESC`, employeeID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanAttendance)
}

// ListAttendanceBetween returns rows with from <= date <= to ordered by date.
func (s *Store) ListAttendanceBetween(ctx context.Context, from, to time.Time) ([]Attendance, error) {
	rows, err := s.pool.Query(ctx, attendanceSelect+`
		WHERE a.date >= $1 AND a.date <= $2
		ORDER BY a.date ASC, e.full_name ASC
	`, from, to)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanAttendance)
}

// StatusCount is one slice of the attendance-trends chart.
type StatusCount struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// AttendanceTrends counts attendance rows by status since the given date.
func (s *Store) AttendanceTrends(ctx context.Context, since time.Time) ([]StatusCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT status, count(*)
		FROM attendance
		WHERE date >= $1
		GROUP BY status
		ORDER BY status
	`, since)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (StatusCount, error) {
		var sc StatusCount
		err := row.Scan(&sc.Name, &sc.Value)
		return sc, err
	})
}
