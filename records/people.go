package records

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"

	manpower "github.com/Official-TiredRice-ch/FC-Manpower-1.0"
)

// Employee is an employees row with its department names resolved.
type Employee struct {
	ID                  string  `json:"id"`
	FullName            string  `json:"full_name"`
	Email               string  `json:"email"`
	Role                string  `json:"role"`
	Department          *string `json:"department"`
	TemporaryDepartment *string `json:"temporary_department"`
	ContactNumber       *string `json:"contact_number"`
	Salary              float64 `json:"salary"`
	Status              string  `json:"status"`
}

// EffectiveDepartment prefers the temporary assignment from the latest schedule.
func (e Employee) EffectiveDepartment() string {
	switch {
	case e.TemporaryDepartment != nil:
		return *e.TemporaryDepartment
	case e.Department != nil:
		return *e.Department
	default:
		return ""
	}
}

// GetProfile returns the profile for id, filled with the employee details when
// an employees row exists.
func (s *Store) GetProfile(ctx context.Context, id string) (*manpower.Profile, error) {
	var (
		p      manpower.Profile
		role   string
		salary *float64
		status *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT p.id, p.full_name, p.role, d.name, e.contact_number, e.salary, e.status
		FROM profiles p
		LEFT JOIN employees e ON e.id = p.id
		LEFT JOIN departments d ON d.id = e.department_id
		WHERE p.id = $1
	`, id).Scan(&p.ID, &p.FullName, &role, &p.Department, &p.ContactNumber, &salary, &status)
	if err != nil {
		return nil, notFound(err)
	}
	p.Role = manpower.Role(role)
	p.Salary = salary
	if status != nil {
		p.Status = *status
	}
	return &p, nil
}

func (s *Store) UpsertProfile(ctx context.Context, p manpower.Profile) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO profiles (id, full_name, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET full_name = EXCLUDED.full_name, role = EXCLUDED.role
	`, p.ID, p.FullName, string(p.Role))
	return err
}

// ListProfilesByRole returns profiles ordered by name.
func (s *Store) ListProfilesByRole(ctx context.Context, role manpower.Role) ([]manpower.Profile, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, full_name, role
		FROM profiles
		WHERE role = $1
		ORDER BY full_name
	`, string(role))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (manpower.Profile, error) {
		var (
			p    manpower.Profile
			role string
		)
		err := row.Scan(&p.ID, &p.FullName, &role)
		p.Role = manpower.Role(role)
		return p, err
	})
}

func (s *Store) EmployeeExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM employees WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

// EmployeeEmailExists reports whether any employee row uses email.
func (s *Store) EmployeeEmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM employees WHERE lower(email) = lower($1))
	`, strings.TrimSpace(email)).Scan(&exists)
	return exists, err
}

// UpsertEmployee writes the row keyed by e.ID. Department is matched by name;
// an unknown name leaves the department empty.
func (s *Store) UpsertEmployee(ctx context.Context, e manpower.EmployeeRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO employees (id, full_name, email, role, department_id, contact_number, salary, status)
		VALUES ($1, $2, $3, $4, (SELECT id FROM departments WHERE name = $5), $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			email = EXCLUDED.email,
			role = EXCLUDED.role,
			department_id = COALESCE(EXCLUDED.department_id, employees.department_id),
			contact_number = COALESCE(EXCLUDED.contact_number, employees.contact_number),
			status = EXCLUDED.status
	`, e.ID, e.FullName, e.Email, string(e.Role), e.Department, e.ContactNumber, e.Salary, e.Status)
	return err
}

const employeeSelect = `
	SELECT e.id, e.full_name, e.email, e.role, d.name, td.name, e.contact_number, e.salary, e.status
	FROM employees e
	LEFT JOIN departments d ON d.id = e.department_id
	LEFT JOIN LATERAL (
		SELECT s.temporary_department
		FROM schedules s
		WHERE s.employee_id = e.id AND s.temporary_department IS NOT NULL
		ORDER BY s.created_at DESC
		LIMIT 1
	) latest ON true
	LEFT JOIN departments td ON td.id = latest.temporary_department
`

func scanEmployee(row pgx.CollectableRow) (Employee, error) {
	var e Employee
	err := row.Scan(&e.ID, &e.FullName, &e.Email, &e.Role, &e.Department, &e.TemporaryDepartment, &e.ContactNumber, &e.Salary, &e.Status)
	return e, err
}

// ListEmployees returns employees ordered by name. An empty status lists all.
func (s *Store) ListEmployees(ctx context.Context, status string) ([]Employee, error) {
	rows, err := s.pool.Query(ctx, employeeSelect+`
		WHERE $1 = '' OR e.status = $1
		ORDER BY e.full_name
	`, status)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanEmployee)
}

func (s *Store) GetEmployee(ctx context.Context, id string) (Employee, error) {
	rows, err := s.pool.Query(ctx, employeeSelect+`WHERE e.id = $1`, id)
	if err != nil {
		return Employee{}, err
	}
	e, err := pgx.CollectExactlyOneRow(rows, scanEmployee)
	return e, notFound(err)
}

func (s *Store) SetEmployeeStatus(ctx context.Context, id, status string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE employees SET status = $1 WHERE id = $2`, status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RoleCount is one bar of the employees-by-role chart.
type RoleCount struct {
	Role  string `json:"role"`
	Count int    `json:"count"`
}

func (s *Store) CountEmployeesByRole(ctx context.Context) ([]RoleCount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT role, count(*)
		FROM employees
		GROUP BY role
		ORDER BY role
	`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (RoleCount, error) {
		var rc RoleCount
		err := row.Scan(&rc.Role, &rc.Count)
		return rc, err
	})
}

// RegisterAccount creates the user, profile and employee rows of a new
// password account in one transaction.
func (s *Store) RegisterAccount(ctx context.Context, email, passwordHash string, e manpower.EmployeeRecord) (string, error) {
	var userID string
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM employees WHERE lower(email) = lower($1))
		`, email).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return ErrEmailTaken
		}

		id, err := createUser(ctx, tx, email, &passwordHash)
		if err != nil {
			return err
		}
		userID = id

		if _, err := tx.Exec(ctx, `
			INSERT INTO profiles (id, full_name, role) VALUES ($1, $2, $3)
		`, id, e.FullName, string(e.Role)); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO employees (id, full_name, email, role, department_id, contact_number, salary, status)
			VALUES ($1, $2, $3, $4, (SELECT id FROM departments WHERE name = $5), $6, $7, $8)
		`, id, e.FullName, email, string(e.Role), e.Department, e.ContactNumber, e.Salary, e.Status)
		return err
	})
	if err != nil {
		return "", err
	}
	return userID, nil
}
