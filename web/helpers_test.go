package web

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	manpower "github.com/Official-TiredRice-ch/FC-Manpower-1.0"
	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/backend"
	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/jwt"
	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/password"
	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/records"
)

// memRecords is an in-memory stand-in for *records.Store covering both the
// backend directory and the data API.
type memRecords struct {
	mu          sync.Mutex
	users       map[string]records.User
	profiles    map[string]manpower.Profile
	employees   map[string]manpower.EmployeeRecord
	departments []records.Department
	schedules   map[int64]records.Schedule
	attendance  []records.Attendance
	nextID      int64
}

var (
	_ Records           = (*memRecords)(nil)
	_ backend.Directory = (*memRecords)(nil)
)

func newMemRecords() *memRecords {
	return &memRecords{
		users:     map[string]records.User{},
		profiles:  map[string]manpower.Profile{},
		employees: map[string]manpower.EmployeeRecord{},
		schedules: map[int64]records.Schedule{},
	}
}

func (m *memRecords) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memRecords) Ping(context.Context) error { return nil }

func (m *memRecords) GetProfile(_ context.Context, id string) (*manpower.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, records.ErrNotFound
	}
	return &p, nil
}

func (m *memRecords) UpsertProfile(_ context.Context, p manpower.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.ID] = p
	if e, ok := m.employees[p.ID]; ok {
		e.Role = p.Role
		m.employees[p.ID] = e
	}
	return nil
}

func (m *memRecords) EmployeeExists(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.employees[id]
	return ok, nil
}

func (m *memRecords) UpsertEmployee(_ context.Context, e manpower.EmployeeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.employees[e.ID] = e
	return nil
}

func (m *memRecords) GetUserByEmail(_ context.Context, email string) (records.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return records.User{}, records.ErrNotFound
}

func (m *memRecords) SetPasswordHash(_ context.Context, userID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[userID]
	u.PasswordHash = &hash
	m.users[userID] = u
	return nil
}

func (m *memRecords) LinkIdentity(_ context.Context, provider, subject, email string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(provider+"/"+subject)).String()
	if _, ok := m.users[id]; !ok {
		m.users[id] = records.User{ID: id, Email: email}
	}
	return id, nil
}

func (m *memRecords) RegisterAccount(_ context.Context, email, hash string, e manpower.EmployeeRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return "", records.ErrEmailTaken
		}
	}
	id := uuid.NewString()
	m.users[id] = records.User{ID: id, Email: email, PasswordHash: &hash}
	m.profiles[id] = manpower.Profile{ID: id, FullName: e.FullName, Role: e.Role, Status: e.Status}
	e.ID = id
	m.employees[id] = e
	return id, nil
}

func (m *memRecords) ListProfilesByRole(_ context.Context, role manpower.Role) ([]manpower.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []manpower.Profile
	for _, p := range m.profiles {
		if p.Role == role {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out, nil
}

func (m *memRecords) ListEmployees(_ context.Context, status string) ([]records.Employee, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []records.Employee
	for _, e := range m.employees {
		if status != "" && e.Status != status {
			continue
		}
		out = append(out, records.Employee{
			ID: e.ID, FullName: e.FullName, Email: e.Email, Role: string(e.Role),
			Department: e.Department, ContactNumber: e.ContactNumber, Salary: e.Salary, Status: e.Status,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out, nil
}

func (m *memRecords) SetEmployeeStatus(_ context.Context, id, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.employees[id]
	if !ok {
		return records.ErrNotFound
	}
	e.Status = status
	m.employees[id] = e
	return nil
}

func (m *memRecords) CountEmployeesByRole(_ context.Context) ([]records.RoleCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[string]int{}
	for _, e := range m.employees {
		counts[string(e.Role)]++
	}
	var out []records.RoleCount
	for role, n := range counts {
		out = append(out, records.RoleCount{Role: role, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Role < out[j].Role })
	return out, nil
}

func (m *memRecords) ListDepartments(_ context.Context) ([]records.Department, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]records.Department(nil), m.departments...), nil
}

func (m *memRecords) CreateDepartment(_ context.Context, name string) (records.Department, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := records.Department{ID: m.id(), Name: strings.TrimSpace(name)}
	m.departments = append(m.departments, d)
	return d, nil
}

func (m *memRecords) ListSchedules(_ context.Context) ([]records.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []records.Schedule
	for _, s := range m.schedules {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *memRecords) ListSchedulesForEmployee(ctx context.Context, employeeID string) ([]records.Schedule, error) {
	all, _ := m.ListSchedules(ctx)
	var out []records.Schedule
	for _, s := range all {
		if s.EmployeeID == employeeID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memRecords) CreateSchedule(_ context.Context, in records.ScheduleInput) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.id()
	m.schedules[id] = records.Schedule{
		ID: id, EmployeeID: in.EmployeeID, EmployeeName: m.profiles[in.EmployeeID].FullName,
		Date: in.Date, Shift: in.Shift, TemporaryDepartmentID: in.TemporaryDepartmentID, CreatedAt: time.Now(),
	}
	return id, nil
}

func (m *memRecords) UpdateSchedule(_ context.Context, id int64, in records.ScheduleInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return records.ErrNotFound
	}
	s.EmployeeID, s.Date, s.Shift, s.TemporaryDepartmentID = in.EmployeeID, in.Date, in.Shift, in.TemporaryDepartmentID
	m.schedules[id] = s
	return nil
}

func (m *memRecords) DeleteSchedule(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedules[id]; !ok {
		return records.ErrNotFound
	}
	delete(m.schedules, id)
	return nil
}

func (m *memRecords) RecordAttendance(_ context.Context, a records.Attendance) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = m.id()
	a.EmployeeName = m.employees[a.EmployeeID].FullName
	m.attendance = append(m.attendance, a)
	return a.ID, nil
}

func (m *memRecords) ListAttendanceForEmployee(_ context.Context, employeeID string) ([]records.Attendance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []records.Attendance
	for _, a := range m.attendance {
		if a.EmployeeID == employeeID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	return out, nil
}

func (m *memRecords) ListAttendanceBetween(_ context.Context, from, to time.Time) ([]records.Attendance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []records.Attendance
	for _, a := range m.attendance {
		if !a.Date.Before(from) && !a.Date.After(to) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *memRecords) AttendanceTrends(_ context.Context, since time.Time) ([]records.StatusCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[string]int{}
	for _, a := range m.attendance {
		if !a.Date.Before(since) {
			counts[a.Status]++
		}
	}
	var out []records.StatusCount
	for name, n := range counts {
		out = append(out, records.StatusCount{Name: name, Value: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type testApp struct {
	srv      *httptest.Server
	accounts *backend.Service
	recs     *memRecords
	contexts *Registry
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	tokens, err := jwt.NewManager(jwt.Config{
		AccessTTL:     time.Minute,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte(strings.Repeat("k", 32)),
		Issuer:        "manpower",
	})
	require.NoError(t, err)
	hasher, err := password.NewArgon2(password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16})
	require.NoError(t, err)

	recs := newMemRecords()
	accounts, err := backend.NewService(backend.Deps{
		Redis:     rdb,
		Directory: recs,
		Tokens:    tokens,
		Hasher:    hasher,
	}, backend.DefaultConfig())
	require.NoError(t, err)

	contexts, err := NewRegistry(func(id string) manpower.SessionStore { return accounts.Client(id) }, DefaultRegistryConfig())
	require.NoError(t, err)
	t.Cleanup(contexts.Close)

	dist := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dist, "index.html"), []byte("<!doctype html><div id=root></div>"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dist, "assets"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dist, "assets", "app.js"), []byte("console.log('app')"), 0o644))

	cfg := DefaultConfig()
	cfg.DistDir = dist
	srv, err := NewServer(Deps{Accounts: accounts, Records: recs, Contexts: contexts}, cfg)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testApp{srv: ts, accounts: accounts, recs: recs, contexts: contexts}
}

// browser returns a client with its own cookie jar that does not follow redirects.
func (a *testApp) browser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar:     jar,
		Timeout: 5 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
