package web

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	manpower "github.com/Official-TiredRice-ch/FC-Manpower-1.0"
	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/records"
)

// Shifts offered by the schedule form.
var shifts = map[string]bool{"Morning": true, "Afternoon": true, "Evening": true}

type scheduleRequest struct {
	EmployeeID            string `json:"employee_id"`
	Date                  string `json:"date"`
	Shift                 string `json:"shift"`
	TemporaryDepartmentID *int64 `json:"temporary_department_id"`
}

func (req scheduleRequest) input() (records.ScheduleInput, string) {
	date, err := records.ParseDate(req.Date)
	switch {
	case strings.TrimSpace(req.EmployeeID) == "":
		return records.ScheduleInput{}, "Select an employee."
	case err != nil:
		return records.ScheduleInput{}, "Date must be YYYY-MM-DD."
	case !shifts[req.Shift]:
		return records.ScheduleInput{}, "Select a shift."
	}
	return records.ScheduleInput{
		EmployeeID:            strings.TrimSpace(req.EmployeeID),
		Date:                  date,
		Shift:                 req.Shift,
		TemporaryDepartmentID: req.TemporaryDepartmentID,
	}, ""
}

type attendanceRequest struct {
	EmployeeID string     `json:"employee_id"`
	Date       string     `json:"date"`
	Status     string     `json:"status"`
	CheckIn    *time.Time `json:"check_in"`
	CheckOut   *time.Time `json:"check_out"`
}

type dashboardStats struct {
	TotalEmployees   int                   `json:"total_employees"`
	PendingEmployees int                   `json:"pending_employees"`
	ByRole           []records.RoleCount   `json:"by_role"`
	AttendanceTrends []records.StatusCount `json:"attendance_trends"`
	TrendDays        int                   `json:"trend_days"`
}

func (s *Server) storeFailure(w http.ResponseWriter, op string, err error) {
	s.logger.Error("data request failed", "op", op, "error", err)
	writeError(w, http.StatusInternalServerError, "Unable to load data right now.")
}

func (s *Server) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	byRole, err := s.records.CountEmployeesByRole(ctx)
	if err != nil {
		s.storeFailure(w, "count_by_role", err)
		return
	}
	pending, err := s.records.ListEmployees(ctx, manpower.StatusPending)
	if err != nil {
		s.storeFailure(w, "list_pending", err)
		return
	}
	trends, err := s.records.AttendanceTrends(ctx, s.trendStart(s.cfg.TrendDays))
	if err != nil {
		s.storeFailure(w, "attendance_trends", err)
		return
	}

	stats := dashboardStats{
		ByRole:           nonNil(byRole),
		PendingEmployees: len(pending),
		AttendanceTrends: nonNil(trends),
		TrendDays:        s.cfg.TrendDays,
	}
	for _, rc := range byRole {
		stats.TotalEmployees += rc.Count
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	role := manpower.RoleEmployee
	if raw := r.URL.Query().Get("role"); raw != "" {
		parsed, err := manpower.ParseRole(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Unknown role.")
			return
		}
		role = parsed
	}
	profiles, err := s.records.ListProfilesByRole(r.Context(), role)
	if err != nil {
		s.storeFailure(w, "list_profiles", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(profiles))
}

func (s *Server) handleListEmployees(w http.ResponseWriter, r *http.Request) {
	s.listEmployees(w, r, r.URL.Query().Get("status"))
}

func (s *Server) handleListPending(w http.ResponseWriter, r *http.Request) {
	s.listEmployees(w, r, manpower.StatusPending)
}

func (s *Server) listEmployees(w http.ResponseWriter, r *http.Request, status string) {
	employees, err := s.records.ListEmployees(r.Context(), status)
	if err != nil {
		s.storeFailure(w, "list_employees", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(employees))
}

func (s *Server) handleApproveEmployee(w http.ResponseWriter, r *http.Request) {
	err := s.records.SetEmployeeStatus(r.Context(), chi.URLParam(r, "id"), manpower.StatusActive)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, records.ErrNotFound):
		writeError(w, http.StatusNotFound, "Employee not found.")
	default:
		s.storeFailure(w, "approve_employee", err)
	}
}

func (s *Server) handleListDepartments(w http.ResponseWriter, r *http.Request) {
	deps, err := s.records.ListDepartments(r.Context())
	if err != nil {
		s.storeFailure(w, "list_departments", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(deps))
}

func (s *Server) handleCreateDepartment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(w, r, &req); err != nil || strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "Department name is required.")
		return
	}
	dep, err := s.records.CreateDepartment(r.Context(), req.Name)
	if err != nil {
		s.storeFailure(w, "create_department", err)
		return
	}
	writeJSON(w, http.StatusCreated, dep)
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	list, err := s.records.ListSchedules(r.Context())
	if err != nil {
		s.storeFailure(w, "list_schedules", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	in, problem := req.input()
	if problem != "" {
		writeError(w, http.StatusBadRequest, problem)
		return
	}
	id, err := s.records.CreateSchedule(r.Context(), in)
	if err != nil {
		s.storeFailure(w, "create_schedule", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := scheduleID(w, r)
	if !ok {
		return
	}
	var req scheduleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	in, problem := req.input()
	if problem != "" {
		writeError(w, http.StatusBadRequest, problem)
		return
	}
	switch err := s.records.UpdateSchedule(r.Context(), id, in); {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, records.ErrNotFound):
		writeError(w, http.StatusNotFound, "Schedule not found.")
	default:
		s.storeFailure(w, "update_schedule", err)
	}
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	id, ok := scheduleID(w, r)
	if !ok {
		return
	}
	switch err := s.records.DeleteSchedule(r.Context(), id); {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, records.ErrNotFound):
		writeError(w, http.StatusNotFound, "Schedule not found.")
	default:
		s.storeFailure(w, "delete_schedule", err)
	}
}

func scheduleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid schedule id.")
		return 0, false
	}
	return id, true
}

func (s *Server) handleRecordAttendance(w http.ResponseWriter, r *http.Request) {
	var req attendanceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}
	date, err := records.ParseDate(req.Date)
	if err != nil || strings.TrimSpace(req.EmployeeID) == "" || strings.TrimSpace(req.Status) == "" {
		writeError(w, http.StatusBadRequest, "Employee, date (YYYY-MM-DD) and status are required.")
		return
	}
	if req.CheckIn != nil && req.CheckOut != nil && req.CheckOut.Before(*req.CheckIn) {
		writeError(w, http.StatusBadRequest, "Check-out must not be before check-in.")
		return
	}
	id, err := s.records.RecordAttendance(r.Context(), records.Attendance{
		EmployeeID: strings.TrimSpace(req.EmployeeID),
		Date:       date,
		Status:     strings.TrimSpace(req.Status),
		CheckIn:    req.CheckIn,
		CheckOut:   req.CheckOut,
	})
	if err != nil {
		s.storeFailure(w, "record_attendance", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (s *Server) handleAttendanceTrends(w http.ResponseWriter, r *http.Request) {
	days := s.cfg.TrendDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 366 {
			writeError(w, http.StatusBadRequest, "days must be between 1 and 366.")
			return
		}
		days = n
	}
	trends, err := s.records.AttendanceTrends(r.Context(), s.trendStart(days))
	if err != nil {
		s.storeFailure(w, "attendance_trends", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(trends))
}

func (s *Server) handleMySchedules(w http.ResponseWriter, r *http.Request) {
	id, ok := subject(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	list, err := s.records.ListSchedulesForEmployee(r.Context(), id)
	if err != nil {
		s.storeFailure(w, "my_schedules", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

func (s *Server) handleMyAttendance(w http.ResponseWriter, r *http.Request) {
	id, ok := subject(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	list, err := s.records.ListAttendanceForEmployee(r.Context(), id)
	if err != nil {
		s.storeFailure(w, "my_attendance", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(list))
}

// trendStart is the first calendar day of a window of the given length
// ending today.
func (s *Server) trendStart(days int) time.Time {
	y, m, d := s.now().UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -days)
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}
