package web

import (
	"fmt"
	"net/http"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/Official-TiredRice-ch/FC-Manpower-1.0/records"
)

const attendanceSheet = "Attendance"

var attendanceHeader = []any{"Date", "Employee", "Employee ID", "Status", "Check-in", "Check-out"}

// handleAttendanceExport writes attendance between from and to (default: the
// trend window) as a spreadsheet.
func (s *Server) handleAttendanceExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	to := s.now().UTC()
	from := s.trendStart(s.cfg.TrendDays)
	if raw := q.Get("from"); raw != "" {
		d, err := records.ParseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "from must be YYYY-MM-DD.")
			return
		}
		from = d
	}
	if raw := q.Get("to"); raw != "" {
		d, err := records.ParseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "to must be YYYY-MM-DD.")
			return
		}
		to = d
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "to must not be before from.")
		return
	}

	rows, err := s.records.ListAttendanceBetween(r.Context(), from, to)
	if err != nil {
		s.storeFailure(w, "export_attendance", err)
		return
	}

	book, err := attendanceWorkbook(rows)
	if err != nil {
		s.logger.Error("building attendance workbook", "error", err)
		writeError(w, http.StatusInternalServerError, "Unable to build the export.")
		return
	}
	defer func() { _ = book.Close() }()

	name := fmt.Sprintf("attendance_%s_%s.xlsx", from.Format(records.DateLayout), to.Format(records.DateLayout))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if err := book.Write(w); err != nil {
		s.logger.Warn("writing attendance workbook", "error", err)
	}
}

func attendanceWorkbook(rows []records.Attendance) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), attendanceSheet); err != nil {
		_ = f.Close()
		return nil, err
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := f.SetSheetRow(attendanceSheet, "A1", &attendanceHeader); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := f.SetRowStyle(attendanceSheet, 1, 1, bold); err != nil {
		_ = f.Close()
		return nil, err
	}

	for i, a := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		row := []any{
			a.Date.Format(records.DateLayout),
			a.EmployeeName,
			a.EmployeeID,
			a.Status,
			clock(a.CheckIn),
			clock(a.CheckOut),
		}
		if err := f.SetSheetRow(attendanceSheet, cell, &row); err != nil {
			_ = f.Close()
			return nil, err
		}
	}

	if err := f.SetColWidth(attendanceSheet, "A", "F", 18); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

func clock(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("15:04")
}
