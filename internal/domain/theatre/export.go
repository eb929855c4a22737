package theatre

import (
	"fmt"
	"io"

	"github.com/theatreops/theatre/internal/platform/export"
)

var (
	sessionColumns = []string{
		"Session ID", "Date", "Day", "Session", "Start", "End", "Theatre",
		"Consultant ID", "Consultant", "Specialty", "Subspecialty", "Status",
		"Patients", "Scheduled (min)", "Capacity (min)", "Utilization %",
	}
	assignmentColumns = []string{
		"Date", "Theatre", "Consultant ID", "Position", "Patient ID", "Patient",
		"Hospital Number", "Procedure", "Code", "Priority", "Estimate (min)",
	}
)

// WriteWorkbook renders sessions as an xlsx workbook with a Sessions sheet,
// an Assignments sheet and, when sum is not nil, a Summary sheet.
func WriteWorkbook(w io.Writer, sessions []*TheatreSession, sum *RunSummary) error {
	wb := export.NewWorkbook()
	defer wb.Close()

	if err := writeSessionsSheet(wb, sessions); err != nil {
		return fmt.Errorf("sessions sheet: %w", err)
	}
	if err := writeAssignmentsSheet(wb, sessions); err != nil {
		return fmt.Errorf("assignments sheet: %w", err)
	}
	if sum != nil {
		if err := writeSummarySheet(wb, sum); err != nil {
			return fmt.Errorf("summary sheet: %w", err)
		}
	}
	if err := wb.SetActive("Sessions"); err != nil {
		return err
	}
	return wb.Write(w)
}

func writeSessionsSheet(wb *export.Workbook, sessions []*TheatreSession) error {
	if err := wb.AddSheet("Sessions"); err != nil {
		return err
	}
	if err := wb.WriteHeader(sessionColumns); err != nil {
		return err
	}
	for _, s := range sessions {
		sub := ""
		if s.Subspecialty != nil {
			sub = *s.Subspecialty
		}
		if err := wb.WriteRow([]interface{}{
			s.ID.String(), s.Date, s.DayOfWeek, string(s.SessionType), s.StartTime, s.EndTime, s.Theatre,
			s.ConsultantID, s.ConsultantName, s.Specialty, sub, s.Status,
			len(s.Patients), s.ScheduledMinutes(), s.TotalDuration, s.Utilization,
		}); err != nil {
			return err
		}
	}
	return wb.SetColumnWidths(38, 12, 11, 9, 7, 7, 11, 14, 24, 18, 18, 11, 9, 15, 14, 13)
}

func writeAssignmentsSheet(wb *export.Workbook, sessions []*TheatreSession) error {
	if err := wb.AddSheet("Assignments"); err != nil {
		return err
	}
	if err := wb.WriteHeader(assignmentColumns); err != nil {
		return err
	}
	for _, s := range sessions {
		for i, p := range s.Patients {
			if err := wb.WriteRow([]interface{}{
				s.Date, s.Theatre, s.ConsultantID, i + 1, p.PatientID, p.PatientName,
				p.HospitalNumber, p.ProcedureName, p.ProcedureCode, p.Priority.String(), p.EstimatedDuration,
			}); err != nil {
				return err
			}
		}
	}
	return wb.SetColumnWidths(12, 11, 14, 9, 14, 24, 16, 32, 10, 10, 14)
}

func writeSummarySheet(wb *export.Workbook, sum *RunSummary) error {
	if err := wb.AddSheet("Summary"); err != nil {
		return err
	}
	rows := [][]interface{}{
		{"Run", sum.RunID.String()},
		{"Month", fmt.Sprintf("%04d-%02d", sum.Year, int(sum.Month))},
		{"Seed", sum.Seed},
		{"State", string(sum.State)},
		{"Sessions created", sum.SessionsCreated},
		{"Patients scheduled", sum.PatientsScheduled},
		{"Total pending", sum.TotalPending},
		{"Average utilization %", sum.AverageUtilization},
		{"Unschedulable", len(sum.Unschedulable)},
		{"Orphaned", len(sum.Orphaned)},
		{"Unscheduled for capacity", sum.UnscheduledForCapacity},
		{"Scheduled after target date", sum.ScheduledAfterTarget},
		{"Unscheduled past target date", sum.UnscheduledPastTarget},
		{"Weekly minimum not met", len(sum.QuotaShortfalls)},
	}
	for _, r := range rows {
		if err := wb.WriteRow(r); err != nil {
			return err
		}
	}
	if err := wb.WriteRow(nil); err != nil {
		return err
	}
	if err := wb.WriteRow([]interface{}{"Priority", "Scheduled", "Pending"}); err != nil {
		return err
	}
	for _, pc := range sum.ByPriority {
		if err := wb.WriteRow([]interface{}{pc.Priority.String(), pc.Scheduled, pc.Pending}); err != nil {
			return err
		}
	}
	return wb.SetColumnWidths(30, 38, 10)
}
