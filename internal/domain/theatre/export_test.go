package theatre

import (
	"bytes"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
)

func TestWriteWorkbook(t *testing.T) {
	sub := "Upper GI"
	sessions := []*TheatreSession{{
		ID:             sessionID("2025-03-03", "C001"),
		Date:           "2025-03-03",
		DayOfWeek:      "Monday",
		SessionType:    SessionAM,
		ConsultantID:   "C001",
		ConsultantName: "Miss A. Okafor",
		Specialty:      "General Surgery",
		Subspecialty:   &sub,
		Theatre:        "Theatre 1",
		Status:         StatusScheduled,
		StartTime:      "08:00",
		EndTime:        "13:00",
		TotalDuration:  300,
		Utilization:    65,
		Patients: []ScheduledProcedure{
			{PatientID: "P1", PatientName: "Ada Lovelace", ProcedureName: "hernia repair", Priority: PriorityUrgent, EstimatedDuration: 60},
			{PatientID: "P2", PatientName: "Alan Turing", ProcedureName: "cholecystectomy", Priority: PriorityUrgent, EstimatedDuration: 90},
			{PatientID: "P3", PatientName: "Grace Hopper", ProcedureName: "tonsillectomy", Priority: PriorityRoutine, EstimatedDuration: 45},
		},
	}}
	sum := &RunSummary{
		Year: 2025, Month: time.March, State: StateCompleted, SessionsCreated: 1, PatientsScheduled: 3, TotalPending: 3,
		ByPriority: []PriorityCount{{Priority: PriorityUrgent, Scheduled: 2, Pending: 2}, {Priority: PriorityRoutine, Scheduled: 1, Pending: 1}},
	}

	var buf bytes.Buffer
	if err := WriteWorkbook(&buf, sessions, sum); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) != 3 || sheets[0] != "Sessions" || sheets[1] != "Assignments" || sheets[2] != "Summary" {
		t.Fatalf("unexpected sheets %v", sheets)
	}

	rows, err := f.GetRows("Sessions")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header and 1 row, got %d", len(rows))
	}
	if rows[1][1] != "2025-03-03" || rows[1][6] != "Theatre 1" || rows[1][10] != "Upper GI" || rows[1][15] != "65" {
		t.Errorf("unexpected session row %v", rows[1])
	}

	rows, err = f.GetRows("Assignments")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected header and 3 rows, got %d", len(rows))
	}
	if rows[3][3] != "3" || rows[3][5] != "Grace Hopper" || rows[3][9] != "Routine" {
		t.Errorf("unexpected assignment row %v", rows[3])
	}

	v, err := f.GetCellValue("Summary", "B2")
	if err != nil {
		t.Fatal(err)
	}
	if v != "2025-03" {
		t.Errorf("expected month in Summary!B2, got %q", v)
	}
}

func TestWriteWorkbook_WithoutSummary(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteWorkbook(&buf, nil, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if got := f.GetSheetList(); len(got) != 2 {
		t.Errorf("expected Sessions and Assignments only, got %v", got)
	}
}
