package theatre

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Priority is the clinical urgency tier of a pending procedure. Lower values
// are more urgent.
type Priority int

const (
	PriorityUrgent Priority = iota
	PriorityExpedited
	PriorityRoutine
	PriorityPlanned
)

// Priorities lists every tier, most urgent first.
var Priorities = []Priority{PriorityUrgent, PriorityExpedited, PriorityRoutine, PriorityPlanned}

var priorityNames = map[Priority]string{
	PriorityUrgent:    "Urgent",
	PriorityExpedited: "Expedited",
	PriorityRoutine:   "Routine",
	PriorityPlanned:   "Planned",
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Priority(%d)", int(p))
}

// ParsePriority matches a priority label case-insensitively. Unknown labels
// map to the least urgent tier and report ok=false.
func ParsePriority(s string) (Priority, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "urgent":
		return PriorityUrgent, true
	case "expedited":
		return PriorityExpedited, true
	case "routine":
		return PriorityRoutine, true
	case "planned":
		return PriorityPlanned, true
	}
	return PriorityPlanned, false
}

func (p Priority) MarshalText() ([]byte, error) {
	name, ok := priorityNames[p]
	if !ok {
		return nil, fmt.Errorf("invalid priority: %d", int(p))
	}
	return []byte(name), nil
}

func (p *Priority) UnmarshalText(b []byte) error {
	parsed, ok := ParsePriority(string(b))
	if !ok {
		return fmt.Errorf("invalid priority: %q", string(b))
	}
	*p = parsed
	return nil
}

// SessionType is the code of a session archetype as stored on a session.
type SessionType string

const (
	SessionAM       SessionType = "AM"
	SessionPM       SessionType = "PM"
	SessionFull     SessionType = "FULL"
	SessionExtended SessionType = "EXTENDED"
)

// ParseSessionType accepts both the stored codes and the archetype names.
func ParseSessionType(s string) (SessionType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "am", "morning", "short-morning":
		return SessionAM, true
	case "pm", "afternoon", "short-afternoon":
		return SessionPM, true
	case "full", "full-day", "fullday":
		return SessionFull, true
	case "extended", "extended-day":
		return SessionExtended, true
	}
	return "", false
}

// Session statuses.
const (
	StatusScheduled = "scheduled"
	StatusConfirmed = "confirmed"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// SessionArchetype is a named, fixed time window used as a session's
// capacity budget.
type SessionArchetype struct {
	Type            SessionType `yaml:"type" json:"type"`
	Name            string      `yaml:"name" json:"name"`
	Start           string      `yaml:"start" json:"start"`
	End             string      `yaml:"end" json:"end"`
	DurationMinutes int         `yaml:"duration_minutes" json:"durationMinutes"`
}

// WeekdaySet is a set of weekdays.
type WeekdaySet uint8

func (s WeekdaySet) Has(d time.Weekday) bool { return s&(1<<uint(d)) != 0 }

func (s WeekdaySet) Add(d time.Weekday) WeekdaySet { return s | 1<<uint(d) }

func (s WeekdaySet) Empty() bool { return s == 0 }

// Days returns the members Sunday first.
func (s WeekdaySet) Days() []time.Weekday {
	var days []time.Weekday
	for d := time.Sunday; d <= time.Saturday; d++ {
		if s.Has(d) {
			days = append(days, d)
		}
	}
	return days
}

// ParseWeekday matches full or three-letter English weekday names.
func ParseWeekday(s string) (time.Weekday, bool) {
	name := strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if name == full || name == full[:3] {
			return d, true
		}
	}
	return 0, false
}

// ConsultantRecord is a consultant's scheduling preferences as stored.
// Optional fields are pointers so absence can be told apart from zero.
type ConsultantRecord struct {
	SurgeonID             string   `db:"surgeon_id" json:"surgeonId" yaml:"surgeonId"`
	SurgeonName           string   `db:"surgeon_name" json:"surgeonName" yaml:"surgeonName"`
	Specialty             string   `db:"specialty" json:"specialty" yaml:"specialty"`
	Subspecialty          *string  `db:"subspecialty" json:"subspecialty,omitempty" yaml:"subspecialty,omitempty"`
	PreferredTheatreDays  []string `db:"preferred_theatre_days" json:"preferredTheatreDays" yaml:"preferredTheatreDays"`
	PreferredSessionTypes []string `db:"preferred_session_types" json:"preferredSessionTypes,omitempty" yaml:"preferredSessionTypes,omitempty"`
	MinSessionsPerWeek    *int     `db:"min_sessions_per_week" json:"minSessionsPerWeek,omitempty" yaml:"minSessionsPerWeek,omitempty"`
	MaxSessionsPerWeek    *int     `db:"max_sessions_per_week" json:"maxSessionsPerWeek,omitempty" yaml:"maxSessionsPerWeek,omitempty"`
	WeekendAvailability   bool     `db:"weekend_availability" json:"weekendAvailability" yaml:"weekendAvailability"`
	UnavailableDays       []string `db:"unavailable_days" json:"unavailableDays,omitempty" yaml:"unavailableDays,omitempty"`
	ClinicDays            []string `db:"clinic_days" json:"clinicDays,omitempty" yaml:"clinicDays,omitempty"`
}

// ConsultantProfile is a normalized, read-only consultant.
type ConsultantProfile struct {
	ID                 string
	Name               string
	Specialty          string
	Subspecialty       *string
	PreferredDays      WeekdaySet
	PreferredSessions  []SessionType
	MinSessionsPerWeek int
	MaxSessionsPerWeek int
	ClinicDays         WeekdaySet
	UnavailableDays    WeekdaySet
	UnavailableDates   map[string]bool // YYYY-MM-DD
	WeekendAvailable   bool
}

// ProcedureRecord is one waiting-list entry as stored.
type ProcedureRecord struct {
	ID             string     `db:"id" json:"id" yaml:"id"`
	FirstName      string     `db:"first_name" json:"firstName" yaml:"firstName"`
	LastName       string     `db:"last_name" json:"lastName" yaml:"lastName"`
	HospitalNumber string     `db:"hospital_number" json:"hospitalNumber" yaml:"hospitalNumber"`
	ProcedureName  string     `db:"procedure_name" json:"procedureName" yaml:"procedureName"`
	ProcedureCode  string     `db:"procedure_code" json:"procedureCode" yaml:"procedureCode"`
	Priority       string     `db:"priority" json:"priority" yaml:"priority"`
	SpecialtyName  string     `db:"specialty_name" json:"specialtyName" yaml:"specialtyName"`
	ConsultantID   string     `db:"consultant_id" json:"consultantId" yaml:"consultantId"`
	ConsultantName string     `db:"consultant_name" json:"consultantName" yaml:"consultantName"`
	ReferralDate   *time.Time `db:"referral_date" json:"referralDate,omitempty" yaml:"referralDate,omitempty"`
	WaitingDays    int        `db:"waiting_days" json:"waitingDays" yaml:"waitingDays"`
	TargetDate     *time.Time `db:"target_date" json:"targetDate,omitempty" yaml:"targetDate,omitempty"`
}

// PendingProcedure is a normalized waiting-list entry.
type PendingProcedure struct {
	ID             string
	PatientName    string
	HospitalNumber string
	ProcedureName  string
	ProcedureCode  string
	Priority       Priority
	ConsultantID   string
	ConsultantName string
	Specialty      string
	ReferralDate   *time.Time
	WaitingDays    int
	TargetDate     *time.Time
	// EstimatedMinutes is filled once per run when queues are built.
	EstimatedMinutes int
}

// ScheduledProcedure is one patient procedure placed in a session.
type ScheduledProcedure struct {
	PatientID         string   `json:"patientId"`
	PatientName       string   `json:"patientName"`
	HospitalNumber    string   `json:"hospitalNumber"`
	ProcedureName     string   `json:"procedureName"`
	ProcedureCode     string   `json:"procedureCode"`
	Priority          Priority `json:"priority"`
	EstimatedDuration int      `json:"estimatedDuration"`
}

// TheatreSession maps to the theatre_session table.
type TheatreSession struct {
	ID             uuid.UUID            `db:"id" json:"id"`
	Date           string               `db:"session_date" json:"date"`
	DayOfWeek      string               `db:"day_of_week" json:"dayOfWeek"`
	SessionType    SessionType          `db:"session_type" json:"sessionType"`
	ConsultantID   string               `db:"consultant_id" json:"consultantId"`
	ConsultantName string               `db:"consultant_name" json:"consultantName"`
	Specialty      string               `db:"specialty" json:"specialty"`
	Subspecialty   *string              `db:"subspecialty" json:"subspecialty,omitempty"`
	Theatre        string               `db:"theatre" json:"theatre"`
	Status         string               `db:"status" json:"status"`
	Patients       []ScheduledProcedure `db:"patients" json:"patients"`
	StartTime      string               `db:"start_time" json:"startTime"`
	EndTime        string               `db:"end_time" json:"endTime"`
	TotalDuration  int                  `db:"total_duration" json:"totalDuration"`
	Utilization    int                  `db:"utilization" json:"utilization"`
	CreatedAt      time.Time            `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time            `db:"updated_at" json:"updatedAt"`
}

// Day parses the session date.
func (s *TheatreSession) Day() (time.Time, error) {
	return time.Parse(dateLayout, s.Date)
}

// ScheduledMinutes is the sum of the estimated durations of all assignments.
func (s *TheatreSession) ScheduledMinutes() int {
	total := 0
	for _, p := range s.Patients {
		total += p.EstimatedDuration
	}
	return total
}

const dateLayout = "2006-01-02"

// sessionNamespace seeds deterministic session ids so identical runs emit
// identical records.
var sessionNamespace = uuid.MustParse("6f1c2a8e-4b7d-5e2f-9a3c-1d8e7f6a5b40")

func sessionID(date, consultantID string) uuid.UUID {
	return uuid.NewSHA1(sessionNamespace, []byte(date+"/"+consultantID))
}

// utilization returns round(scheduled/capacity*100).
func utilization(scheduled, capacity int) int {
	if capacity <= 0 {
		return 0
	}
	return int(math.Round(float64(scheduled) * 100 / float64(capacity)))
}
