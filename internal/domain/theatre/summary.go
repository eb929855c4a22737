package theatre

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
)

type PriorityCount struct {
	Priority  Priority `json:"priority"`
	Scheduled int      `json:"scheduled"`
	Pending   int      `json:"pending"`
}

// UnschedulableProcedure is a case whose estimate plus turnover exceeds the
// largest session its consultant can be given.
type UnschedulableProcedure struct {
	ProcedureID       string      `json:"procedureId"`
	ConsultantID      string      `json:"consultantId"`
	ProcedureName     string      `json:"procedureName"`
	Priority          Priority    `json:"priority"`
	EstimatedMinutes  int         `json:"estimatedMinutes"`
	LargestSession    SessionType `json:"largestSession"`
	LargestSessionMin int         `json:"largestSessionMinutes"`
}

// QuotaShortfall is a consultant-week that ended below MinSessionsPerWeek.
type QuotaShortfall struct {
	ConsultantID string `json:"consultantId"`
	WeekStart    string `json:"weekStart"`
	Sessions     int    `json:"sessions"`
	Minimum      int    `json:"minimum"`
}

// RunSummary is the operator report of one generator run.
type RunSummary struct {
	RunID  uuid.UUID  `json:"runId"`
	Year   int        `json:"year"`
	Month  time.Month `json:"month"`
	Seed   int64      `json:"seed"`
	DryRun bool       `json:"dryRun"`
	State  RunState   `json:"state"`

	SessionsCreated    int             `json:"sessionsCreated"`
	PatientsScheduled  int             `json:"patientsScheduled"`
	TotalPending       int             `json:"totalPending"`
	ByPriority         []PriorityCount `json:"byPriority"`
	AverageUtilization float64         `json:"averageUtilization"`

	Unschedulable          []UnschedulableProcedure `json:"unschedulable,omitempty"`
	Orphaned               []string                 `json:"orphaned,omitempty"`
	UnscheduledForCapacity int                      `json:"unscheduledForCapacity"`
	QuotaShortfalls        []QuotaShortfall         `json:"quotaShortfalls,omitempty"`
	ScheduledAfterTarget   int                      `json:"scheduledAfterTarget"`
	UnscheduledPastTarget  int                      `json:"unscheduledPastTarget"`
	DurationTableMisses    map[string]int           `json:"durationTableMisses,omitempty"`

	Cleared  int            `json:"cleared"`
	Written  int            `json:"written"`
	Failures []WriteFailure `json:"failures,omitempty"`
	Elapsed  time.Duration  `json:"elapsedNs"`

	Sessions []*TheatreSession `json:"-"`
}

// ScheduledByPriority returns the scheduled count of one tier.
func (s *RunSummary) ScheduledByPriority(p Priority) int {
	for _, pc := range s.ByPriority {
		if pc.Priority == p {
			return pc.Scheduled
		}
	}
	return 0
}

// Print writes the human-readable report.
func (s *RunSummary) Print(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	mode := ""
	if s.DryRun {
		mode = " (dry run)"
	}
	fmt.Fprintf(tw, "Theatre schedule %04d-%02d%s\n", s.Year, int(s.Month), mode)
	fmt.Fprintf(tw, "Run\t%s\n", s.RunID)
	fmt.Fprintf(tw, "Seed\t%d\n", s.Seed)
	fmt.Fprintf(tw, "State\t%s\n", s.State)
	fmt.Fprintf(tw, "Sessions created\t%d\n", s.SessionsCreated)
	fmt.Fprintf(tw, "Patients scheduled\t%d of %d pending\n", s.PatientsScheduled, s.TotalPending)
	fmt.Fprintf(tw, "Average utilization\t%.1f%%\n", s.AverageUtilization)
	if !s.DryRun {
		fmt.Fprintf(tw, "Cleared / written\t%d / %d\n", s.Cleared, s.Written)
	}
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "Priority\tScheduled\tPending")
	for _, pc := range s.ByPriority {
		fmt.Fprintf(tw, "%s\t%d\t%d\n", pc.Priority, pc.Scheduled, pc.Pending)
	}
	fmt.Fprintln(tw)

	fmt.Fprintf(tw, "Unscheduled for capacity\t%d\n", s.UnscheduledForCapacity)
	fmt.Fprintf(tw, "Target date breaches\t%d scheduled late, %d unscheduled past target\n",
		s.ScheduledAfterTarget, s.UnscheduledPastTarget)

	if len(s.Unschedulable) > 0 {
		fmt.Fprintf(tw, "\nUnschedulable (%d)\n", len(s.Unschedulable))
		for _, u := range s.Unschedulable {
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%d min exceeds %s (%d min)\n",
				u.ProcedureID, u.ConsultantID, u.ProcedureName,
				u.EstimatedMinutes, u.LargestSession, u.LargestSessionMin)
		}
	}
	if len(s.Orphaned) > 0 {
		fmt.Fprintf(tw, "\nOrphaned procedures, unknown consultant (%d)\n", len(s.Orphaned))
		for _, id := range s.Orphaned {
			fmt.Fprintf(tw, "  %s\n", id)
		}
	}
	if len(s.QuotaShortfalls) > 0 {
		fmt.Fprintf(tw, "\nWeekly minimum not met (%d)\n", len(s.QuotaShortfalls))
		for _, q := range s.QuotaShortfalls {
			fmt.Fprintf(tw, "  %s\tweek of %s\t%d of %d\n", q.ConsultantID, q.WeekStart, q.Sessions, q.Minimum)
		}
	}
	if len(s.DurationTableMisses) > 0 {
		names := make([]string, 0, len(s.DurationTableMisses))
		for name := range s.DurationTableMisses {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintf(tw, "\nProcedures estimated with the default duration (%d)\n", len(names))
		for _, name := range names {
			fmt.Fprintf(tw, "  %s\t%d\n", name, s.DurationTableMisses[name])
		}
	}
	if len(s.Failures) > 0 {
		fmt.Fprintf(tw, "\nWrite failures (%d)\n", len(s.Failures))
		for _, f := range s.Failures {
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", f.Date, f.ConsultantID, f.SessionID, f.Err)
		}
	}
	return tw.Flush()
}
