package theatre

import (
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// NormalizeProcedures converts waiting-list records into pending procedures,
// preserving input order. Records without an id or consultant are skipped;
// unknown priorities fall back to the least urgent tier. Both are logged as
// data-quality warnings.
func NormalizeProcedures(records []ProcedureRecord, logger zerolog.Logger) []*PendingProcedure {
	seen := make(map[string]bool, len(records))
	out := make([]*PendingProcedure, 0, len(records))
	for i := range records {
		r := &records[i]
		id := strings.TrimSpace(r.ID)
		if id == "" {
			logger.Warn().Str("hospital_number", r.HospitalNumber).Msg("waiting-list record without id skipped")
			continue
		}
		if seen[id] {
			logger.Warn().Str("patient_id", id).Msg("duplicate waiting-list record skipped")
			continue
		}
		consultantID := strings.TrimSpace(r.ConsultantID)
		if consultantID == "" {
			logger.Warn().Str("patient_id", id).Msg("waiting-list record without consultantId skipped")
			continue
		}
		seen[id] = true

		priority, ok := ParsePriority(r.Priority)
		if !ok {
			logger.Warn().
				Str("patient_id", id).
				Str("priority", r.Priority).
				Msg("unrecognised priority, treating as least urgent")
		}
		waiting := r.WaitingDays
		if waiting < 0 {
			logger.Warn().Str("patient_id", id).Int("waiting_days", waiting).Msg("negative waitingDays clamped to zero")
			waiting = 0
		}

		out = append(out, &PendingProcedure{
			ID:             id,
			PatientName:    strings.TrimSpace(strings.TrimSpace(r.FirstName) + " " + strings.TrimSpace(r.LastName)),
			HospitalNumber: r.HospitalNumber,
			ProcedureName:  r.ProcedureName,
			ProcedureCode:  r.ProcedureCode,
			Priority:       priority,
			ConsultantID:   consultantID,
			ConsultantName: r.ConsultantName,
			Specialty:      r.SpecialtyName,
			ReferralDate:   r.ReferralDate,
			WaitingDays:    waiting,
			TargetDate:     r.TargetDate,
		})
	}
	return out
}

// Prioritize returns a new slice ordered by priority tier (most urgent
// first), then by days waited (longest first). Ties keep input order.
func Prioritize(procs []*PendingProcedure) []*PendingProcedure {
	ordered := make([]*PendingProcedure, len(procs))
	copy(ordered, procs)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.WaitingDays > b.WaitingDays
	})
	return ordered
}

// ByConsultant splits a prioritized list into per-consultant queues,
// keeping the relative order.
func ByConsultant(ordered []*PendingProcedure) map[string][]*PendingProcedure {
	queues := make(map[string][]*PendingProcedure)
	for _, p := range ordered {
		queues[p.ConsultantID] = append(queues[p.ConsultantID], p)
	}
	return queues
}
