package theatre

// PackResult is the outcome of filling one session.
type PackResult struct {
	Assignments []ScheduledProcedure
	// TotalDuration is the sum of accepted estimates.
	TotalDuration int
	// Occupied adds one turnover buffer per accepted case.
	Occupied int
	// Remaining are the candidates not packed, in their original order.
	Remaining []*PendingProcedure
	// Blocked is the first candidate that did not fit, or nil.
	Blocked *PendingProcedure
}

// SessionPacker greedily fills a session from an ordered candidate list.
type SessionPacker struct {
	estimator *DurationEstimator
	turnover  int
}

func NewSessionPacker(estimator *DurationEstimator, turnoverMinutes int) *SessionPacker {
	return &SessionPacker{estimator: estimator, turnover: turnoverMinutes}
}

// Fits reports whether a case of the given estimate can be placed in an
// otherwise empty session of the archetype.
func (p *SessionPacker) Fits(estimate int, a SessionArchetype) bool {
	return estimate+p.turnover <= a.DurationMinutes
}

// Pack walks candidates once in order, accepting each while
// occupied+estimate+turnover <= archetype duration. It stops at the first
// candidate that does not fit and never skips ahead to a smaller one, so
// assignment order always follows candidate order.
func (p *SessionPacker) Pack(candidates []*PendingProcedure, a SessionArchetype) PackResult {
	var res PackResult
	for i, c := range candidates {
		est := p.estimate(c)
		if res.Occupied+est+p.turnover > a.DurationMinutes {
			res.Blocked = c
			res.Remaining = candidates[i:]
			return res
		}
		res.Assignments = append(res.Assignments, ScheduledProcedure{
			PatientID:         c.ID,
			PatientName:       c.PatientName,
			HospitalNumber:    c.HospitalNumber,
			ProcedureName:     c.ProcedureName,
			ProcedureCode:     c.ProcedureCode,
			Priority:          c.Priority,
			EstimatedDuration: est,
		})
		res.TotalDuration += est
		res.Occupied += est + p.turnover
	}
	return res
}

// estimate prefers the minutes carried on the candidate so a case waiting
// several days is estimated once.
func (p *SessionPacker) estimate(c *PendingProcedure) int {
	if c.EstimatedMinutes > 0 {
		return c.EstimatedMinutes
	}
	return p.estimator.Estimate(c.ProcedureName, c.Priority).Minutes
}
