package theatre

import (
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultMinSessionsPerWeek = 2
	defaultMaxSessionsPerWeek = 3
)

// ConsultantRegistry holds the normalized consultant profiles of one run.
type ConsultantRegistry struct {
	consultants []*ConsultantProfile
	byID        map[string]*ConsultantProfile
}

// NewConsultantRegistry normalizes records into profiles. Malformed records
// are skipped with a warning; unknown day or session names are dropped.
func NewConsultantRegistry(records []ConsultantRecord, logger zerolog.Logger) *ConsultantRegistry {
	reg := &ConsultantRegistry{byID: make(map[string]*ConsultantProfile)}
	for i := range records {
		p, ok := normalizeConsultant(&records[i], logger)
		if !ok {
			continue
		}
		if _, dup := reg.byID[p.ID]; dup {
			logger.Warn().Str("consultant_id", p.ID).Msg("duplicate consultant record skipped")
			continue
		}
		reg.byID[p.ID] = p
		reg.consultants = append(reg.consultants, p)
	}
	sort.SliceStable(reg.consultants, func(i, j int) bool {
		return reg.consultants[i].ID < reg.consultants[j].ID
	})
	return reg
}

func normalizeConsultant(r *ConsultantRecord, logger zerolog.Logger) (*ConsultantProfile, bool) {
	id := strings.TrimSpace(r.SurgeonID)
	if id == "" {
		logger.Warn().Str("surgeon_name", r.SurgeonName).Msg("consultant record without surgeonId skipped")
		return nil, false
	}
	log := logger.With().Str("consultant_id", id).Logger()

	p := &ConsultantProfile{
		ID:                 id,
		Name:               r.SurgeonName,
		Specialty:          r.Specialty,
		Subspecialty:       r.Subspecialty,
		MinSessionsPerWeek: defaultMinSessionsPerWeek,
		MaxSessionsPerWeek: defaultMaxSessionsPerWeek,
		WeekendAvailable:   r.WeekendAvailability,
		UnavailableDates:   make(map[string]bool),
	}
	if r.MinSessionsPerWeek != nil {
		p.MinSessionsPerWeek = *r.MinSessionsPerWeek
	}
	if r.MaxSessionsPerWeek != nil {
		p.MaxSessionsPerWeek = *r.MaxSessionsPerWeek
	}
	if p.MinSessionsPerWeek < 0 || p.MaxSessionsPerWeek < 0 {
		log.Warn().Int("min", p.MinSessionsPerWeek).Int("max", p.MaxSessionsPerWeek).
			Msg("negative weekly session quota, consultant skipped")
		return nil, false
	}
	if p.MinSessionsPerWeek > p.MaxSessionsPerWeek {
		log.Warn().Int("min", p.MinSessionsPerWeek).Int("max", p.MaxSessionsPerWeek).
			Msg("minSessionsPerWeek exceeds maxSessionsPerWeek, consultant skipped")
		return nil, false
	}

	p.PreferredDays = parseWeekdays(r.PreferredTheatreDays, "preferredTheatreDays", log)
	p.ClinicDays = parseWeekdays(r.ClinicDays, "clinicDays", log)
	if p.PreferredDays.Empty() {
		log.Warn().Msg("consultant has no preferred theatre days and will not be scheduled")
	}
	for _, raw := range r.UnavailableDays {
		if d, ok := ParseWeekday(raw); ok {
			p.UnavailableDays = p.UnavailableDays.Add(d)
			continue
		}
		if date, err := time.Parse(dateLayout, strings.TrimSpace(raw)); err == nil {
			p.UnavailableDates[date.Format(dateLayout)] = true
			continue
		}
		log.Warn().Str("value", raw).Msg("unrecognised unavailableDays entry ignored")
	}

	for _, day := range p.PreferredDays.Days() {
		if p.ClinicDays.Has(day) {
			log.Warn().Str("weekday", day.String()).Msg("preferred theatre day is also a clinic day; clinic takes precedence")
		}
	}

	seen := make(map[SessionType]bool)
	for _, raw := range r.PreferredSessionTypes {
		t, ok := ParseSessionType(raw)
		if !ok {
			log.Warn().Str("value", raw).Msg("unknown preferred session type ignored")
			continue
		}
		if !seen[t] {
			seen[t] = true
			p.PreferredSessions = append(p.PreferredSessions, t)
		}
	}
	if len(p.PreferredSessions) == 0 {
		p.PreferredSessions = []SessionType{SessionAM}
	}
	return p, true
}

func parseWeekdays(values []string, field string, logger zerolog.Logger) WeekdaySet {
	var set WeekdaySet
	for _, raw := range values {
		d, ok := ParseWeekday(raw)
		if !ok {
			logger.Warn().Str("field", field).Str("value", raw).Msg("unknown weekday ignored")
			continue
		}
		set = set.Add(d)
	}
	return set
}

// Consultants returns the profiles ordered by ID.
func (r *ConsultantRegistry) Consultants() []*ConsultantProfile {
	return r.consultants
}

// Get returns a consultant by ID.
func (r *ConsultantRegistry) Get(id string) (*ConsultantProfile, bool) {
	p, ok := r.byID[id]
	return p, ok
}

// Len returns the number of valid consultants.
func (r *ConsultantRegistry) Len() int { return len(r.consultants) }

// AnyWeekendAvailable reports whether at least one consultant works weekends.
func (r *ConsultantRegistry) AnyWeekendAvailable() bool {
	for _, c := range r.consultants {
		if c.WeekendAvailable {
			return true
		}
	}
	return false
}

// IsEligible reports whether c may operate on weekday: the day must be a
// preferred theatre day and not a clinic day. Clinic always wins. Weekdays
// listed as unavailable are excluded.
//
// A preferred Saturday or Sunday is ignored unless the consultant has
// weekend availability.
func IsEligible(c *ConsultantProfile, weekday time.Weekday) bool {
	if !c.PreferredDays.Has(weekday) || c.ClinicDays.Has(weekday) {
		return false
	}
	if c.UnavailableDays.Has(weekday) {
		return false
	}
	if (weekday == time.Saturday || weekday == time.Sunday) && !c.WeekendAvailable {
		return false
	}
	return true
}

// IsAvailableOn applies IsEligible to the date's weekday and also honours
// specific unavailable dates.
func IsAvailableOn(c *ConsultantProfile, date time.Time) bool {
	if !IsEligible(c, date.Weekday()) {
		return false
	}
	return !c.UnavailableDates[date.Format(dateLayout)]
}
