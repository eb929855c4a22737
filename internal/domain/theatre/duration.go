package theatre

import (
	"math"

	"github.com/rs/zerolog"
)

// Estimate is a derived procedure duration.
type Estimate struct {
	Minutes   int
	FromTable bool
}

// DurationEstimator maps a procedure to an estimated duration in minutes.
type DurationEstimator struct {
	table      map[string]int
	fallback   int
	multiplier float64
	logger     zerolog.Logger
	observer   Observer

	misses map[string]int
}

func NewDurationEstimator(catalog *Catalog, logger zerolog.Logger, observer Observer) *DurationEstimator {
	if observer == nil {
		observer = nopObserver{}
	}
	return &DurationEstimator{
		table:      catalog.Durations,
		fallback:   catalog.DefaultMinutes,
		multiplier: catalog.UrgentMultiplier,
		logger:     logger,
		observer:   observer,
		misses:     make(map[string]int),
	}
}

// Estimate looks up the base duration of procedureName, substituting the
// default on a miss, and applies the urgency multiplier to Urgent cases only.
func (e *DurationEstimator) Estimate(procedureName string, priority Priority) Estimate {
	key := NormalizeProcedureName(procedureName)
	base, ok := e.table[key]
	if !ok {
		base = e.fallback
		e.recordMiss(key)
	}

	minutes := float64(base)
	if priority == PriorityUrgent {
		minutes *= e.multiplier
	}
	rounded := int(math.Round(minutes))
	if rounded < 1 {
		rounded = 1
	}
	return Estimate{Minutes: rounded, FromTable: ok}
}

func (e *DurationEstimator) recordMiss(key string) {
	e.misses[key]++
	e.observer.DurationTableMiss()
	if e.misses[key] == 1 {
		e.logger.Warn().
			Str("procedure", key).
			Int("default_minutes", e.fallback).
			Msg("procedure not in duration table, using default")
	}
}

// Misses returns how often each unknown procedure name was estimated.
func (e *DurationEstimator) Misses() map[string]int {
	out := make(map[string]int, len(e.misses))
	for k, v := range e.misses {
		out[k] = v
	}
	return out
}
