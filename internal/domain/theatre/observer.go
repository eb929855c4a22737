package theatre

import "time"

// Observer receives run telemetry. The metrics package provides the
// Prometheus implementation.
type Observer interface {
	DurationTableMiss()
	PersistenceFailures(phase string, count int)
	RunFinished(outcome string, sessions int, scheduledByPriority map[string]int, avgUtilization float64, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) DurationTableMiss() {}

func (nopObserver) PersistenceFailures(string, int) {}

func (nopObserver) RunFinished(string, int, map[string]int, float64, time.Duration) {}
