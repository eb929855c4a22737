package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "theatre"

// outcomeSuccess matches the generator's outcome label of a completed,
// persisted run. Only those add to the session and patient counters.
const outcomeSuccess = "success"

// Metrics holds the Prometheus collectors of the schedule generator. It
// satisfies the generator's Observer interface.
type Metrics struct {
	reg *prometheus.Registry

	// RunsTotal counts finished runs by outcome (success, failed, dry_run).
	RunsTotal *prometheus.CounterVec

	SessionsCreated prometheus.Counter

	// PatientsScheduled counts scheduled procedures by priority tier.
	PatientsScheduled *prometheus.CounterVec

	DurationTableMisses prometheus.Counter

	// PersistenceFailuresTotal counts failed store operations by phase (clear, write).
	PersistenceFailuresTotal *prometheus.CounterVec

	LastRunUtilization prometheus.Gauge

	RunDuration prometheus.Histogram
}

// New creates the collectors on a fresh registry. Process and Go runtime
// collectors are included when withRuntime is set.
func New(withRuntime bool) *Metrics {
	reg := prometheus.NewRegistry()
	if withRuntime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		RunsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of schedule runs by outcome",
			},
			[]string{"outcome"},
		),
		SessionsCreated: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_created_total",
				Help:      "Total number of theatre sessions created",
			},
		),
		PatientsScheduled: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "patients_scheduled_total",
				Help:      "Total number of procedures placed in sessions by priority",
			},
			[]string{"priority"},
		),
		DurationTableMisses: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "duration_table_misses_total",
				Help:      "Estimates that fell back to the default duration",
			},
		),
		PersistenceFailuresTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "persistence_failures_total",
				Help:      "Failed store operations by phase",
			},
			[]string{"phase"},
		),
		LastRunUtilization: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_utilization_percent",
				Help:      "Average session utilization of the last completed run",
			},
		),
		RunDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Wall time of a schedule run",
				Buckets:   []float64{.05, .1, .5, 1, 2, 5, 10, 30, 60},
			},
		),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) DurationTableMiss() {
	m.DurationTableMisses.Inc()
}

func (m *Metrics) PersistenceFailures(phase string, count int) {
	m.PersistenceFailuresTotal.WithLabelValues(phase).Add(float64(count))
}

func (m *Metrics) RunFinished(outcome string, sessions int, scheduledByPriority map[string]int, avgUtilization float64, elapsed time.Duration) {
	m.RunsTotal.WithLabelValues(outcome).Inc()
	m.RunDuration.Observe(elapsed.Seconds())
	if outcome != outcomeSuccess {
		return
	}
	m.SessionsCreated.Add(float64(sessions))
	for priority, n := range scheduledByPriority {
		m.PatientsScheduled.WithLabelValues(priority).Add(float64(n))
	}
	m.LastRunUtilization.Set(avgUtilization)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Push sends the registry to a Pushgateway under the given job name. CLI
// runs use it because they exit before any scrape.
func (m *Metrics) Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(m.reg).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
