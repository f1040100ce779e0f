package pipeline

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/syssam/forge/task"
)

// Outcome labels.
const (
	OutcomeOK         = "ok"
	OutcomeValidation = "validation"
	OutcomeForbidden  = "forbidden"
	OutcomeError      = "error"
	OutcomePanic      = "panic"
)

// Metrics holds the prometheus collectors of an application. A nil
// *Metrics records nothing.
type Metrics struct {
	started  *prometheus.CounterVec
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	builds   *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		started: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "forge_operations_started_total", Help: "operations started, by operation"},
			[]string{"operation"},
		),
		total: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "forge_operations_total", Help: "operations completed, by operation and outcome"},
			[]string{"operation", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forge_operation_duration_seconds",
				Help:    "operation execution time.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "outcome"},
		),
		builds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "forge_build_duration_seconds",
				Help:    "time to generate and compile an application.",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"strategy", "outcome"},
		),
	}
	for _, c := range []prometheus.Collector{m.started, m.total, m.duration, m.builds} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// OperationStarted counts a started operation. Generated code calls it.
func (m *Metrics) OperationStarted(operation string) {
	if m == nil {
		return
	}
	m.started.WithLabelValues(operation).Inc()
}

func (m *Metrics) observeOperation(operation string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := Outcome(err)
	m.total.WithLabelValues(operation, outcome).Inc()
	m.duration.WithLabelValues(operation, outcome).Observe(d.Seconds())
}

func (m *Metrics) observeBuild(strategy string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	m.builds.WithLabelValues(strategy, outcome).Observe(d.Seconds())
}

// Outcome classifies the error an operation completed with.
func Outcome(err error) string {
	var pe *task.PanicError
	switch {
	case err == nil:
		return OutcomeOK
	case errors.As(err, &pe):
		return OutcomePanic
	case errors.Is(err, ErrValidation):
		return OutcomeValidation
	case errors.Is(err, ErrForbidden):
		return OutcomeForbidden
	default:
		return OutcomeError
	}
}
