package session

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	ActiveSessions      prometheus.Gauge
	Transitions         *prometheus.CounterVec
	PersistenceFailures *prometheus.CounterVec
	StaleTicks          prometheus.Counter
	Completions         prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is what tests want.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "pomo",
			Subsystem: "session",
			Name:      "active",
			Help:      "Number of live session runtimes.",
		}),
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pomo",
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Commands applied to sessions, by event and outcome.",
		}, []string{"event", "outcome"}),
		PersistenceFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pomo",
			Subsystem: "session",
			Name:      "persistence_failures_total",
			Help:      "Session store writes that failed after all retries.",
		}, []string{"kind"}),
		StaleTicks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pomo",
			Subsystem: "session",
			Name:      "stale_ticks_total",
			Help:      "Deadline ticks ignored because the timer had been cancelled or re-armed.",
		}),
		Completions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "pomo",
			Subsystem: "session",
			Name:      "completions_total",
			Help:      "Sessions that reached the completed state.",
		}),
	}
}

func (m *Metrics) observe(kind EventKind, err error) {
	outcome := "ok"
	if err != nil {
		outcome = outcomeLabel(err)
	}
	m.Transitions.WithLabelValues(kind.String(), outcome).Inc()
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrAlreadyRunning):
		return "already_running"
	case errors.Is(err, ErrPersistenceFailure):
		return "persistence_failure"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "rejected"
	}
}
