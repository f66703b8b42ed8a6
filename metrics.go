package pickplace

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the coordinator's collectors on a registry of its own, so several
// coordinators can live in one process. A nil *Metrics records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	goals           *prometheus.CounterVec
	plans           *prometheus.CounterVec
	planLatency     prometheus.Histogram
	ticks           prometheus.Counter
	waypoints       prometheus.Counter
	actuatorErrors  prometheus.Counter
	droppedFeedback prometheus.Counter
	state           *prometheus.GaugeVec
}

// NewMetrics creates and registers every collector.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		goals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pickplace_goals_total",
				Help: "Goals by outcome",
			},
			[]string{"result"},
		),
		plans: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pickplace_plans_total",
				Help: "Planner calls by outcome",
			},
			[]string{"result"},
		),
		planLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pickplace_planning_seconds",
				Help:    "Planner call latency",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
		),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pickplace_dispatch_ticks_total",
			Help: "Dispatch loop ticks",
		}),
		waypoints: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pickplace_waypoints_dispatched_total",
			Help: "Waypoints sent to the actuators",
		}),
		actuatorErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pickplace_actuator_errors_total",
			Help: "Failed actuator sends",
		}),
		droppedFeedback: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pickplace_feedback_dropped_total",
			Help: "Malformed feedback messages",
		}),
		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "pickplace_execution_state",
				Help: "1 for the current execution state",
			},
			[]string{"state"},
		),
	}
	m.Registry.MustRegister(
		m.goals, m.plans, m.planLatency, m.ticks, m.waypoints,
		m.actuatorErrors, m.droppedFeedback, m.state,
	)
	m.setState(Idle)
	return m
}

func (m *Metrics) goalAccepted() {
	if m == nil {
		return
	}
	m.goals.WithLabelValues("accepted").Inc()
}

func (m *Metrics) goalRejected(reason string) {
	if m == nil {
		return
	}
	m.goals.WithLabelValues("rejected_" + reason).Inc()
}

func (m *Metrics) goalFinished(result string) {
	if m == nil {
		return
	}
	m.goals.WithLabelValues(result).Inc()
}

func (m *Metrics) observePlan(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.planLatency.Observe(elapsed.Seconds())
	if err == nil {
		m.plans.WithLabelValues("ok").Inc()
		return
	}
	m.plans.WithLabelValues(asPlanningError(err).Reason.String()).Inc()
}

func (m *Metrics) tick() {
	if m == nil {
		return
	}
	m.ticks.Inc()
}

func (m *Metrics) waypointSent() {
	if m == nil {
		return
	}
	m.waypoints.Inc()
}

func (m *Metrics) actuatorError() {
	if m == nil {
		return
	}
	m.actuatorErrors.Inc()
}

func (m *Metrics) feedbackDropped() {
	if m == nil {
		return
	}
	m.droppedFeedback.Inc()
}

func (m *Metrics) setState(s ExecutionState) {
	if m == nil {
		return
	}
	for _, st := range []ExecutionState{Idle, Planning, Executing} {
		v := 0.0
		if st == s {
			v = 1
		}
		m.state.WithLabelValues(st.String()).Set(v)
	}
}
