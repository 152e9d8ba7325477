package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful operations.
	OutcomeSuccess = "success"
	// OutcomeError labels failed operations.
	OutcomeError = "error"
	// OutcomeRejected labels operations refused by a precondition check.
	OutcomeRejected = "rejected"
)

var (
	samplesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_sentinel",
			Name:      "samples_total",
			Help:      "Metric samples ingested, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	slaTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_sentinel",
			Name:      "sla_transitions_total",
			Help:      "SLA status transitions, partitioned by resulting status.",
		},
		[]string{"status"},
	)

	incidentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_sentinel",
			Name:      "incidents_total",
			Help:      "Incidents opened, partitioned by severity.",
		},
		[]string{"severity"},
	)

	escalationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_sentinel",
			Name:      "escalations_total",
			Help:      "Escalation level increments applied by the timeout sweep.",
		},
	)

	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_sentinel",
			Name:      "playbook_executions_total",
			Help:      "Playbook executions, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	executionSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_sentinel",
			Name:      "execution_seconds",
			Help:      "Playbook execution latency in seconds.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)

	notificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_sentinel",
			Name:      "notification_deliveries_total",
			Help:      "Notification delivery attempts, partitioned by outcome.",
		},
		[]string{"outcome"},
	)
)

// Register attaches sentinel collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		samplesTotal,
		slaTransitionsTotal,
		incidentsTotal,
		escalationsTotal,
		executionsTotal,
		executionSeconds,
		notificationsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveSample counts one ingested or rejected sample.
func ObserveSample(outcome string) {
	samplesTotal.WithLabelValues(outcome).Inc()
}

// ObserveTransition counts an SLA status transition.
func ObserveTransition(status string) {
	slaTransitionsTotal.WithLabelValues(status).Inc()
}

// ObserveIncidentOpened counts a newly opened incident.
func ObserveIncidentOpened(severity string) {
	incidentsTotal.WithLabelValues(severity).Inc()
}

// ObserveEscalation counts one level increment.
func ObserveEscalation() {
	escalationsTotal.Inc()
}

// ObserveExecution records a finished playbook run.
func ObserveExecution(duration time.Duration, outcome string) {
	executionsTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	executionSeconds.Observe(duration.Seconds())
}

// ObserveNotification counts one delivery attempt.
func ObserveNotification(outcome string) {
	notificationsTotal.WithLabelValues(outcome).Inc()
}
