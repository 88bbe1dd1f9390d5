package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Scheduling
	AppointmentsBooked   prometheus.Counter
	AppointmentConflicts prometheus.Counter
	StatusTransitions    *prometheus.CounterVec

	// Authentication
	SignIns *prometheus.CounterVec

	// Outbox related metrics
	OutboxEventsProcessed   prometheus.Counter
	OutboxEventsFailed      prometheus.Counter
	OutboxProcessingLatency prometheus.Histogram
	OutboxRetries           *prometheus.CounterVec

	// Database metrics
	DatabaseOperations *prometheus.CounterVec
}

// NewMetrics creates all application metrics and registers them on reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AppointmentsBooked: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appointments_booked_total",
			Help:      "Total number of appointments booked",
		}),
		AppointmentConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appointment_conflicts_total",
			Help:      "Total number of bookings rejected because of an overlapping appointment",
		}),
		StatusTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "appointment_status_transitions_total",
			Help:      "Total number of appointment status changes",
		}, []string{"to"}),

		SignIns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sign_ins_total",
			Help:      "Total number of sign-in attempts",
		}, []string{"method", "result"}),

		OutboxEventsProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_processed_total",
			Help:      "Total number of successfully processed outbox events",
		}),
		OutboxEventsFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_failed_total",
			Help:      "Total number of failed outbox events",
		}),
		OutboxProcessingLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outbox_processing_duration_seconds",
			Help:      "Time spent processing outbox events",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		OutboxRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_retry_attempts_total",
			Help:      "Total number of retry attempts for outbox events",
		}, []string{"event_type"}),

		DatabaseOperations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
	}
}

func (m *Metrics) Booked() {
	if m == nil {
		return
	}
	m.AppointmentsBooked.Inc()
}

func (m *Metrics) Conflict() {
	if m == nil {
		return
	}
	m.AppointmentConflicts.Inc()
}

func (m *Metrics) Transition(to string) {
	if m == nil {
		return
	}
	m.StatusTransitions.WithLabelValues(to).Inc()
}

// SignIn records an attempt; result is "success" or an error code.
func (m *Metrics) SignIn(method, result string) {
	if m == nil {
		return
	}
	m.SignIns.WithLabelValues(method, result).Inc()
}

func (m *Metrics) DBOperation(operation string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.DatabaseOperations.WithLabelValues(operation, status).Inc()
}
