// Package metrics exposes the Prometheus instrumentation for linkcore:
// link state, journal depth, and ack latency, following the teacher's
// pattern of package-level collectors registered in an init func and
// served through a single promhttp handler.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LinkState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "linkcore_link_active",
			Help: "1 if the link is in the Active state, 0 otherwise",
		},
		[]string{"link"},
	)

	LinkTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkcore_link_transitions_total",
			Help: "Total number of link state transitions",
		},
		[]string{"link", "from", "to"},
	)

	JournalUnacked = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "linkcore_journal_unacked_events",
			Help: "Number of events in the journal awaiting acknowledgement, by target link",
		},
		[]string{"link"},
	)

	InFlightPublications = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "linkcore_inflight_publications",
			Help: "Number of publications currently awaiting a PubAck, by link",
		},
		[]string{"link"},
	)

	AckTimeoutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkcore_ack_timeouts_total",
			Help: "Total number of ack timeouts observed, by link",
		},
		[]string{"link"},
	)

	AckLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "linkcore_ack_latency_seconds",
			Help:    "Time between a publish and its PubAck",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"link"},
	)

	EventsAppendedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "linkcore_events_appended_total",
			Help: "Total number of events appended to the journal",
		},
	)

	DispatcherQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "linkcore_dispatcher_queue_depth",
			Help: "Current depth of the dispatcher ingress queue",
		},
	)

	DispatcherHandleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "linkcore_dispatcher_handle_duration_seconds",
			Help:    "Time taken to handle one dispatcher work item",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconnectAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkcore_reconnect_attempts_total",
			Help: "Total number of reconnect attempts scheduled, by link",
		},
		[]string{"link"},
	)

	RejectedMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkcore_rejected_messages_total",
			Help: "Total number of inbound messages rejected by the application message parser, by link",
		},
		[]string{"link"},
	)

	FailedPublishesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkcore_failed_publishes_total",
			Help: "Total number of in-flight publishes failed outright by strict_ack_before_active rather than silently retried",
		},
		[]string{"link"},
	)
)

func init() {
	prometheus.MustRegister(
		LinkState,
		LinkTransitionsTotal,
		JournalUnacked,
		InFlightPublications,
		AckTimeoutsTotal,
		AckLatency,
		EventsAppendedTotal,
		DispatcherQueueDepth,
		DispatcherHandleDuration,
		ReconnectAttemptsTotal,
		RejectedMessagesTotal,
		FailedPublishesTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
