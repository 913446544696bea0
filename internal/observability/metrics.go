package observability

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// requestDurationBuckets favors the low end: dispatches are triggered by
// live hardware input, so sub-second latency is the interesting range.
var requestDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Metrics holds all Prometheus metric instruments for the bridge.
type Metrics struct {
	// MIDI intake
	EventsReceivedTotal  *prometheus.CounterVec
	EventsDebouncedTotal *prometheus.CounterVec

	// Dispatch pipeline
	DispatchesTotal      *prometheus.CounterVec
	RequestDuration      *prometheus.HistogramVec
	NotificationsDropped prometheus.Counter

	// Mapping store
	MappingsLoaded prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsReceivedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_midi_events_received_total",
			Help: "Total number of MIDI events read from the input port.",
		}, []string{"type"}),
		EventsDebouncedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_midi_events_debounced_total",
			Help: "Total number of MIDI events dropped by the debounce window.",
		}, []string{"type"}),
		DispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_dispatches_total",
			Help: "Total number of dispatched API calls by outcome.",
		}, []string{"endpoint", "outcome"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bridge_request_duration_seconds",
			Help:    "API request duration in seconds.",
			Buckets: requestDurationBuckets,
		}, []string{"method"}),
		NotificationsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_notifications_dropped_total",
			Help: "Total number of notifications dropped because a subscriber was slow.",
		}),
		MappingsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_mappings_loaded",
			Help: "Number of trigger mappings currently in the store.",
		}),
	}

	reg.MustRegister(
		m.EventsReceivedTotal,
		m.EventsDebouncedTotal,
		m.DispatchesTotal,
		m.RequestDuration,
		m.NotificationsDropped,
		m.MappingsLoaded,
	)

	return m
}

// Handler returns the Prometheus scrape handler for the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HealthResponse is the JSON response for the liveness endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// HandleHealth returns an HTTP handler for the liveness endpoint served
// alongside the metrics endpoint.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(HealthResponse{
			Status:  "ok",
			Version: Version,
			Commit:  Commit,
		})
	}
}
