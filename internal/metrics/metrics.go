package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yegors/flighttrack/internal/adsb"
	"github.com/yegors/flighttrack/internal/flights"
)

// Metrics records fusion and tracker measurements in Prometheus.
// It satisfies adsb.Observer and flights.Metrics.
type Metrics struct {
	sourceRecords   *prometheus.CounterVec
	sourceErrors    *prometheus.CounterVec
	sourceLatency   *prometheus.HistogramVec
	rateLimitLeft   *prometheus.GaugeVec
	transitions     *prometheus.CounterVec
	dropped         *prometheus.CounterVec
	unmatched       prometheus.Counter
	activeFlights   prometheus.Gauge
	cycleLatency    prometheus.Histogram
	cycleRecords    *prometheus.CounterVec
	eventsPublished *prometheus.CounterVec
}

var (
	_ adsb.Observer   = (*Metrics)(nil)
	_ flights.Metrics = (*Metrics)(nil)
)

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sourceRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flighttrack_source_records_total",
			Help: "Aircraft resolved by each telemetry source.",
		}, []string{"source"}),
		sourceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flighttrack_source_errors_total",
			Help: "Failed source fetches by error kind.",
		}, []string{"source", "kind"}),
		sourceLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flighttrack_source_fetch_seconds",
			Help:    "Time spent in one source fetch.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"source"}),
		rateLimitLeft: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "flighttrack_source_rate_limit_remaining",
			Help: "Requests or credits left as last reported by the source.",
		}, []string{"source"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flighttrack_transitions_total",
			Help: "Classified flight transitions.",
		}, []string{"transition"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flighttrack_dropped_records_total",
			Help: "Observations dropped before classification.",
		}, []string{"reason"}),
		unmatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flighttrack_unmatched_landings_total",
			Help: "Landings seen without an open flight.",
		}),
		activeFlights: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flighttrack_active_flights",
			Help: "Open flights held in the active-flight index.",
		}),
		cycleLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "flighttrack_cycle_seconds",
			Help:    "Duration of one poll cycle, fetch and processing.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		cycleRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flighttrack_cycle_records_total",
			Help: "Records handled by poll cycles by result.",
		}, []string{"result"}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flighttrack_events_published_total",
			Help: "Flight events handed to publishers.",
		}, []string{"type"}),
	}

	reg.MustRegister(
		m.sourceRecords, m.sourceErrors, m.sourceLatency, m.rateLimitLeft,
		m.transitions, m.dropped, m.unmatched, m.activeFlights,
		m.cycleLatency, m.cycleRecords, m.eventsPublished,
	)
	return m
}

// ObserveSource implements adsb.Observer
func (m *Metrics) ObserveSource(source adsb.SourceName, resolved int, elapsed time.Duration, err *adsb.FetchError) {
	m.sourceRecords.WithLabelValues(string(source)).Add(float64(resolved))
	m.sourceLatency.WithLabelValues(string(source)).Observe(elapsed.Seconds())
	if err != nil {
		m.sourceErrors.WithLabelValues(string(source), string(err.Kind)).Inc()
	}
}

// ObserveRateLimitRemaining implements adsb.Observer
func (m *Metrics) ObserveRateLimitRemaining(source adsb.SourceName, remaining int) {
	m.rateLimitLeft.WithLabelValues(string(source)).Set(float64(remaining))
}

// ObserveTransition implements flights.Metrics. Non-events are not counted.
func (m *Metrics) ObserveTransition(t flights.Transition) {
	if t == flights.TransitionNone {
		return
	}
	m.transitions.WithLabelValues(t.String()).Inc()
}

// ObserveDropped implements flights.Metrics
func (m *Metrics) ObserveDropped(reason string) {
	m.dropped.WithLabelValues(reason).Inc()
}

// ObserveUnmatchedLanding implements flights.Metrics
func (m *Metrics) ObserveUnmatchedLanding() {
	m.unmatched.Inc()
}

// SetActiveFlights implements flights.Metrics
func (m *Metrics) SetActiveFlights(n int) {
	m.activeFlights.Set(float64(n))
}

// ObserveCycle implements flights.Metrics
func (m *Metrics) ObserveCycle(elapsed time.Duration, processed, failed int) {
	m.cycleLatency.Observe(elapsed.Seconds())
	m.cycleRecords.WithLabelValues("processed").Add(float64(processed))
	m.cycleRecords.WithLabelValues("failed").Add(float64(failed))
}

// ObserveEvent counts a published flight event
func (m *Metrics) ObserveEvent(t flights.EventType) {
	m.eventsPublished.WithLabelValues(string(t)).Inc()
}
