package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "streamlabs_tracer"

// Disconnect classifications.
const (
	DisconnectIntentional  = "intentional"
	DisconnectUnauthorized = "unauthorized"
)

// Stop triggers.
const (
	StopManual    = "manual"
	StopAutomatic = "automatic"
	StopAbsorbed  = "absorbed"
)

// Payload failure reasons.
const (
	FailureSchemaViolation = "schema_violation"
	FailureDispatch        = "dispatch_error"
)

// Metrics holds the tracer's Prometheus collectors.
type Metrics struct {
	sessions           prometheus.Gauge
	sessionsAuthorized prometheus.Gauge
	disconnects        *prometheus.CounterVec
	stops              *prometheus.CounterVec
	eventsNormalized   *prometheus.CounterVec
	eventsDispatched   *prometheus.CounterVec
	payloadFailures    *prometheus.CounterVec
	buildInfo          *prometheus.GaugeVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Number of socket sessions owned by the running client",
		}),
		sessionsAuthorized: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_authorized",
			Help:      "Number of socket sessions accepted by the server",
		}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Socket disconnects by classification",
		}, []string{"classification"}),
		stops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_stops_total",
			Help:      "Client stop requests by trigger",
		}, []string{"trigger"}),
		eventsNormalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_normalized_total",
			Help:      "Normalized events by event type",
		}, []string{"event_type"}),
		eventsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dispatched_total",
			Help:      "Events accepted by the dispatcher, by streamer",
		}, []string{"streamer"}),
		payloadFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payload_failures_total",
			Help:      "Event payloads abandoned part way, by reason",
		}, []string{"reason"}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information",
		}, []string{"version", "commit"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.sessions,
			m.sessionsAuthorized,
			m.disconnects,
			m.stops,
			m.eventsNormalized,
			m.eventsDispatched,
			m.payloadFailures,
			m.buildInfo,
		)
	}

	return m
}

// SetBuildInfo exports the running version.
func (m *Metrics) SetBuildInfo(version, commit string) {
	if m == nil {
		return
	}
	m.buildInfo.WithLabelValues(version, commit).Set(1)
}

// SetSessions records the number of sessions in the registry.
func (m *Metrics) SetSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

// SessionAuthorized records a session entering the authorized state.
func (m *Metrics) SessionAuthorized() {
	if m == nil {
		return
	}
	m.sessionsAuthorized.Inc()
}

// SessionDeauthorized records an authorized session terminating.
func (m *Metrics) SessionDeauthorized() {
	if m == nil {
		return
	}
	m.sessionsAuthorized.Dec()
}

// Disconnect records a disconnect classification.
func (m *Metrics) Disconnect(classification string) {
	if m == nil {
		return
	}
	m.disconnects.WithLabelValues(classification).Inc()
}

// Stop records a stop request by trigger.
func (m *Metrics) Stop(trigger string) {
	if m == nil {
		return
	}
	m.stops.WithLabelValues(trigger).Inc()
}

// EventNormalized records one normalized event.
func (m *Metrics) EventNormalized(eventType string) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.eventsNormalized.WithLabelValues(eventType).Inc()
}

// EventDispatched records one event accepted by the dispatcher.
func (m *Metrics) EventDispatched(streamer string) {
	if m == nil {
		return
	}
	m.eventsDispatched.WithLabelValues(streamer).Inc()
}

// PayloadFailure records an abandoned payload.
func (m *Metrics) PayloadFailure(reason string) {
	if m == nil {
		return
	}
	m.payloadFailures.WithLabelValues(reason).Inc()
}
