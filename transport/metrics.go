package transport

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the Prometheus metrics of a server.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "coolsocket").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus metrics.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

// Metrics holds the Prometheus collectors updated by sessions, executors,
// connection managers and channels. A nil *Metrics records nothing.
type Metrics struct {
	sessionsTotal     prometheus.Counter
	connectionsTotal  prometheus.Counter
	connectionsActive prometheus.Gauge
	acceptErrors      prometheus.Counter
	handlerFailures   prometheus.Counter
	framesSent        prometheus.Counter
	framesReceived    prometheus.Counter
	bytesSent         prometheus.Counter
	bytesReceived     prometheus.Counter
}

// NewMetrics registers the collectors with the configured registry.
//
// Metrics collected:
//   - coolsocket_sessions_total: Counter of listening sessions started
//   - coolsocket_connections_total: Counter of accepted connections
//   - coolsocket_connections_active: Gauge of connections currently registered
//   - coolsocket_accept_errors_total: Counter of unexpected accept failures
//   - coolsocket_handler_failures_total: Counter of client handlers that failed or panicked
//   - coolsocket_frames_sent_total / coolsocket_frames_received_total
//   - coolsocket_bytes_sent_total / coolsocket_bytes_received_total: payload bytes
func NewMetrics(opts ...MetricsOption) *Metrics {
	config := MetricsConfig{
		Namespace: "coolsocket",
		Registry:  prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(&config)
	}

	factory := promauto.With(config.Registry)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		})
	}

	return &Metrics{
		sessionsTotal:    counter("sessions_total", "Total number of listening sessions started"),
		connectionsTotal: counter("connections_total", "Total number of accepted connections"),
		connectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connections_active",
			Help:        "Number of connections currently tracked by connection managers",
			ConstLabels: config.ConstLabels,
		}),
		acceptErrors:    counter("accept_errors_total", "Total number of unexpected accept failures"),
		handlerFailures: counter("handler_failures_total", "Total number of client handlers that failed or panicked"),
		framesSent:      counter("frames_sent_total", "Total number of frames sent"),
		framesReceived:  counter("frames_received_total", "Total number of frames received"),
		bytesSent:       counter("bytes_sent_total", "Total number of payload bytes sent"),
		bytesReceived:   counter("bytes_received_total", "Total number of payload bytes received"),
	}
}

func (m *Metrics) sessionStarted() {
	if m != nil {
		m.sessionsTotal.Inc()
	}
}

func (m *Metrics) connectionAccepted() {
	if m != nil {
		m.connectionsTotal.Inc()
	}
}

func (m *Metrics) connectionAdded() {
	if m != nil {
		m.connectionsActive.Inc()
	}
}

func (m *Metrics) connectionRemoved() {
	if m != nil {
		m.connectionsActive.Dec()
	}
}

func (m *Metrics) acceptFailed() {
	if m != nil {
		m.acceptErrors.Inc()
	}
}

func (m *Metrics) handlerFailed() {
	if m != nil {
		m.handlerFailures.Inc()
	}
}

func (m *Metrics) frameSent(n int64) {
	if m != nil {
		m.framesSent.Inc()
		m.bytesSent.Add(float64(n))
	}
}

func (m *Metrics) frameReceived(n int64) {
	if m != nil {
		m.framesReceived.Inc()
		m.bytesReceived.Add(float64(n))
	}
}
