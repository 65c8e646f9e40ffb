package client

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "listenify"
	metricsSubsystem = "rtc"
)

// Call outcomes recorded in the calls_total "outcome" label.
const (
	outcomeOK        = "ok"
	outcomeRPCError  = "rpc_error"
	outcomeTimeout   = "timeout"
	outcomeClosed    = "closed"
	outcomeCancelled = "cancelled"
	outcomeError     = "error"
)

type metrics struct {
	calls           *prometheus.CounterVec
	callDuration    *prometheus.HistogramVec
	pending         prometheus.Gauge
	notifications   *prometheus.CounterVec
	reconnects      prometheus.Counter
	protocolErrors  prometheus.Counter
	handlerFailures *prometheus.CounterVec
	state           prometheus.Gauge
}

// newMetrics builds the client collectors. They are registered with reg when it is non-nil;
// clients sharing a name and registry share collectors.
func newMetrics(reg prometheus.Registerer, name string) *metrics {
	labels := prometheus.Labels{"client": name}
	m := &metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "calls_total",
			Help:        "JSON-RPC calls issued, by method and outcome.",
			ConstLabels: labels,
		}, []string{"method", "outcome"}),
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "call_duration_seconds",
			Help:        "Time from sending a call to its settlement.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"method"}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "pending_calls",
			Help:        "Calls waiting for a response.",
			ConstLabels: labels,
		}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "notifications_total",
			Help:        "Server notifications received, by event name.",
			ConstLabels: labels,
		}, []string{"event"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "reconnect_attempts_total",
			Help:        "Reconnection attempts after unexpected closes.",
			ConstLabels: labels,
		}),
		protocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "protocol_errors_total",
			Help:        "Inbound frames dropped as malformed.",
			ConstLabels: labels,
		}),
		handlerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "handler_failures_total",
			Help:        "Event handlers that returned an error or panicked.",
			ConstLabels: labels,
		}, []string{"event"}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   metricsNamespace,
			Subsystem:   metricsSubsystem,
			Name:        "connection_state",
			Help:        "Current connection state (0 disconnected, 1 connecting, 2 connected, 3 disconnecting, 4 reconnecting).",
			ConstLabels: labels,
		}),
	}

	if reg != nil {
		m.calls = register(reg, m.calls)
		m.callDuration = register(reg, m.callDuration)
		m.pending = register(reg, m.pending)
		m.notifications = register(reg, m.notifications)
		m.reconnects = register(reg, m.reconnects)
		m.protocolErrors = register(reg, m.protocolErrors)
		m.handlerFailures = register(reg, m.handlerFailures)
		m.state = register(reg, m.state)
	}
	return m
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

func (m *metrics) observeCall(method, outcome string, seconds float64) {
	m.calls.WithLabelValues(method, outcome).Inc()
	m.callDuration.WithLabelValues(method).Observe(seconds)
}

func callOutcome(err error) string {
	var timeout *TimeoutError
	switch {
	case err == nil:
		return outcomeOK
	case errors.As(err, &timeout):
		return outcomeTimeout
	case errors.Is(err, ErrConnectionClosed), errors.Is(err, ErrNotConnected):
		return outcomeClosed
	case isRPCError(err):
		return outcomeRPCError
	case isContextError(err):
		return outcomeCancelled
	default:
		return outcomeError
	}
}
