package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "robo"

// Drop reasons used as the "reason" label of MessagesDropped.
const (
	DropNoConsumer = "no_consumer"
	DropNotStarted = "not_started"
	DropShutdown   = "shutdown"
)

// Handler failure kinds used as the "kind" label of HandlerFailures.
const (
	FailureError = "error"
	FailurePanic = "panic"
)

// Metrics contains all runtime-level collectors.
type Metrics struct {
	// Message flow
	MessagesSent      *prometheus.CounterVec
	MessagesDropped   *prometheus.CounterVec
	MessagesDelivered *prometheus.CounterVec

	// Handler execution
	HandlerFailures *prometheus.CounterVec
	HandlerDuration *prometheus.HistogramVec

	// Unit state
	UnitState *prometheus.GaugeVec
	BusDepth  *prometheus.GaugeVec
}

// NewMetrics creates a new, unregistered Metrics instance. The collectors
// are usable immediately; register them with a Registry to export them.
func NewMetrics() *Metrics {
	return &Metrics{
		MessagesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "sent_total",
				Help:      "Total number of messages accepted by a unit bus, by route",
			},
			[]string{"unit", "route"},
		),

		MessagesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "dropped_total",
				Help:      "Total number of messages dropped before delivery, by reason",
			},
			[]string{"unit", "reason"},
		),

		MessagesDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "messages",
				Name:      "delivered_total",
				Help:      "Total number of messages handed to a unit's handler",
			},
			[]string{"unit"},
		),

		HandlerFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "handler",
				Name:      "failures_total",
				Help:      "Total number of failed handler invocations, by kind",
			},
			[]string{"unit", "kind"},
		),

		HandlerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "handler",
				Name:      "duration_seconds",
				Help:      "Message handler duration in seconds",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"unit"},
		),

		UnitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "unit",
				Name:      "state",
				Help: "Unit lifecycle state (0=uninitialized, 1=initializing, 2=initialized, " +
					"3=starting, 4=started, 5=stopping, 6=stopped, 7=failed)",
			},
			[]string{"unit"},
		),

		BusDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "bus",
				Name:      "depth",
				Help:      "Number of envelopes queued in a unit bus, sampled after each delivery",
			},
			[]string{"unit"},
		),
	}
}

// collectors returns every collector in registration order.
func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.MessagesSent,
		m.MessagesDropped,
		m.MessagesDelivered,
		m.HandlerFailures,
		m.HandlerDuration,
		m.UnitState,
		m.BusDepth,
	}
}

// Forget removes every series labelled with the given unit.
func (m *Metrics) Forget(unit string) {
	labels := prometheus.Labels{"unit": unit}
	m.MessagesSent.DeletePartialMatch(labels)
	m.MessagesDropped.DeletePartialMatch(labels)
	m.MessagesDelivered.DeletePartialMatch(labels)
	m.HandlerFailures.DeletePartialMatch(labels)
	m.HandlerDuration.DeletePartialMatch(labels)
	m.UnitState.DeletePartialMatch(labels)
	m.BusDepth.DeletePartialMatch(labels)
}
