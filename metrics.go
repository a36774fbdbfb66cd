package overlay

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/opd-ai/overlay/messaging"
)

const metricsNamespace = "overlay"

// Metrics holds the Prometheus collectors of one peer.
type Metrics struct {
	Messaging *messaging.Metrics
	// Deletions counts advertisements removed by reconciliation, by reason.
	Deletions *prometheus.CounterVec
	// GroupsEntered counts groups that became current.
	GroupsEntered prometheus.Counter
	// Departures counts members reported leaving the current group.
	Departures prometheus.Counter
}

func counter(subsystem, name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Messaging: &messaging.Metrics{
			Sent:             counter("messaging", "sent_total", "Requests sent over direct channels."),
			Received:         counter("messaging", "received_total", "Requests received over direct channels."),
			TransportErrors:  counter("messaging", "transport_errors_total", "Failed direct channel exchanges."),
			AnycastAttempts:  counter("messaging", "anycast_attempts_total", "Anycast delivery attempts."),
			AnycastExhausted: counter("messaging", "anycast_exhausted_total", "Anycasts that ran out of retries."),
		},
		Deletions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "reconcile",
			Name:      "deletions_total",
			Help:      "Channel advertisements flushed by reconciliation.",
		}, []string{"reason"}),
		GroupsEntered: counter("membership", "groups_entered_total", "Groups that became the current group."),
		Departures:    counter("membership", "departures_total", "Members reported leaving the current group."),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	for _, c := range m.collectors() {
		err = multierr.Append(err, reg.Register(c))
	}
	return m, err
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Messaging.Sent,
		m.Messaging.Received,
		m.Messaging.TransportErrors,
		m.Messaging.AnycastAttempts,
		m.Messaging.AnycastExhausted,
		m.Deletions,
		m.GroupsEntered,
		m.Departures,
	}
}
