package messaging

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the counters updated by a Messenger and an Anycaster.
// Nil counters are skipped.
type Metrics struct {
	Sent             prometheus.Counter
	Received         prometheus.Counter
	TransportErrors  prometheus.Counter
	AnycastAttempts  prometheus.Counter
	AnycastExhausted prometheus.Counter
}

func inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}
