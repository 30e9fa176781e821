package ingestion

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts pipeline outcomes.
type Metrics struct {
	messages *prometheus.CounterVec
}

// NewMetrics registers the pipeline counters with reg. A nil reg leaves the
// counters unregistered, which is what most tests want.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sensorbridge",
			Name:      "messages_total",
			Help:      "Messages handled by the ingestion pipeline, by outcome.",
		}, []string{"outcome"}),
	}
	if reg == nil {
		return m, nil
	}
	if err := reg.Register(m.messages); err != nil {
		return nil, err
	}
	return m, nil
}

// Outcome returns the counter for a given outcome label.
func (m *Metrics) Outcome(label string) prometheus.Counter {
	return m.messages.WithLabelValues(label)
}

func (m *Metrics) observe(o Outcome) {
	if m == nil {
		return
	}
	if o.Stage == StagePersisted {
		m.Outcome(string(StagePersisted)).Inc()
		return
	}
	m.Outcome(string(o.Reason)).Inc()
}
