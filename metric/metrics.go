package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/astrate-platform/astrate/core"
)

const namespace = "astrate"

// Metrics implements core.Metrics and middleware.MetricsCollector.
type Metrics struct {
	ConnectAttempts *prometheus.CounterVec
	LinkLosses      prometheus.Counter
	LinkState       prometheus.Gauge
	Deliveries      *prometheus.CounterVec
	Acks            *prometheus.CounterVec
	Workers         prometheus.Gauge
	HandlerDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ConnectAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "broker",
				Name:      "connect_attempts_total",
				Help:      "Broker connect attempts by result",
			},
			[]string{"result"},
		),
		LinkLosses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "link_losses_total",
			Help:      "Number of times an established broker link was lost",
		}),
		LinkState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "broker",
			Name:      "connected",
			Help:      "1 while the dispatcher holds a live broker link, 0 otherwise",
		}),
		Deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatcher",
				Name:      "deliveries_total",
				Help:      "Deliveries received by outcome",
			},
			[]string{"outcome"},
		),
		Acks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "dispatcher",
				Name:      "settlements_total",
				Help:      "Ack and nack calls by operation and result",
			},
			[]string{"op", "result"},
		),
		Workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "workers",
			Name:      "active",
			Help:      "Number of live per-key workers",
		}),
		HandlerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "handler",
				Name:      "duration_seconds",
				Help:      "Event handler duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"realm", "status"},
		),
	}

	for _, c := range []prometheus.Collector{
		m.ConnectAttempts, m.LinkLosses, m.LinkState, m.Deliveries, m.Acks, m.Workers, m.HandlerDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) ConnectAttempt(err error) {
	m.ConnectAttempts.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) LinkLost() { m.LinkLosses.Inc() }

func (m *Metrics) StateChanged(s core.State) {
	if s == core.StateConnected {
		m.LinkState.Set(1)
		return
	}
	m.LinkState.Set(0)
}

func (m *Metrics) Delivery(outcome core.Outcome) {
	m.Deliveries.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) AckResult(op string, err error) {
	m.Acks.WithLabelValues(op, result(err)).Inc()
}

func (m *Metrics) WorkersActive(n int) { m.Workers.Set(float64(n)) }

// EventHandled records handler latency per realm. Policies are left out of
// the labels to bound cardinality.
func (m *Metrics) EventHandled(key core.RoutingKey, d time.Duration, err error) {
	m.HandlerDuration.WithLabelValues(key.Realm, result(err)).Observe(d.Seconds())
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
