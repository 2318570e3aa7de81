package router

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the router's Prometheus collectors.
type Metrics struct {
	SignalsRouted  *prometheus.CounterVec
	SignalsDropped *prometheus.CounterVec
	BroadcastSends *prometheus.CounterVec
	ActionDuration *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		SignalsRouted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "signalserver",
				Subsystem: "router",
				Name:      "signals_routed_total",
				Help:      "Signals accepted by the router, by mode",
			},
			[]string{"mode"},
		),
		SignalsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "signalserver",
				Subsystem: "router",
				Name:      "signals_dropped_total",
				Help:      "Signals dropped without a response, by reason",
			},
			[]string{"reason"},
		),
		BroadcastSends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "signalserver",
				Subsystem: "router",
				Name:      "connection_sends_total",
				Help:      "Signals sent to individual connections, by result",
			},
			[]string{"result"},
		),
		ActionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "signalserver",
				Subsystem: "router",
				Name:      "action_duration_seconds",
				Help:      "Extension action execution time in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"extension", "kind"},
		),
	}
}

// Register adds every collector to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.SignalsRouted, m.SignalsDropped, m.BroadcastSends, m.ActionDuration} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) routed(mode string) {
	if m != nil {
		m.SignalsRouted.WithLabelValues(mode).Inc()
	}
}

func (m *Metrics) dropped(reason string) {
	if m != nil {
		m.SignalsDropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) sent(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.BroadcastSends.WithLabelValues(result).Inc()
}

func (m *Metrics) observe(extension, kind string, start time.Time) {
	if m != nil {
		m.ActionDuration.WithLabelValues(extension, kind).Observe(time.Since(start).Seconds())
	}
}
