package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics of the poll engine and write dispatcher.
type Metrics struct {
	Polls        *prometheus.CounterVec
	PollDuration *prometheus.HistogramVec
	ItemUpdates  *prometheus.CounterVec
	Writes       *prometheus.CounterVec
	Degraded     *prometheus.GaugeVec
}

// NewMetrics creates the engine metrics and registers them with reg unless it
// is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shng_polls_total",
			Help: "Adapter polls by result (ok, transient, permanent, skipped).",
		}, []string{"adapter", "result"}),
		PollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shng_poll_duration_seconds",
			Help:    "Duration of adapter polls.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"adapter"}),
		ItemUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shng_item_updates_total",
			Help: "Item values set from adapter readings.",
		}, []string{"adapter"}),
		Writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shng_writes_total",
			Help: "Adapter writes by result (ok, failed).",
		}, []string{"adapter", "result"}),
		Degraded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shng_adapter_degraded",
			Help: "1 while an adapter is degraded.",
		}, []string{"adapter"}),
	}
	if reg != nil {
		reg.MustRegister(m.Polls, m.PollDuration, m.ItemUpdates, m.Writes, m.Degraded)
	}
	return m
}
