package runtime

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the per-stage collectors of one pipeline run.
type Metrics struct {
	registry *prometheus.Registry

	messagesIn     *prometheus.CounterVec
	messagesOut    *prometheus.CounterVec
	dropped        *prometheus.CounterVec
	errors         *prometheus.CounterVec
	state          *prometheus.GaugeVec
	processSeconds *prometheus.HistogramVec
}

// NewMetrics registers the stage collectors on reg. A nil reg gets a fresh
// registry, so runs never share collectors.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		messagesIn: f.NewCounterVec(prometheus.CounterOpts{
			Name: "openfilter_stage_messages_in_total",
			Help: "Messages received by a stage.",
		}, []string{"stage"}),
		messagesOut: f.NewCounterVec(prometheus.CounterOpts{
			Name: "openfilter_stage_messages_out_total",
			Help: "Messages published by a stage.",
		}, []string{"stage"}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "openfilter_stage_dropped_total",
			Help: "Messages dropped by the drop-oldest buffering policy.",
		}, []string{"stage"}),
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "openfilter_stage_errors_total",
			Help: "Processing errors raised by a stage.",
		}, []string{"stage"}),
		state: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "openfilter_stage_state",
			Help: "Current stage state (0 pending, 1 running, 2 stopped, 3 failed).",
		}, []string{"stage"}),
		processSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "openfilter_stage_process_seconds",
			Help:    "Time spent in a filter's Process call.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		}, []string{"stage"}),
	}
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// StageMetrics are the collectors bound to one stage label.
type StageMetrics struct {
	In, Out, Dropped, Errors prometheus.Counter
	State                    prometheus.Gauge
	Process                  prometheus.Observer
}

// ForStage binds the collectors to stage.
func (m *Metrics) ForStage(stage string) *StageMetrics {
	return &StageMetrics{
		In:      m.messagesIn.WithLabelValues(stage),
		Out:     m.messagesOut.WithLabelValues(stage),
		Dropped: m.dropped.WithLabelValues(stage),
		Errors:  m.errors.WithLabelValues(stage),
		State:   m.state.WithLabelValues(stage),
		Process: m.processSeconds.WithLabelValues(stage),
	}
}

func (sm *StageMetrics) observe(start time.Time) {
	sm.Process.Observe(time.Since(start).Seconds())
}
