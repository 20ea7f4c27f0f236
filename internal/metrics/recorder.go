// Package metrics exposes queue telemetry to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vvka-141/mailq/pkg/mailq"
)

const namespace = "mailq"

// Recorder implements mailq.Recorder with Prometheus collectors.
type Recorder struct {
	EnqueueTotal   *prometheus.CounterVec
	AttemptTotal   *prometheus.CounterVec
	DrainTotal     *prometheus.CounterVec
	DrainDuration  prometheus.Histogram
	PendingDepth   prometheus.Gauge
	EntriesByState *prometheus.GaugeVec
	StatsErrors    prometheus.Counter
}

var _ mailq.Recorder = (*Recorder)(nil)

// NewRecorder creates the collectors and registers them with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		EnqueueTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "enqueued_total",
				Help:      "Total number of entries accepted into the queue",
			},
			[]string{"category"},
		),
		AttemptTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_total",
				Help:      "Delivery attempts by category and outcome",
			},
			[]string{"category", "outcome"},
		),
		DrainTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "drained_total",
				Help:      "Entries handled by drain passes, split into processed, succeeded and failed",
			},
			[]string{"result"},
		),
		DrainDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "drain_duration_seconds",
				Help:      "Wall time of one drain pass",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			},
		),
		PendingDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_entries",
				Help:      "Entries eligible for delivery at the last count",
			},
		),
		EntriesByState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "entries",
				Help:      "Entries per state at the last stats poll (stuck counts pending rows with no attempts left)",
			},
			[]string{"state"},
		),
		StatsErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stats_errors_total",
				Help:      "Failed stats polls",
			},
		),
	}

	reg.MustRegister(
		r.EnqueueTotal,
		r.AttemptTotal,
		r.DrainTotal,
		r.DrainDuration,
		r.PendingDepth,
		r.EntriesByState,
		r.StatsErrors,
	)
	return r
}

func (r *Recorder) Enqueued(category string) {
	r.EnqueueTotal.WithLabelValues(category).Inc()
}

func (r *Recorder) Attempted(category, outcome string) {
	r.AttemptTotal.WithLabelValues(category, outcome).Inc()
}

func (r *Recorder) Drained(result mailq.DrainResult, took time.Duration) {
	r.DrainTotal.WithLabelValues("processed").Add(float64(result.Processed))
	r.DrainTotal.WithLabelValues("succeeded").Add(float64(result.Succeeded))
	r.DrainTotal.WithLabelValues("failed").Add(float64(result.Failed))
	r.DrainDuration.Observe(took.Seconds())
}

func (r *Recorder) PendingObserved(n int) {
	r.PendingDepth.Set(float64(n))
}

// ObserveStats publishes a stats snapshot.
func (r *Recorder) ObserveStats(s mailq.QueueStats) {
	r.EntriesByState.WithLabelValues(string(mailq.StatePending)).Set(float64(s.Pending))
	r.EntriesByState.WithLabelValues(string(mailq.StateSent)).Set(float64(s.Sent))
	r.EntriesByState.WithLabelValues(string(mailq.StateFailed)).Set(float64(s.Failed))
	r.EntriesByState.WithLabelValues(string(mailq.StateCancelled)).Set(float64(s.Cancelled))
	r.EntriesByState.WithLabelValues("stuck").Set(float64(s.Stuck))
}
