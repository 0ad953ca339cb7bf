// Package metrics exposes sweep activity to Prometheus.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/RMahshie/fetbench/internal/feed"
)

// states lists the values of the fetbench_sweep_state gauge.
var states = []string{"idle", "running", "paused", "stopping", "stopped", "completed", "failed"}

// Recorder turns feed events into Prometheus series. It observes events as
// the display monitor drains them.
type Recorder struct {
	registry *prometheus.Registry
	points   *prometheus.CounterVec
	runs     *prometheus.CounterVec
	progress prometheus.Gauge
	state    *prometheus.GaugeVec
	lag      prometheus.Histogram

	mu      sync.Mutex
	current string
}

// NewRecorder registers the sweep collectors on a private registry along
// with the Go and process collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		points: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetbench_points_total",
				Help: "Measurement points recorded, by swept axis.",
			},
			[]string{"axis"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fetbench_runs_total",
				Help: "Finished sweeps, by outcome.",
			},
			[]string{"outcome"},
		),
		progress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fetbench_sweep_progress_percent",
			Help: "Progress of the current sweep.",
		}),
		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "fetbench_sweep_state",
				Help: "1 for the current engine state, 0 otherwise.",
			},
			[]string{"state"},
		),
		lag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fetbench_feed_lag_seconds",
			Help:    "Delay between a point being measured and the display receiving it.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
	}

	r.registry.MustRegister(
		r.points, r.runs, r.progress, r.state, r.lag,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	r.setState("idle")
	return r
}

// Observe implements the display observer.
func (r *Recorder) Observe(e feed.Event) {
	switch e.Kind {
	case feed.KindData:
		r.points.WithLabelValues(string(e.Point.Axis)).Inc()
		// Set replaces the previous run's value from the first point on.
		r.progress.Set(e.Point.ProgressPct)
		if !e.Point.Timestamp.IsZero() {
			r.lag.Observe(time.Since(e.Point.Timestamp).Seconds())
		}
	case feed.KindStatus:
		// Running entered from anything but paused starts a new run.
		if prev := r.setState(e.Status); e.Status == "running" && prev != "paused" {
			r.progress.Set(0)
		}
	case feed.KindComplete, feed.KindError:
		r.runs.WithLabelValues(e.Status).Inc()
		r.setState(e.Status)
	}
}

// setState marks current as the active state and returns the one it replaced.
func (r *Recorder) setState(current string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.current
	r.current = current
	for _, s := range states {
		v := 0.0
		if s == current {
			v = 1
		}
		r.state.WithLabelValues(s).Set(v)
	}
	return prev
}

// Registry returns the registry backing Handler.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
