// Package prompush implements a Prometheus Pushgateway backend for the
// internal/metrics package.
//
// Observations go into a private registry. Flush pushes the whole registry to
// the gateway under the job's grouping key, replacing what a previous push of
// the same job left there.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"spotlx/internal/metrics"
)

// Backend implements metrics.Backend for the Pushgateway.
type Backend struct {
	pusher *push.Pusher

	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	labels     map[string][]string
}

// NewBackend registers the loader's metrics on a fresh registry and returns a
// backend pushing to url under job.
//
// Edge cases:
//   - runID, when non-empty, becomes the "run_id" grouping label so
//     concurrent runs of one job do not overwrite each other.
func NewBackend(job, url string, runID ...string) (*Backend, error) {
	if job == "" {
		return nil, fmt.Errorf("prompush: empty job name")
	}
	if url == "" {
		return nil, fmt.Errorf("prompush: empty gateway url")
	}

	reg := prometheus.NewRegistry()
	b := &Backend{
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		labels:     make(map[string][]string),
	}

	counter := func(name, help string, labels ...string) {
		v := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
		reg.MustRegister(v)
		b.counters[name] = v
		b.labels[name] = labels
	}
	counter(metrics.StepTotal, "Finished job steps by outcome.", "step", "status")
	counter(metrics.RecordsTotal, "Fact records by outcome.", "kind")
	counter(metrics.BatchesTotal, "Flushed insert batches.")
	counter(metrics.IndexesTotal, "Index statements by outcome.", "status")
	counter(metrics.ReconnectsTotal, "Transparent store reconnects.")

	dur := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    metrics.StepDuration,
		Help:    "Job step duration in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 12),
	}, []string{"step", "status"})
	reg.MustRegister(dur)
	b.histograms[metrics.StepDuration] = dur
	b.labels[metrics.StepDuration] = []string{"step", "status"}

	b.pusher = push.New(url, job).Gatherer(reg)
	if len(runID) > 0 && runID[0] != "" {
		b.pusher = b.pusher.Grouping("run_id", runID[0])
	}
	return b, nil
}

func (b *Backend) values(name string, labels metrics.Labels) []string {
	names := b.labels[name]
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = labels[n]
		if out[i] == "" {
			out[i] = "unknown"
		}
	}
	return out
}

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	v, ok := b.counters[name]
	if !ok || delta <= 0 {
		return
	}
	v.WithLabelValues(b.values(name, labels)...).Add(delta)
}

// ObserveHistogram implements metrics.Backend. Unknown names are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	v, ok := b.histograms[name]
	if !ok || value < 0 {
		return
	}
	v.WithLabelValues(b.values(name, labels)...).Observe(value)
}

// Flush pushes the registry to the gateway.
func (b *Backend) Flush() error {
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: push: %w", err)
	}
	return nil
}

var _ metrics.Backend = (*Backend)(nil)
