// Package metrics is the backend-neutral metrics facade of the loader.
//
// Core code records through the package-level helpers; cmd/spotlx selects a
// backend (Datadog, Prometheus Pushgateway or none) with SetBackend. The
// default backend discards everything.
package metrics

import (
	"sync"
	"time"
)

// Metric names. Backends ignore names they do not know.
const (
	StepTotal       = "spotlx_step_total"
	StepDuration    = "spotlx_step_duration_seconds"
	RecordsTotal    = "spotlx_records_total"
	BatchesTotal    = "spotlx_batches_total"
	IndexesTotal    = "spotlx_indexes_total"
	ReconnectsTotal = "spotlx_reconnects_total"
)

// Record kinds used with RecordsTotal.
const (
	KindLoaded    = "loaded"
	KindMalformed = "malformed"
	KindOversized = "oversized"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric observations.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b. A nil b restores the nop backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// IncCounter adds delta to the counter name.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram records one sample of name.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush pushes buffered observations to the backend.
func Flush() error {
	return current().Flush()
}

// RecordStep counts one finished step and its duration.
func RecordStep(step string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	l := Labels{"step": step, "status": status}
	IncCounter(StepTotal, 1, l)
	ObserveHistogram(StepDuration, d.Seconds(), l)
}

// RecordRows counts n records of the given kind.
func RecordRows(kind string, n int64) {
	if n <= 0 {
		return
	}
	IncCounter(RecordsTotal, float64(n), Labels{"kind": kind})
}

// RecordBatch counts one flushed batch.
func RecordBatch() {
	IncCounter(BatchesTotal, 1, nil)
}

// RecordIndex counts one index statement outcome (built, failed, skipped or
// timed_out).
func RecordIndex(status string) {
	IncCounter(IndexesTotal, 1, Labels{"status": status})
}

// RecordReconnect counts one transparent store reconnect.
func RecordReconnect() {
	IncCounter(ReconnectsTotal, 1, nil)
}
