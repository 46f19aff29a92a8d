// Package datadog implements a Datadog backend for the internal/metrics package.
//
// NOTE ABOUT FLUSHING:
// A full load runs for hours or days. Submitting only at process exit would
// give dashboards a single spike, so the backend:
//   - buffers observations in memory under a mutex
//   - flushes on a ticker (default: once per minute)
//   - flushes one final time on Close
//
// Concurrency model:
//   - Loader, indexer and engine goroutines call IncCounter/ObserveHistogram
//     at any time.
//   - Flush snapshots and resets the buffers under the mutex, then submits
//     outside of it.
//
// If the process is killed with SIGKILL/OOM, Close() won’t run.
package datadog

import (
	"context"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"spotlx/internal/metrics"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric.
	// If empty, defaults to "spotlx".
	JobName string

	// RunID becomes tag "run_id:<id>" when set.
	RunID string

	// Tags are extra Datadog tags (e.g. []string{"env:prod", "team:kb"}).
	Tags []string

	// FlushEvery controls how often buffered metrics are submitted.
	// If <= 0, defaults to 60 seconds.
	FlushEvery time.Duration

	// Unexported test seams. Production code never sets them.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the part of *datadogV2.MetricsApi the backend uses.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// spec maps a facade metric to its Datadog name and the labels that become
// tags, in tag order.
type spec struct {
	name   string
	labels []string
}

var counterSpecs = map[string]spec{
	metrics.StepTotal:       {"spotlx.step.total", []string{"step", "status"}},
	metrics.RecordsTotal:    {"spotlx.records.total", []string{"kind"}},
	metrics.BatchesTotal:    {"spotlx.batches.total", nil},
	metrics.IndexesTotal:    {"spotlx.indexes.total", []string{"status"}},
	metrics.ReconnectsTotal: {"spotlx.reconnects.total", nil},
}

var histogramSpecs = map[string]spec{
	metrics.StepDuration: {"spotlx.step.duration_seconds", []string{"step", "status"}},
}

// series identifies one buffered time series: a Datadog metric name plus its
// label tags.
type series struct {
	metric string
	tags   string // "\x00"-joined "label:value" pairs
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}
	closeOnce  sync.Once

	baseTags []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu         sync.Mutex
	counters   map[series]float64
	histograms map[series][]float64
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

// NewBackend constructs a Datadog backend using the official client and
// starts its flush loop.
//
// Edge cases:
//   - If opts.FlushEvery <= 0, defaults to 60s.
//   - If opts.JobName is empty, defaults to "spotlx".
//   - Environment tag selection uses ENV then DD_ENV, otherwise env:unknown.
//   - Credentials (DD_API_KEY, DD_SITE) are read by the client from the
//     environment; network errors surface from Flush.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := opts.JobName
	if job == "" {
		job = "spotlx"
	}
	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := []string{resolveEnvTag(), "job:" + job}
	if opts.RunID != "" {
		baseTags = append(baseTags, "run_id:"+opts.RunID)
	}
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}
	submitter := opts.submitter
	if submitter == nil {
		submitter = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
		now:        nowFn,
		newTicker:  newTicker,
		counters:   make(map[series]float64),
		histograms: make(map[series][]float64),
	}
	go b.loop()
	return b, nil
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the flush loop and performs one final Flush. Calling Close
// again only flushes.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		close(b.stopCh)
		<-b.doneCh
	})
	return b.Flush()
}

func seriesFor(sp spec, labels metrics.Labels) series {
	parts := make([]string, 0, len(sp.labels))
	for _, l := range sp.labels {
		v := labels[l]
		if v == "" {
			v = "unknown"
		}
		parts = append(parts, l+":"+v)
	}
	return series{metric: sp.name, tags: strings.Join(parts, "\x00")}
}

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	sp, ok := counterSpecs[name]
	if !ok || delta <= 0 {
		return
	}
	k := seriesFor(sp, labels)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.counters[k] += delta
}

// ObserveHistogram implements metrics.Backend. Unknown names are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	sp, ok := histogramSpecs[name]
	if !ok || value < 0 {
		return
	}
	k := seriesFor(sp, labels)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.histograms[k] = append(b.histograms[k], value)
}

type snapshot struct {
	counters   map[series]float64
	histograms map[series][]float64
}

func (s snapshot) isEmpty() bool {
	return len(s.counters) == 0 && len(s.histograms) == 0
}

// snapshotAndReset detaches the buffered observations.
//
// Concurrency:
//   - Must be called with no lock held.
func (b *Backend) snapshotAndReset() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := snapshot{counters: b.counters, histograms: b.histograms}
	b.counters = make(map[series]float64)
	b.histograms = make(map[series][]float64)
	return s
}

// Flush submits buffered metrics to Datadog and resets local buffers.
//
// Errors:
//   - Returns any error from Datadog submission.
//   - Returns nil if there is nothing to submit.
//
// Edge cases:
//   - Buffers are reset even if submission fails, so a Datadog outage never
//     grows memory during a long load.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}
	payload := datadogV2.MetricPayload{Series: b.buildSeries(snap, b.now().Unix())}
	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// buildSeries turns a snapshot into Datadog series at a fixed timestamp.
// Counters become COUNT series; every histogram becomes p50/p90/p95/p99/max
// and samples GAUGE series. The output is sorted by metric name and tags.
func (b *Backend) buildSeries(s snapshot, nowUnix int64) []datadogV2.MetricSeries {
	out := make([]datadogV2.MetricSeries, 0, len(s.counters)+6*len(s.histograms))

	for k, v := range s.counters {
		if v == 0 {
			continue
		}
		out = append(out, point(k.metric, datadogV2.METRICINTAKETYPE_COUNT, v, b.tags(k), nowUnix))
	}

	for k, samples := range s.histograms {
		if len(samples) == 0 {
			continue
		}
		cp := append([]float64(nil), samples...)
		sort.Float64s(cp)
		tags := b.tags(k)
		gauge := datadogV2.METRICINTAKETYPE_GAUGE
		out = append(out,
			point(k.metric+".p50", gauge, percentileNearestRank(cp, 0.50), tags, nowUnix),
			point(k.metric+".p90", gauge, percentileNearestRank(cp, 0.90), tags, nowUnix),
			point(k.metric+".p95", gauge, percentileNearestRank(cp, 0.95), tags, nowUnix),
			point(k.metric+".p99", gauge, percentileNearestRank(cp, 0.99), tags, nowUnix),
			point(k.metric+".max", gauge, cp[len(cp)-1], tags, nowUnix),
			point(k.metric+".samples", gauge, float64(len(cp)), tags, nowUnix),
		)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Metric != out[j].Metric {
			return out[i].Metric < out[j].Metric
		}
		return strings.Join(out[i].Tags, ",") < strings.Join(out[j].Tags, ",")
	})
	return out
}

func (b *Backend) tags(k series) []string {
	out := append([]string(nil), b.baseTags...)
	if k.tags != "" {
		out = append(out, strings.Split(k.tags, "\x00")...)
	}
	return out
}

func point(metric string, typ datadogV2.MetricIntakeType, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   typ.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	return s[min(max(idx, 0), n-1)]
}

// ParseTagsCSV parses comma-separated tags like "env:prod,team:kb".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

var _ metrics.Backend = (*Backend)(nil)
