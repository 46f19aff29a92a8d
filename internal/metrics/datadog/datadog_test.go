package datadog

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"spotlx/internal/metrics"
)

// fakeSubmitter captures payloads submitted by Backend.Flush().
type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
	err      error
}

func (f *fakeSubmitter) SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, body)
	return datadogV2.IntakePayloadAccepted{}, nil, f.err
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

func (f *fakeSubmitter) last() (datadogV2.MetricPayload, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.payloads) == 0 {
		return datadogV2.MetricPayload{}, false
	}
	return f.payloads[len(f.payloads)-1], true
}

// quietOptions disables the background loop for deterministic tests.
func quietOptions(fs *fakeSubmitter, unix int64) Options {
	return Options{
		JobName:    "job1",
		FlushEvery: 24 * time.Hour,
		submitter:  fs,
		now:        func() time.Time { return time.Unix(unix, 0) },
		newTicker:  func(d time.Duration) *time.Ticker { return time.NewTicker(24 * time.Hour) },
	}
}

func findSeries(p datadogV2.MetricPayload, metric string) []datadogV2.MetricSeries {
	var out []datadogV2.MetricSeries
	for _, s := range p.Series {
		if s.Metric == metric {
			out = append(out, s)
		}
	}
	return out
}

// TestResolveEnvTag verifies environment-tag precedence and defaults.
func TestResolveEnvTag(t *testing.T) {
	tests := []struct {
		name string
		env  string
		dd   string
		want string
	}{
		{name: "ENV_wins", env: "prod", dd: "stage", want: "env:prod"},
		{name: "DD_ENV_used_when_ENV_empty", env: "", dd: "stage", want: "env:stage"},
		{name: "whitespace_ignored", env: "   ", dd: "\n\t", want: "env:unknown"},
		{name: "default_unknown", env: "", dd: "", want: "env:unknown"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("ENV", tc.env)
			t.Setenv("DD_ENV", tc.dd)
			if got := resolveEnvTag(); got != tc.want {
				t.Fatalf("resolveEnvTag()=%q, want %q", got, tc.want)
			}
		})
	}
}

func TestPercentileNearestRank(t *testing.T) {
	tests := []struct {
		name string
		s    []float64
		p    float64
		want float64
	}{
		{name: "empty", s: nil, p: 0.50, want: 0},
		{name: "single", s: []float64{7}, p: 0.95, want: 7},
		{name: "p_le_0", s: []float64{1, 2, 3}, p: -1, want: 1},
		{name: "p_ge_1", s: []float64{1, 2, 3}, p: 2, want: 3},
		{name: "median", s: []float64{1, 2, 3, 4, 5}, p: 0.50, want: 3},
		{name: "p90_small_n", s: []float64{1, 2, 3, 4, 5}, p: 0.90, want: 5},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := percentileNearestRank(tc.s, tc.p); got != tc.want {
				t.Fatalf("percentileNearestRank(%v,%v)=%v, want %v", tc.s, tc.p, got, tc.want)
			}
		})
	}
}

func TestNewBackend_Defaults(t *testing.T) {
	t.Setenv("ENV", "test")
	fs := &fakeSubmitter{}
	opts := quietOptions(fs, 123)
	opts.JobName = ""
	opts.FlushEvery = 0
	opts.RunID = "r-1"
	opts.Tags = []string{"team:kb"}

	b, err := NewBackend(context.Background(), opts)
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { _ = b.Close() }()

	if b.flushEvery != 60*time.Second {
		t.Fatalf("flushEvery=%v, want 60s", b.flushEvery)
	}
	want := []string{"env:test", "job:spotlx", "run_id:r-1", "team:kb"}
	if !reflect.DeepEqual(b.baseTags, want) {
		t.Fatalf("baseTags=%v, want %v", b.baseTags, want)
	}
}

// TestFlush_SubmitsAndResets covers every facade metric and the reset after
// submission.
func TestFlush_SubmitsAndResets(t *testing.T) {
	t.Setenv("ENV", "test")
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), quietOptions(fs, 1000))
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { _ = b.Close() }()

	metrics.SetBackend(b)
	defer metrics.SetBackend(nil)

	metrics.RecordStep("load", nil, 2*time.Second)
	metrics.RecordStep("load", nil, 4*time.Second)
	metrics.RecordStep("indexes", errors.New("x"), time.Second)
	metrics.RecordRows(metrics.KindLoaded, 1000)
	metrics.RecordRows(metrics.KindMalformed, 3)
	metrics.RecordBatch()
	metrics.RecordBatch()
	metrics.RecordIndex("built")
	metrics.RecordReconnect()

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v", err)
	}
	p, ok := fs.last()
	if !ok {
		t.Fatalf("no payload submitted")
	}

	steps := findSeries(p, "spotlx.step.total")
	if len(steps) != 2 {
		t.Fatalf("step series=%d, want 2", len(steps))
	}
	// sorted by tags: indexes before load
	if got := strings.Join(steps[0].Tags, ","); got != "env:test,job:job1,step:indexes,status:error" {
		t.Fatalf("step tags=%q", got)
	}
	if *steps[1].Points[0].Value != 2 {
		t.Fatalf("load step count=%v, want 2", *steps[1].Points[0].Value)
	}
	if *steps[1].Points[0].Timestamp != 1000 {
		t.Fatalf("timestamp=%v, want 1000", *steps[1].Points[0].Timestamp)
	}

	if got := findSeries(p, "spotlx.records.total"); len(got) != 2 {
		t.Fatalf("record series=%d, want 2", len(got))
	}
	batches := findSeries(p, "spotlx.batches.total")
	if len(batches) != 1 || *batches[0].Points[0].Value != 2 {
		t.Fatalf("batches=%v", batches)
	}
	if *batches[0].Type != datadogV2.METRICINTAKETYPE_COUNT {
		t.Fatalf("batches type=%v, want COUNT", *batches[0].Type)
	}
	if got := findSeries(p, "spotlx.indexes.total"); len(got) != 1 {
		t.Fatalf("index series=%d, want 1", len(got))
	}
	if got := findSeries(p, "spotlx.reconnects.total"); len(got) != 1 {
		t.Fatalf("reconnect series=%d, want 1", len(got))
	}

	maxes := findSeries(p, "spotlx.step.duration_seconds.max")
	if len(maxes) != 2 {
		t.Fatalf("duration max series=%d, want 2", len(maxes))
	}
	if *maxes[1].Points[0].Value != 4 || *maxes[1].Type != datadogV2.METRICINTAKETYPE_GAUGE {
		t.Fatalf("load max=%v type=%v", *maxes[1].Points[0].Value, *maxes[1].Type)
	}
	samples := findSeries(p, "spotlx.step.duration_seconds.samples")
	if *samples[1].Points[0].Value != 2 {
		t.Fatalf("load samples=%v, want 2", *samples[1].Points[0].Value)
	}

	// buffers were reset
	if err := b.Flush(); err != nil {
		t.Fatalf("second Flush() err=%v", err)
	}
	if fs.count() != 1 {
		t.Fatalf("submit calls=%d, want 1", fs.count())
	}
}

func TestFlush_ErrorStillResets(t *testing.T) {
	fs := &fakeSubmitter{err: errors.New("intake down")}
	b, err := NewBackend(context.Background(), quietOptions(fs, 1))
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { _ = b.Close() }()

	b.IncCounter(metrics.BatchesTotal, 1, nil)
	if err := b.Flush(); err == nil {
		t.Fatalf("Flush() err=nil, want submission error")
	}
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() after reset err=%v, want nil", err)
	}
	if fs.count() != 1 {
		t.Fatalf("submit calls=%d, want 1", fs.count())
	}
}

func TestIgnoredObservations(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), quietOptions(fs, 1))
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { _ = b.Close() }()

	b.IncCounter("spotlx_http_requests_total", 1, nil)
	b.IncCounter(metrics.BatchesTotal, 0, nil)
	b.IncCounter(metrics.BatchesTotal, -1, nil)
	b.ObserveHistogram(metrics.StepDuration, -1, nil)
	b.ObserveHistogram("unknown_seconds", 1, nil)

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v", err)
	}
	if fs.count() != 0 {
		t.Fatalf("submit calls=%d, want 0", fs.count())
	}
}

func TestMissingLabelsBecomeUnknown(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), quietOptions(fs, 1))
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { _ = b.Close() }()

	b.IncCounter(metrics.RecordsTotal, 1, nil)
	_ = b.Flush()
	p, _ := fs.last()
	got := p.Series[0].Tags
	if got[len(got)-1] != "kind:unknown" {
		t.Fatalf("tags=%v, want trailing kind:unknown", got)
	}
}

func TestLoopAndClose(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), Options{
		JobName:    "job1",
		FlushEvery: 5 * time.Millisecond,
		submitter:  fs,
		now:        func() time.Time { return time.Unix(2000, 0) },
	})
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}

	b.IncCounter(metrics.BatchesTotal, 1, nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && fs.count() < 1 {
		time.Sleep(2 * time.Millisecond)
	}
	if fs.count() < 1 {
		_ = b.Close()
		t.Fatalf("expected at least one background Flush submission; got %d", fs.count())
	}

	b.IncCounter(metrics.BatchesTotal, 1, nil)
	if err := b.Close(); err != nil {
		t.Fatalf("Close() err=%v, want nil", err)
	}
	if fs.count() < 2 {
		t.Fatalf("expected at least 2 submissions after Close; got %d", fs.count())
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second Close() err=%v, want nil", err)
	}
}

func TestBackend_ConcurrentAccess(t *testing.T) {
	fs := &fakeSubmitter{}
	b, err := NewBackend(context.Background(), quietOptions(fs, 3000))
	if err != nil {
		t.Fatalf("NewBackend() err=%v", err)
	}
	defer func() { _ = b.Close() }()

	workers := runtime.GOMAXPROCS(0) * 4
	iters := 2000

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iters; j++ {
				b.IncCounter(metrics.BatchesTotal, 1, nil)
				b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "load", "status": "ok"})
				b.ObserveHistogram(metrics.StepDuration, 0.01, metrics.Labels{"step": "load", "status": "ok"})
			}
		}()
	}
	wg.Wait()

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() err=%v, want nil", err)
	}
	p, _ := fs.last()
	batches := findSeries(p, "spotlx.batches.total")
	if len(batches) != 1 || *batches[0].Points[0].Value != float64(workers*iters) {
		t.Fatalf("batches=%v, want %d", batches, workers*iters)
	}
}

func TestParseTagsCSV(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{in: "", want: nil},
		{in: "env:prod", want: []string{"env:prod"}},
		{in: " env:prod , ,team:kb ", want: []string{"env:prod", "team:kb"}},
	}
	for _, tc := range tests {
		if got := ParseTagsCSV(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("ParseTagsCSV(%q)=%v, want %v", tc.in, got, tc.want)
		}
	}
}
