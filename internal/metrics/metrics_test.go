package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu       sync.Mutex
	counters map[string]float64
	samples  map[string][]float64
	flushes  int
}

func newRecorder() *recorder {
	return &recorder{counters: map[string]float64{}, samples: map[string][]float64{}}
}

func (r *recorder) IncCounter(name string, delta float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name+"|"+labels["kind"]+labels["status"]] += delta
}

func (r *recorder) ObserveHistogram(name string, value float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples[name] = append(r.samples[name], value)
}

func (r *recorder) Flush() error { r.flushes++; return nil }

func TestHelpersReachBackend(t *testing.T) {
	r := newRecorder()
	SetBackend(r)
	t.Cleanup(func() { SetBackend(nil) })

	RecordRows(KindLoaded, 10)
	RecordRows(KindLoaded, 0)
	RecordRows(KindMalformed, 2)
	RecordBatch()
	RecordIndex("failed")
	RecordStep("load", nil, 1500*time.Millisecond)
	RecordStep("load", errors.New("x"), time.Second)
	require.NoError(t, Flush())

	assert.Equal(t, 10.0, r.counters[RecordsTotal+"|loaded"])
	assert.Equal(t, 2.0, r.counters[RecordsTotal+"|malformed"])
	assert.Equal(t, 1.0, r.counters[BatchesTotal+"|"])
	assert.Equal(t, 1.0, r.counters[IndexesTotal+"|failed"])
	assert.Equal(t, 1.0, r.counters[StepTotal+"|ok"])
	assert.Equal(t, 1.0, r.counters[StepTotal+"|error"])
	assert.Equal(t, []float64{1.5, 1}, r.samples[StepDuration])
	assert.Equal(t, 1, r.flushes)
}

func TestNilBackendRestoresNop(t *testing.T) {
	SetBackend(nil)
	IncCounter("anything", 1, nil)
	assert.NoError(t, Flush())
}
