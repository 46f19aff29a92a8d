// Package loader buffers joined rows and writes them to the target store in
// batches.
package loader

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"spotlx/internal/metrics"
	"spotlx/internal/model"
	"spotlx/internal/storage"
)

// DefaultBatchSize is used when New is given a non-positive batch size.
const DefaultBatchSize = 1000

// Loader is the batch loader of one target table.
//
// When to use:
//   - One Loader per table per run. It is not safe for concurrent use; the
//     engine drives it from a single goroutine.
//
// Errors:
//   - A failed reconnect or a failed insert is fatal for the run. The buffer
//     is kept so the caller can inspect Pending, but the Loader should not be
//     reused.
type Loader struct {
	table *storage.Table
	m     *storage.Managed
	size  int
	log   *slog.Logger

	buf        [][]any
	loaded     int64
	batches    int
	reconnects int
}

// New binds a Loader to table on m.
func New(m *storage.Managed, table string, batchSize int, log *slog.Logger) (*Loader, error) {
	t, err := storage.BindTable(m, table, model.Columns)
	if err != nil {
		return nil, fmt.Errorf("loader: %w", err)
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Loader{
		table:      t,
		m:          m,
		size:       batchSize,
		log:        log.With("table", table),
		buf:        make([][]any, 0, batchSize),
		reconnects: m.Reconnects(),
	}, nil
}

// Add buffers row and flushes when the buffer is full.
func (l *Loader) Add(ctx context.Context, row model.DenormalizedRow) error {
	l.buf = append(l.buf, Args(row))
	if len(l.buf) >= l.size {
		return l.Flush(ctx)
	}
	return nil
}

// Flush writes the buffered rows. An empty buffer is a no-op.
func (l *Loader) Flush(ctx context.Context) error {
	if len(l.buf) == 0 {
		return nil
	}
	start := time.Now()
	n, err := l.table.Insert(ctx, l.buf)
	if rc := l.m.Reconnects(); rc != l.reconnects {
		for ; l.reconnects < rc; l.reconnects++ {
			metrics.RecordReconnect()
		}
	}
	if err != nil {
		return fmt.Errorf("loader: insert %s: %w", l.table.Name(), err)
	}

	l.loaded += n
	l.batches++
	metrics.RecordBatch()
	metrics.RecordRows(metrics.KindLoaded, n)
	l.log.Debug("batch flushed", "stage", "load_batch", "rows", n, "duration", time.Since(start).Truncate(time.Millisecond))

	clear(l.buf)
	l.buf = l.buf[:0]
	return nil
}

// Loaded returns the number of rows written so far.
func (l *Loader) Loaded() int64 { return l.loaded }

// Batches returns the number of flushed batches.
func (l *Loader) Batches() int { return l.batches }

// Pending returns the number of buffered rows.
func (l *Loader) Pending() int { return len(l.buf) }

// Args converts row to insert arguments in model.Columns order.
//
// NULL rules:
//   - timeBegin/timeEnd are written only when the interval is ordered and the
//     bound lies strictly between the sentinels.
//   - location and its coordinates are written only for finite coordinates
//     with |lat| <= 90 and |lon| <= 180; otherwise location is "" and the
//     coordinates are NULL.
//   - An empty witness or context is NULL.
func Args(row model.DenormalizedRow) []any {
	var begin, end any
	if row.Time.Ordered() {
		begin = timestamp(row.Time.Begin)
		end = timestamp(row.Time.End)
	}

	location := ""
	var lat, lon any
	if g := row.Geo; g != nil && validCoordinate(g.Latitude, 90) && validCoordinate(g.Longitude, 180) {
		location = row.Location
		lat, lon = g.Latitude, g.Longitude
	}

	return []any{
		row.Fact.ID,
		row.Fact.Relation,
		row.Fact.Arg1,
		row.Fact.Arg2,
		begin,
		end,
		location,
		lat,
		lon,
		nullIfEmpty(row.Witness),
		nullIfEmpty(row.Context),
	}
}

func timestamp(ms int64) any {
	if ms <= model.MinTimestamp || ms >= model.MaxTimestamp {
		return nil
	}
	return time.UnixMilli(ms).UTC()
}

func validCoordinate(v, limit float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && math.Abs(v) <= limit
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
