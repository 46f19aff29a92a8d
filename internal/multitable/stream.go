package multitable

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"spotlx/internal/parser/tsv"
	"spotlx/internal/transformer"
)

// FactStream is the row stream of one fact file.
//
// Ownership:
//   - Each *transformer.Row received from Rows is owned by the consumer,
//     which must Free it exactly once.
//   - The consumer must drain Rows until it is closed, even after an error,
//     and then call Wait.
type FactStream struct {
	Rows <-chan *transformer.Row

	// Wait blocks until the producer has finished and returns its error.
	Wait func() error

	// Malformed returns the number of lines skipped so far.
	Malformed func() uint64
}

// StreamFn is a seam for providing fact streams.
//
// When to use:
//   - Unit tests: inject a deterministic stream without file I/O.
//
// Errors:
//   - Return a non-nil error for setup failures (e.g. the file cannot be
//     opened). Read errors are reported by FactStream.Wait.
type StreamFn func(ctx context.Context, f FactFile, limit int) (*FactStream, error)

// channelBuffer is the parser -> engine hand-off depth.
const channelBuffer = 256

// StreamFactFile starts a parser goroutine over f and returns its stream.
// limit caps the scan at limit lines (test mode); 0 scans the whole file.
func StreamFactFile(ctx context.Context, f FactFile, limit int, log *slog.Logger) (*FactStream, error) {
	src, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("multitable: open %s: %w", f.Name, err)
	}
	if log == nil {
		log = slog.Default()
	}

	rows := make(chan *transformer.Row, channelBuffer)
	done := make(chan struct{})
	var malformed atomic.Uint64
	var streamErr error

	go func() {
		defer close(done)
		defer close(rows)
		streamErr = tsv.StreamFactRows(ctx, src, tsv.Options{Limit: limit}, rows, func(line int, err error) {
			malformed.Add(1)
			log.Warn("skipping malformed line", "file", f.Name, "line", line, "err", err)
		})
	}()

	return &FactStream{
		Rows: rows,
		Wait: func() error {
			<-done
			return streamErr
		},
		Malformed: malformed.Load,
	}, nil
}
