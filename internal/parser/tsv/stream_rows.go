// Package tsv reads relation files: newline-delimited, tab-separated lines
// of the form id<TAB>arg1<TAB>arg2.
package tsv

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"spotlx/internal/transformer"
)

// FieldCount is the number of columns in a well-formed relation line.
const FieldCount = 3

// ErrMalformed is reported through onErr for lines with the wrong field count.
var ErrMalformed = errors.New("tsv: malformed line")

// maxLineBytes bounds a single line; context relations carry long literals.
const maxLineBytes = 64 << 20

// Options controls which part of a file is scanned.
//
// Skip drops the first Skip physical lines (used to resume a partially
// committed scan). Limit stops after Limit physical lines counted from the
// start of the file; 0 means no limit. Line numbers are always physical.
type Options struct {
	Skip  int
	Limit int
}

// Scan calls fn for every well-formed line of src, in file order.
//
// The Row passed to fn is only valid during the call; fn must copy what it
// keeps. Malformed lines are reported through onErr (if non-nil) and skipped.
// Empty lines are ignored silently.
//
// Errors:
//   - Returns the first error returned by fn.
//   - Returns ctx.Err() on cancellation and read errors wrapped with the line.
func Scan(
	ctx context.Context,
	src io.Reader,
	opt Options,
	fn func(r *transformer.Row) error,
	onErr func(line int, err error),
) error {
	row := transformer.GetRow(FieldCount)
	defer row.Free()

	return scanLines(ctx, src, opt, onErr, func(line int, text string) error {
		if !split(text, row) {
			if onErr != nil {
				onErr(line, fmt.Errorf("%w: want %d fields, got %d", ErrMalformed, FieldCount, strings.Count(text, "\t")+1))
			}
			return nil
		}
		row.Line = line
		return fn(row)
	})
}

// StreamFactRows streams well-formed lines of src into pooled *transformer.Row
// objects. src is closed when StreamFactRows returns.
//
// NOTE on cancellation:
// On ctx cancellation we must NOT return in-flight rows to the pool (Drop
// instead), otherwise the parser can reuse them while the consumer still
// reads them.
func StreamFactRows(
	ctx context.Context,
	src io.ReadCloser,
	opt Options,
	out chan<- *transformer.Row,
	onErr func(line int, err error),
) error {
	defer src.Close()

	return scanLines(ctx, src, opt, onErr, func(line int, text string) error {
		row := transformer.GetRow(FieldCount)
		if !split(text, row) {
			row.Free()
			if onErr != nil {
				onErr(line, fmt.Errorf("%w: want %d fields, got %d", ErrMalformed, FieldCount, strings.Count(text, "\t")+1))
			}
			return nil
		}
		row.Line = line

		select {
		case out <- row:
			return nil
		case <-ctx.Done():
			// IMPORTANT: do not re-pool on cancellation
			row.Drop()
			return ctx.Err()
		}
	})
}

func scanLines(
	ctx context.Context,
	src io.Reader,
	opt Options,
	onErr func(line int, err error),
	emit func(line int, text string) error,
) error {
	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)

	line := 0
	for sc.Scan() {
		line++
		if opt.Limit > 0 && line > opt.Limit {
			return nil
		}
		if line <= opt.Skip {
			continue
		}
		if line%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		text := strings.TrimSuffix(sc.Text(), "\r")
		if text == "" {
			continue
		}
		if err := emit(line, text); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		if onErr != nil {
			onErr(line+1, err)
		}
		return fmt.Errorf("tsv: read line %d: %w", line+1, err)
	}
	return ctx.Err()
}

// split fills r.F with the three fields of text. It reports false when the
// field count is wrong.
func split(text string, r *transformer.Row) bool {
	if strings.Count(text, "\t") != FieldCount-1 {
		return false
	}
	i := strings.IndexByte(text, '\t')
	j := i + 1 + strings.IndexByte(text[i+1:], '\t')
	r.F[0] = text[:i]
	r.F[1] = text[i+1 : j]
	r.F[2] = text[j+1:]
	return true
}
