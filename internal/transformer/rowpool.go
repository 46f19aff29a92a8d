// Package transformer provides streaming, allocation-conscious helpers shared
// by the fact-file parser and the join stage.
// This file defines a pooled Row type used across parser → joiner → loader
// to reduce heap churn on multi-million line relation files.
package transformer

import "sync"

// Row is a pooled container holding the raw tab-separated fields of one line.
//
// Ownership contract:
//   - Exactly one goroutine "owns" a Row at a time.
//   - A Row may be passed downstream via channels (ownership transfer).
//   - The final consumer must call Free() AFTER it is fully done with the Row
//     (and anything still referencing r.F).
//
// IMPORTANT:
//   - On ctx cancellation the parser may still be unwinding while the consumer
//     drains. Re-pooling a canceled row lets the parser reuse it while the
//     consumer still reads it.
//
// Therefore:
//   - Use Free() only on the normal path.
//   - Use Drop() on cancellation paths (no re-pooling; allow GC to reclaim).
type Row struct {
	F    []string
	Line int // 1-based line number in the source file
}

var rowPool sync.Pool

// GetRow returns a pooled Row with length set to n. All fields are empty.
func GetRow(n int) *Row {
	if v := rowPool.Get(); v != nil {
		r := v.(*Row)
		if cap(r.F) < n {
			r.F = make([]string, n)
		}
		r.F = r.F[:n]
		for i := range r.F {
			r.F[i] = ""
		}
		r.Line = 0
		return r
	}
	return &Row{F: make([]string, n)}
}

// Free returns the Row to the pool.
// Call this ONLY when you're sure no other goroutine can observe r or r.F.
func (r *Row) Free() {
	rowPool.Put(r)
}

// Drop discards the Row WITHOUT returning it to the pool.
func (r *Row) Drop() {
	r.F = nil
	r.Line = 0
}
