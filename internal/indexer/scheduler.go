package indexer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"spotlx/internal/metrics"
	"spotlx/internal/model"
	"spotlx/internal/storage"
)

// DefaultWaitTimeout bounds how long Build waits for the index workers.
const DefaultWaitTimeout = 14 * 24 * time.Hour

// DefaultConcurrency is the worker count when none is configured.
const DefaultConcurrency = 4

// Store is what the scheduler needs from a backend. A storage.FactStore
// satisfies it; it must be safe for concurrent Exec calls.
type Store interface {
	storage.Dialect
	Exec(ctx context.Context, sql string) error
}

// Report summarizes one Build call.
type Report struct {
	Table    string
	Built    int
	Failed   int
	Skipped  int
	TimedOut int
	Duration time.Duration
}

// Scheduler builds index catalogs with a fixed pool of workers.
//
// Edge cases:
//   - Concurrency <= 0 means DefaultConcurrency.
//   - WaitTimeout <= 0 means DefaultWaitTimeout.
//   - A failing statement is logged and counted; the others keep running.
//   - When the wait bound elapses (or ctx is canceled) the queue is
//     abandoned: running statements are canceled and every unfinished entry
//     is reported as timed out.
type Scheduler struct {
	Store       Store
	Concurrency int
	WaitTimeout time.Duration
	Log         *slog.Logger
}

type task struct {
	name string
	sql  string
}

// Build refreshes the statistics of table and then creates every index in
// specs that the backend can express.
func (s *Scheduler) Build(ctx context.Context, table string, specs []storage.IndexSpec) Report {
	start := time.Now()
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("table", table)
	rep := Report{Table: table}

	for _, stmt := range s.Store.StatisticsSQL(table, model.Columns) {
		if err := s.Store.Exec(ctx, stmt); err != nil {
			log.Warn("statistics statement failed", "stage", "statistics", "sql", stmt, "err", err)
		}
	}

	tasks := make([]task, 0, len(specs))
	for _, spec := range specs {
		q, ok := s.Store.CreateIndexSQL(table, spec)
		if !ok {
			rep.Skipped++
			metrics.RecordIndex("skipped")
			log.Info("index not supported by backend; skipping", "stage", "index", "index", spec.Name, "kind", spec.Kind.String())
			continue
		}
		tasks = append(tasks, task{name: spec.Name, sql: q})
	}

	built, failed, timedOut := s.run(ctx, log, tasks)
	rep.Built, rep.Failed, rep.TimedOut = built, failed, timedOut
	rep.Duration = time.Since(start).Truncate(time.Millisecond)

	log.Info("indexes done", "stage", "index", "built", rep.Built, "failed", rep.Failed,
		"skipped", rep.Skipped, "timed_out", rep.TimedOut, "duration", rep.Duration)
	return rep
}

func (s *Scheduler) run(ctx context.Context, log *slog.Logger, tasks []task) (built, failed, timedOut int) {
	if len(tasks) == 0 {
		return 0, 0, 0
	}
	workers := s.Concurrency
	if workers <= 0 {
		workers = DefaultConcurrency
	}
	workers = min(workers, len(tasks))
	wait := s.WaitTimeout
	if wait <= 0 {
		wait = DefaultWaitTimeout
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan task, len(tasks))
	for _, t := range tasks {
		queue <- t
	}
	close(queue)

	var (
		mu      sync.Mutex
		stopped bool
	)
	record := func(ok bool) {
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return
		}
		if ok {
			built++
			metrics.RecordIndex("built")
		} else {
			failed++
			metrics.RecordIndex("failed")
		}
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for t := range queue {
				if runCtx.Err() != nil {
					return
				}
				st := time.Now()
				log.Info("creating index", "stage", "index", "worker", workerID, "index", t.name)
				if err := s.Store.Exec(runCtx, t.sql); err != nil {
					if runCtx.Err() != nil {
						return
					}
					log.Error("index failed", "stage", "index", "worker", workerID, "index", t.name, "sql", t.sql, "err", err)
					record(false)
					continue
				}
				log.Info("index created", "stage", "index", "worker", workerID, "index", t.name,
					"duration", time.Since(st).Truncate(time.Millisecond))
				record(true)
			}
		}(w)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		log.Error("index wait bound elapsed; abandoning remaining indexes", "stage", "index", "wait", wait)
	case <-ctx.Done():
		log.Warn("index build canceled", "stage", "index", "err", ctx.Err())
	}

	mu.Lock()
	stopped = true
	timedOut = len(tasks) - built - failed
	b, f := built, failed
	mu.Unlock()
	for i := 0; i < timedOut; i++ {
		metrics.RecordIndex("timed_out")
	}
	return b, f, timedOut
}
