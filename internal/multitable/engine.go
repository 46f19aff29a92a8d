package multitable

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"spotlx/internal/auxindex"
	"spotlx/internal/config"
	"spotlx/internal/dereify"
	"spotlx/internal/indexer"
	"spotlx/internal/loader"
	"spotlx/internal/metrics"
	"spotlx/internal/model"
	"spotlx/internal/progress"
	"spotlx/internal/storage"
)

// auxSubdir is the directory under work.dir holding the auxiliary indexes.
const auxSubdir = "auxindex"

// postgisSQL enables the extension the spatial indexes depend on.
const postgisSQL = "CREATE EXTENSION IF NOT EXISTS postgis"

// Summary describes one engine run.
type Summary struct {
	Files        int
	FilesSkipped int
	Loaded       int64
	Malformed    int64
	Oversized    int64
	Batches      int
	Tables       []string
	Indexes      []indexer.Report
}

// Engine drives a job against one target store.
//
// Load runs the whole job:
//   - repair files left half-loaded by an interrupted run
//   - build the auxiliary indexes from the side relations
//   - stream every fact file through the joiner into its table
//   - refresh statistics and build the index catalogs
//   - drop the progress records and the auxiliary indexes
//
// Every step is resumable: a rerun skips finished files and keeps recorded
// tables.
//
// Concurrency:
//   - One Engine runs one mode at a time. Parallelism is internal (side index
//     builds and index workers).
type Engine struct {
	Store  *storage.Managed
	Config config.Config
	Log    *slog.Logger

	// Stream is an optional seam to make the engine unit-testable.
	// When nil, StreamFactFile is used.
	Stream StreamFn

	// Confirm approves clear mode. A nil Confirm refuses.
	Confirm progress.Confirmer
}

func (e *Engine) logger() *slog.Logger {
	if e.Log == nil {
		return slog.Default()
	}
	return e.Log
}

func (e *Engine) stream(ctx context.Context, f FactFile) (*FactStream, error) {
	limit := e.Config.ScanLimit()
	if e.Stream != nil {
		return e.Stream(ctx, f, limit)
	}
	return StreamFactFile(ctx, f, limit, e.logger())
}

func (e *Engine) split() bool { return e.Config.Load.Layout == config.LayoutSplit }

// tableFor returns the target table of relation.
func (e *Engine) tableFor(relation string) string {
	if e.split() {
		return relation
	}
	return model.SingleTable
}

func (e *Engine) auxDir() string { return filepath.Join(e.Config.Work.Dir, auxSubdir) }

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }

// step runs fn as the named stage, logging and recording its duration.
func (e *Engine) step(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	d := time.Since(start)
	metrics.RecordStep(name, err, d)
	if err != nil {
		e.logger().Error("stage failed", "stage", name, "duration", d.Truncate(time.Millisecond), "err", err)
		return err
	}
	e.logger().Info("stage ok", "stage", name, "duration", d.Truncate(time.Millisecond))
	return nil
}

// Load runs a full job.
//
// Errors:
//   - Any storage, auxiliary index or read error aborts the run. Progress
//     records written so far stay in place so the next run resumes.
//   - Index failures are not errors; they are reported in Summary.Indexes.
func (e *Engine) Load(ctx context.Context) (Summary, error) {
	var sum Summary
	if e.Store == nil {
		return sum, fmt.Errorf("engine: Store is required")
	}
	log := e.logger()
	cfg := e.Config

	files, err := ListFactFiles(cfg.Source)
	if err != nil {
		return sum, err
	}
	if len(files) == 0 {
		log.Warn("no fact files selected", "stage", "list", "dir", cfg.Source.Dir)
	}
	sum.Files = len(files)

	tracker := progress.New(e.Store, log)
	if err := e.step("progress_load", func() error { return tracker.Load(ctx) }); err != nil {
		return sum, err
	}
	if err := e.step("repair", func() error { return e.repairStale(ctx, tracker, files) }); err != nil {
		return sum, err
	}

	aux, err := auxindex.Open(e.auxDir(), auxindex.Options{
		BatchSize: cfg.Load.AuxBatchSize,
		Limit:     cfg.ScanLimit(),
		Logger:    log,
	})
	if err != nil {
		return sum, err
	}
	defer aux.Close()

	if err := e.step("auxindex_build", func() error { return aux.Build(ctx, cfg.Source.Dir) }); err != nil {
		return sum, err
	}

	err = e.step("load", func() error {
		reader, err := aux.Reader()
		if err != nil {
			return err
		}
		defer reader.Close()
		j := &dereify.Joiner{
			Index:          reader,
			MaxFieldLength: cfg.Load.MaxFieldLength,
			GlossRelation:  cfg.Load.GlossRelation,
		}
		return e.loadAll(ctx, tracker, j, files, &sum)
	})
	if err != nil {
		return sum, err
	}

	sum.Tables = e.loadedTables(files)
	err = e.step("indexes", func() error {
		reps, err := e.buildIndexes(ctx, sum.Tables)
		sum.Indexes = reps
		return err
	})
	if err != nil {
		return sum, err
	}

	err = e.step("cleanup", func() error {
		if err := tracker.Finish(ctx); err != nil {
			return err
		}
		return aux.Wipe()
	})
	if err != nil {
		return sum, err
	}

	log.Info("load complete", "stage", "summary",
		"files", sum.Files,
		"files_skipped", sum.FilesSkipped,
		"rows", humanize.Comma(sum.Loaded),
		"malformed", humanize.Comma(sum.Malformed),
		"oversized", humanize.Comma(sum.Oversized),
		"batches", humanize.Comma(int64(sum.Batches)),
		"tables", len(sum.Tables))
	return sum, nil
}

// repairStale makes files that were started but never finished load again
// from scratch, together with every other file of their relation.
//
// Split layout: the relation table record is forgotten, so PrepareTable drops
// and recreates the table. Single layout: the relation's rows are deleted
// from relationalfacts.
func (e *Engine) repairStale(ctx context.Context, tracker *progress.Tracker, files []FactFile) error {
	stale := tracker.StaleFiles()
	if len(stale) == 0 {
		return nil
	}
	log := e.logger()

	byRelation := map[string][]string{}
	for _, name := range stale {
		rel, ok := RelationOf(name)
		if !ok {
			rel = strings.TrimSuffix(name, factExt)
		}
		byRelation[rel] = append(byRelation[rel], name)
	}
	for _, f := range files {
		names, ok := byRelation[f.Relation]
		if ok && !slices.Contains(names, f.Name) {
			byRelation[f.Relation] = append(names, f.Name)
		}
	}

	relations := make([]string, 0, len(byRelation))
	for rel := range byRelation {
		relations = append(relations, rel)
	}
	sort.Strings(relations)

	for _, rel := range relations {
		names := byRelation[rel]
		sort.Strings(names)
		log.Warn("relation was interrupted mid-file; reloading it", "stage", "repair", "relation", rel, "files", names)

		if e.split() {
			if err := tracker.Forget(ctx, rel, names); err != nil {
				return err
			}
			continue
		}

		var deleted int64
		err := e.Store.Do(ctx, func(s storage.FactStore) error {
			exists, err := s.TableExists(ctx, model.SingleTable)
			if err != nil || !exists {
				return err
			}
			deleted, err = s.DeleteRelationRows(ctx, model.SingleTable, rel)
			return err
		})
		if err != nil {
			return fmt.Errorf("multitable: delete rows of %s: %w", rel, err)
		}
		log.Info("deleted partial rows", "stage", "repair", "relation", rel, "rows", humanize.Comma(deleted))
		if err := tracker.Forget(ctx, "", names); err != nil {
			return err
		}
	}
	return nil
}

// loadAll loads every file that is not recorded as done.
func (e *Engine) loadAll(ctx context.Context, tracker *progress.Tracker, j *dereify.Joiner, files []FactFile, sum *Summary) error {
	log := e.logger()
	columns := storage.FactColumns(e.Config.Load.MaxFieldLength)

	if !e.split() {
		if err := e.prepareTable(ctx, tracker, model.SingleTable, files, columns); err != nil {
			return err
		}
	}

	for _, g := range groupByRelation(files) {
		table := e.tableFor(g.Relation)
		if e.split() {
			if err := e.prepareTable(ctx, tracker, table, g.Files, columns); err != nil {
				return err
			}
		}

		for _, f := range g.Files {
			if tracker.FileDone(f.Name) {
				sum.FilesSkipped++
				log.Info("file already loaded; skipping", "stage", "load_file", "file", f.Name)
				continue
			}
			if err := tracker.MarkStarted(ctx, f.Name); err != nil {
				return err
			}
			if err := e.loadFile(ctx, f, table, j, sum); err != nil {
				return err
			}
			if err := tracker.MarkFileDone(ctx, f.Name); err != nil {
				return err
			}
		}
	}
	return nil
}

// prepareTable readies table for files. When the table is not recorded as
// created, the done records of files are forgotten first: their rows go away
// with the table.
func (e *Engine) prepareTable(ctx context.Context, tracker *progress.Tracker, table string, files []FactFile, columns []storage.ColumnSpec) error {
	if !tracker.TableCreated(table) {
		var done []string
		for _, f := range files {
			if tracker.FileDone(f.Name) {
				done = append(done, f.Name)
			}
		}
		if len(done) > 0 {
			e.logger().Warn("table missing from progress records; reloading its files",
				"stage", "prepare_table", "table", table, "files", done)
			if err := tracker.Forget(ctx, "", done); err != nil {
				return err
			}
		}
	}
	return tracker.PrepareTable(ctx, table, columns)
}

// loadFile streams f through the joiner into table.
//
// The stream is always drained, including after a loader error, so the
// parser goroutine never blocks on a full channel.
func (e *Engine) loadFile(ctx context.Context, f FactFile, table string, j *dereify.Joiner, sum *Summary) error {
	log := e.logger().With("file", f.Name, "table", table)
	start := time.Now()

	ld, err := loader.New(e.Store, table, e.Config.Load.BatchSize, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	stream, err := e.stream(ctx, f)
	if err != nil {
		return err
	}

	var (
		loadErr   error
		oversized int64
		seen      int64
	)
	for r := range stream.Rows {
		if loadErr != nil {
			r.Free()
			continue
		}
		fact := model.Fact{ID: r.F[0], Relation: f.Relation, Arg1: r.F[1], Arg2: r.F[2]}
		line := r.Line
		r.Free()
		seen++

		row, ok := j.Join(fact)
		if !ok {
			oversized++
			log.Debug("skipping oversized fact", "stage", "load_file", "line", line, "id", fact.ID)
			continue
		}
		if err := ld.Add(ctx, row); err != nil {
			loadErr = err
			cancel(err)
		}
	}
	waitErr := stream.Wait()

	malformed := int64(0)
	if stream.Malformed != nil {
		malformed = int64(stream.Malformed())
	}
	sum.Malformed += malformed
	sum.Oversized += oversized
	metrics.RecordRows(metrics.KindMalformed, malformed)
	metrics.RecordRows(metrics.KindOversized, oversized)

	if loadErr != nil {
		return loadErr
	}
	if waitErr != nil {
		return fmt.Errorf("multitable: read %s: %w", f.Name, waitErr)
	}
	if err := ld.Flush(ctx); err != nil {
		return err
	}

	sum.Loaded += ld.Loaded()
	sum.Batches += ld.Batches()
	log.Info("file loaded", "stage", "load_file",
		"rows", humanize.Comma(ld.Loaded()),
		"seen", humanize.Comma(seen),
		"malformed", malformed,
		"oversized", oversized,
		"batches", ld.Batches(),
		"duration", durMS(start))
	return nil
}

// loadedTables returns the tables files were loaded into, in load order.
func (e *Engine) loadedTables(files []FactFile) []string {
	if !e.split() {
		return []string{model.SingleTable}
	}
	groups := groupByRelation(files)
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		out = append(out, e.tableFor(g.Relation))
	}
	return out
}

// catalogFor returns the index catalog of table.
func (e *Engine) catalogFor(table string, spatial bool) []storage.IndexSpec {
	if !e.split() && table == model.SingleTable {
		return indexer.SingleCatalog(spatial)
	}
	return indexer.SplitCatalog(table, e.Config.Index.FullTextRelation, spatial)
}

// buildIndexes refreshes statistics and builds the catalog of every table,
// one table at a time.
func (e *Engine) buildIndexes(ctx context.Context, tables []string) ([]indexer.Report, error) {
	if len(tables) == 0 {
		return nil, nil
	}
	log := e.logger()
	st, err := e.Store.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	spatial := e.Config.Index.PostGIS && e.Config.Storage.Kind == "postgres"
	if spatial {
		if err := st.Exec(ctx, postgisSQL); err != nil {
			log.Warn("postgis unavailable; skipping spatial indexes", "stage", "index", "err", err)
			spatial = false
		}
	}

	sched := &indexer.Scheduler{
		Store:       st,
		Concurrency: e.Config.Index.Concurrency,
		WaitTimeout: e.Config.Index.WaitTimeout,
		Log:         log,
	}
	reports := make([]indexer.Report, 0, len(tables))
	for _, t := range tables {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		reports = append(reports, sched.Build(ctx, t, e.catalogFor(t, spatial)))
	}
	return reports, ctx.Err()
}

// BuildIndexes runs only the statistics and index stage, for the tables
// recorded in the progress table or, when none are recorded, the tables the
// source folder maps to. Tables that do not exist are skipped.
func (e *Engine) BuildIndexes(ctx context.Context) ([]indexer.Report, error) {
	if e.Store == nil {
		return nil, fmt.Errorf("engine: Store is required")
	}
	log := e.logger()

	tracker := progress.New(e.Store, log)
	if err := tracker.Load(ctx); err != nil {
		return nil, err
	}
	candidates := tracker.Tables()
	if len(candidates) == 0 {
		files, err := ListFactFiles(e.Config.Source)
		if err != nil {
			return nil, err
		}
		candidates = e.loadedTables(files)
	}

	var tables []string
	err := e.Store.Do(ctx, func(s storage.FactStore) error {
		for _, t := range candidates {
			ok, err := s.TableExists(ctx, t)
			if err != nil {
				return err
			}
			if !ok {
				log.Warn("table does not exist; skipping", "stage", "index", "table", t)
				continue
			}
			tables = append(tables, t)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("multitable: list tables: %w", err)
	}

	var reports []indexer.Report
	err = e.step("indexes", func() error {
		var err error
		reports, err = e.buildIndexes(ctx, tables)
		return err
	})
	return reports, err
}

// Clear drops every table the job may have created, the progress table and
// the work folder, after Confirm approves.
//
// The candidate tables are relationalfacts, every recorded table and every
// relation derivable from the source folder. A missing source folder only
// narrows the candidates.
//
// Errors:
//   - Returns progress.ErrNotConfirmed when the operator declines; nothing
//     is dropped in that case.
func (e *Engine) Clear(ctx context.Context) ([]string, error) {
	if e.Store == nil {
		return nil, fmt.Errorf("engine: Store is required")
	}
	log := e.logger()

	set := map[string]bool{model.SingleTable: true}
	if files, err := ListFactFiles(e.Config.Source); err != nil {
		log.Warn("cannot list source folder; clearing recorded tables only", "stage", "clear", "err", err)
	} else {
		for _, f := range files {
			set[f.Relation] = true
		}
	}
	tracker := progress.New(e.Store, log)
	if err := tracker.Load(ctx); err != nil {
		return nil, err
	}
	for _, t := range tracker.Tables() {
		set[t] = true
	}

	tables := make([]string, 0, len(set))
	for t := range set {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	if err := progress.Clear(ctx, e.Store, tables, e.Confirm); err != nil {
		if errors.Is(err, progress.ErrNotConfirmed) {
			log.Info("clear aborted by operator", "stage", "clear")
		}
		return nil, err
	}
	if err := auxindex.WipeDir(e.auxDir()); err != nil {
		return tables, err
	}
	log.Info("cleared", "stage", "clear", "tables", len(tables), "aux_dir", e.auxDir())
	return tables, nil
}
