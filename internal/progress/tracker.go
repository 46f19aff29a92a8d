// Package progress records which fact files and tables a run has completed,
// in the target store itself, so that an interrupted run can be restarted.
package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"spotlx/internal/storage"
)

// ErrNotConfirmed is returned by Clear when the operator declines.
var ErrNotConfirmed = errors.New("progress: clear not confirmed")

// Tracker is the in-memory view of the progress table.
//
// Record kinds:
//   - started: a fact file whose load began
//   - file:    a fact file whose rows were all flushed
//   - table:   a relation table that was created by this job and is
//     authoritative
//
// A file with a started record and no file record was interrupted midway.
//
// Concurrency:
//   - Not safe for concurrent use; the engine is its only caller.
type Tracker struct {
	m   *storage.Managed
	log *slog.Logger

	files   map[string]bool
	tables  map[string]bool
	started map[string]bool
}

// New returns an empty Tracker on m. Call Load before use.
func New(m *storage.Managed, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{
		m:       m,
		log:     log,
		files:   map[string]bool{},
		tables:  map[string]bool{},
		started: map[string]bool{},
	}
}

// Load creates the progress table if needed and reads every record.
func (t *Tracker) Load(ctx context.Context) error {
	var recs []storage.ProgressRecord
	err := t.m.Do(ctx, func(s storage.FactStore) error {
		if err := s.EnsureProgressTable(ctx); err != nil {
			return err
		}
		var err error
		recs, err = s.LoadProgress(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("progress: load: %w", err)
	}

	clear(t.files)
	clear(t.tables)
	clear(t.started)
	for _, r := range recs {
		switch r.Kind {
		case storage.ProgressFile:
			t.files[r.Name] = true
		case storage.ProgressTableOK:
			t.tables[r.Name] = true
		case storage.ProgressStarted:
			t.started[r.Name] = true
		default:
			t.log.Warn("ignoring unknown progress record", "kind", r.Kind, "name", r.Name)
		}
	}
	if len(recs) > 0 {
		t.log.Info("resuming previous run", "stage", "progress",
			"files_done", len(t.files), "tables_created", len(t.tables))
	}
	return nil
}

// FileDone reports whether file was fully loaded by an earlier run.
func (t *Tracker) FileDone(file string) bool { return t.files[file] }

// TableCreated reports whether table was created by this job.
func (t *Tracker) TableCreated(table string) bool { return t.tables[table] }

// Tables returns the recorded tables in sorted order.
func (t *Tracker) Tables() []string { return sortedKeys(t.tables) }

// StaleFiles returns the files that were started but never finished, in
// sorted order.
func (t *Tracker) StaleFiles() []string {
	var out []string
	for f := range t.started {
		if !t.files[f] {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

// MarkStarted records that loading file begins.
func (t *Tracker) MarkStarted(ctx context.Context, file string) error {
	if err := t.save(ctx, storage.ProgressRecord{Kind: storage.ProgressStarted, Name: file}); err != nil {
		return err
	}
	t.started[file] = true
	return nil
}

// MarkFileDone records that every row of file was flushed and drops its
// started record.
func (t *Tracker) MarkFileDone(ctx context.Context, file string) error {
	if err := t.save(ctx, storage.ProgressRecord{Kind: storage.ProgressFile, Name: file}); err != nil {
		return err
	}
	t.files[file] = true
	if err := t.delete(ctx, storage.ProgressRecord{Kind: storage.ProgressStarted, Name: file}); err != nil {
		return err
	}
	delete(t.started, file)
	return nil
}

// MarkTableCreated records table as created by this job.
func (t *Tracker) MarkTableCreated(ctx context.Context, table string) error {
	if err := t.save(ctx, storage.ProgressRecord{Kind: storage.ProgressTableOK, Name: table}); err != nil {
		return err
	}
	t.tables[table] = true
	return nil
}

// Forget removes the table record of table (when non-empty) and every record
// of files, so that they are rebuilt by this run.
func (t *Tracker) Forget(ctx context.Context, table string, files []string) error {
	if table != "" {
		if err := t.delete(ctx, storage.ProgressRecord{Kind: storage.ProgressTableOK, Name: table}); err != nil {
			return err
		}
		delete(t.tables, table)
	}
	for _, f := range files {
		for _, kind := range []string{storage.ProgressFile, storage.ProgressStarted} {
			if err := t.delete(ctx, storage.ProgressRecord{Kind: kind, Name: f}); err != nil {
				return err
			}
		}
		delete(t.files, f)
		delete(t.started, f)
	}
	return nil
}

// PrepareTable makes table ready for loading.
//
// A table that is not recorded as created is dropped if it exists (it may be
// a leftover of a foreign or interrupted run), created and recorded. A
// recorded table is kept as is.
func (t *Tracker) PrepareTable(ctx context.Context, table string, columns []storage.ColumnSpec) error {
	if t.tables[table] {
		t.log.Info("keeping table from previous run", "stage", "prepare_table", "table", table)
		return nil
	}
	err := t.m.Do(ctx, func(s storage.FactStore) error {
		exists, err := s.TableExists(ctx, table)
		if err != nil {
			return err
		}
		if exists {
			t.log.Warn("dropping unrecorded table", "stage", "prepare_table", "table", table)
			if err := s.DropTable(ctx, table); err != nil {
				return err
			}
		}
		return s.CreateFactTable(ctx, table, columns)
	})
	if err != nil {
		return fmt.Errorf("progress: prepare table %s: %w", table, err)
	}
	return t.MarkTableCreated(ctx, table)
}

// Finish drops the progress table after a fully successful run.
func (t *Tracker) Finish(ctx context.Context) error {
	if err := t.m.Do(ctx, func(s storage.FactStore) error { return s.DropProgressTable(ctx) }); err != nil {
		return fmt.Errorf("progress: finish: %w", err)
	}
	clear(t.files)
	clear(t.tables)
	clear(t.started)
	return nil
}

func (t *Tracker) save(ctx context.Context, rec storage.ProgressRecord) error {
	if err := t.m.Do(ctx, func(s storage.FactStore) error { return s.SaveProgress(ctx, rec) }); err != nil {
		return fmt.Errorf("progress: save %s %s: %w", rec.Kind, rec.Name, err)
	}
	return nil
}

func (t *Tracker) delete(ctx context.Context, rec storage.ProgressRecord) error {
	if err := t.m.Do(ctx, func(s storage.FactStore) error { return s.DeleteProgress(ctx, rec) }); err != nil {
		return fmt.Errorf("progress: delete %s %s: %w", rec.Kind, rec.Name, err)
	}
	return nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
