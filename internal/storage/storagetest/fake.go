// Package storagetest provides an in-memory storage.FactStore for tests.
package storagetest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"spotlx/internal/model"
	"spotlx/internal/storage"
)

// Store is an in-memory FactStore. The exported error fields inject failures;
// the counters record calls. All methods are safe for concurrent use.
type Store struct {
	mu sync.Mutex

	Tables   map[string][][]any
	Columns  map[string][]string
	Progress map[storage.ProgressRecord]bool
	Execs    []string

	PingErr   error
	InsertErr error
	// ExecErr maps a statement substring to the error Exec returns for it.
	ExecErr map[string]error

	Pings   int
	Inserts int
	Closed  int
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		Tables:   map[string][][]any{},
		Columns:  map[string][]string{},
		Progress: map[storage.ProgressRecord]bool{},
		ExecErr:  map[string]error{},
	}
}

func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Pings++
	return s.PingErr
}

func (s *Store) Exec(ctx context.Context, sql string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Execs = append(s.Execs, sql)
	for sub, err := range s.ExecErr {
		if strings.Contains(sql, sub) {
			return err
		}
	}
	return nil
}

func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed++
}

func (s *Store) TableExists(ctx context.Context, table string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.Tables[table]
	return ok, nil
}

func (s *Store) CreateFactTable(ctx context.Context, table string, columns []storage.ColumnSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.Tables[table]; ok {
		return nil
	}
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.Name
	}
	s.Tables[table] = nil
	s.Columns[table] = names
	return nil
}

func (s *Store) DropTable(ctx context.Context, table string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Tables, table)
	delete(s.Columns, table)
	return nil
}

func (s *Store) DeleteRelationRows(ctx context.Context, table, relation string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.Tables[table]
	if !ok {
		return 0, fmt.Errorf("no such table %q", table)
	}
	kept := rows[:0]
	var n int64
	for _, r := range rows {
		if r[1] == relation {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.Tables[table] = kept
	return n, nil
}

func (s *Store) InsertFactRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Inserts++
	if s.InsertErr != nil {
		return 0, s.InsertErr
	}
	if _, ok := s.Tables[table]; !ok {
		return 0, fmt.Errorf("no such table %q", table)
	}
	for _, r := range rows {
		s.Tables[table] = append(s.Tables[table], append([]any(nil), r...))
	}
	return int64(len(rows)), nil
}

func (s *Store) EnsureProgressTable(ctx context.Context) error { return nil }

func (s *Store) LoadProgress(ctx context.Context) ([]storage.ProgressRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]storage.ProgressRecord, 0, len(s.Progress))
	for r := range s.Progress {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Store) SaveProgress(ctx context.Context, rec storage.ProgressRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Progress[rec] = true
	return nil
}

func (s *Store) DeleteProgress(ctx context.Context, rec storage.ProgressRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.Progress, rec)
	return nil
}

func (s *Store) DropProgressTable(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Progress = map[storage.ProgressRecord]bool{}
	return nil
}

// CreateIndexSQL renders btree indexes only.
func (s *Store) CreateIndexSQL(table string, idx storage.IndexSpec) (string, bool) {
	if idx.Kind != storage.IndexBTree {
		return "", false
	}
	cols := make([]string, len(idx.Columns))
	for i, c := range idx.Columns {
		cols[i] = c.Name
	}
	return fmt.Sprintf("CREATE INDEX %s ON %s (%s)", idx.Name, table, strings.Join(cols, ", ")), true
}

func (s *Store) StatisticsSQL(table string, columns []string) []string {
	return []string{"ANALYZE " + table}
}

// Rows returns a copy of the rows of table.
func (s *Store) Rows(table string) [][]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]any(nil), s.Tables[table]...)
}

// ExecLog returns a copy of the executed statements.
func (s *Store) ExecLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.Execs...)
}

// SetPingErr replaces PingErr under the lock.
func (s *Store) SetPingErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PingErr = err
}

// Col returns the value of column name in a row laid out as model.Columns.
func Col(row []any, name string) any {
	for i, c := range model.Columns {
		if c == name {
			return row[i]
		}
	}
	return nil
}

var _ storage.FactStore = (*Store)(nil)
