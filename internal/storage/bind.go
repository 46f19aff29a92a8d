package storage

import (
	"context"
	"fmt"
	"strings"
)

// Table binds a Managed store to one fact table and a fixed column list.
//
// When to use:
//   - The batch loader writes through a Table so that every insert goes
//     through the Managed health check.
type Table struct {
	m       *Managed
	name    string
	columns []string
}

// BindTable returns a Table for name with the given insert columns.
//
// Errors:
//   - Returns an error if m is nil, name is blank or columns is empty.
func BindTable(m *Managed, name string, columns []string) (*Table, error) {
	if m == nil {
		return nil, fmt.Errorf("storage: BindTable: nil store")
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("storage: BindTable: empty table name")
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("storage: BindTable: no columns")
	}
	return &Table{m: m, name: name, columns: append([]string(nil), columns...)}, nil
}

// Name returns the bound table name.
func (t *Table) Name() string { return t.name }

// Columns returns the bound insert columns.
func (t *Table) Columns() []string { return t.columns }

// Insert writes rows through a healthy store and returns the number of rows
// the backend reported as inserted.
func (t *Table) Insert(ctx context.Context, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	var n int64
	err := t.m.Do(ctx, func(s FactStore) error {
		var err error
		n, err = s.InsertFactRows(ctx, t.name, t.columns, rows)
		return err
	})
	return n, err
}
