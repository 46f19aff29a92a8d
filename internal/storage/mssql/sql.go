package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"spotlx/internal/storage"
)

// mssqlColumnType maps a logical column type to SQL Server.
func mssqlColumnType(c storage.ColumnSpec) (string, error) {
	switch c.Type {
	case storage.ColumnVarchar:
		if c.Length <= 0 {
			return "", fmt.Errorf("mssql: column %s: varchar needs a length", c.Name)
		}
		return fmt.Sprintf("NVARCHAR(%d)", c.Length), nil
	case storage.ColumnText:
		return "NVARCHAR(MAX)", nil
	case storage.ColumnTimestamp:
		return "DATETIMEOFFSET", nil
	case storage.ColumnFloat:
		return "FLOAT", nil
	default:
		return "", fmt.Errorf("mssql: column %s: unsupported type %d", c.Name, c.Type)
	}
}

// buildCreateTableSQL renders the guarded DDL of a fact table.
func buildCreateTableSQL(table string, columns []storage.ColumnSpec) (string, error) {
	if strings.TrimSpace(table) == "" {
		return "", fmt.Errorf("mssql: table name is empty")
	}
	if len(columns) == 0 {
		return "", fmt.Errorf("mssql: table %s: no columns", table)
	}
	defs := make([]string, 0, len(columns))
	for _, c := range columns {
		typ, err := mssqlColumnType(c)
		if err != nil {
			return "", err
		}
		def := mssqlIdent(c.Name) + " " + typ
		if !c.Nullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	return wrapCreateIfMissing(table, strings.Join(defs, ", ")), nil
}

// wrapCreateIfMissing wraps a CREATE TABLE statement in an OBJECT_ID guard.
//
// This keeps table creation idempotent without requiring IF NOT EXISTS syntax.
func wrapCreateIfMissing(tableName string, innerDefs string) string {
	ident := mssqlTableIdent(tableName)
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		escapeLiteral(ident),
		ident,
		innerDefs,
	)
}

// buildIndexSQL renders a guarded btree index. Entries SQL Server cannot
// express report false.
func buildIndexSQL(table string, idx storage.IndexSpec, columns []storage.ColumnSpec) (string, bool) {
	if idx.Kind != storage.IndexBTree || idx.Name == "" || len(idx.Columns) == 0 {
		return "", false
	}
	parts := make([]string, len(idx.Columns))
	for i, c := range idx.Columns {
		if c.Lower {
			return "", false
		}
		if spec, ok := storage.ColumnByName(columns, c.Name); ok && spec.Type == storage.ColumnText {
			return "", false
		}
		parts[i] = mssqlIdent(c.Name)
	}
	ident := mssqlTableIdent(table)
	return fmt.Sprintf(
		"IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = N'%s' AND object_id = OBJECT_ID(N'%s')) CREATE INDEX %s ON %s (%s);",
		escapeLiteral(idx.Name),
		escapeLiteral(ident),
		mssqlIdent(idx.Name),
		ident,
		strings.Join(parts, ", "),
	), true
}

// buildBulkInsertSQL builds a single INSERT ... VALUES statement for all rows.
func buildBulkInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")

	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(fmt.Sprintf("@p%d", p))
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	return b.String(), args
}

// mssqlIdent bracket-quotes an identifier.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns a bracket-quoted identifier for schema-qualified names.
//
// Example:
//
//	"dbo.imports" -> [dbo].[imports]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}

// escapeLiteral doubles single quotes for use inside N'...'.
func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// ---- database/sql seam types ----

// dbConn is a small interface over *sql.DB used to make this package testable.
//
// It intentionally includes only the methods this file needs.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) rowScanner
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	PingContext(ctx context.Context) error
	Close() error
}

// txConn is a small interface over *sql.Tx used for testability.
type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Commit() error
	Rollback() error
}

// rowScanner is a narrow adapter over *sql.Row.Scan.
type rowScanner interface {
	Scan(dest ...any) error
}

// sqlDB wraps *sql.DB to implement dbConn.
type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *sqlDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

func (s *sqlDB) QueryRowContext(ctx context.Context, query string, args ...any) rowScanner {
	return s.db.QueryRowContext(ctx, query, args...)
}

// BeginTx begins a transaction and returns a txConn wrapper.
func (s *sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *sqlDB) PingContext(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the underlying database handle.
func (s *sqlDB) Close() error { return s.db.Close() }

var _ dbConn = (*sqlDB)(nil)
