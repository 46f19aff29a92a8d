package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"spotlx/internal/model"
	"spotlx/internal/storage"
)

// FactStore implements storage.FactStore for SQLite.
//
// Key design points vs Postgres:
//   - SQLite has no native TIMESTAMPTZ type. Timestamps are stored as
//     RFC3339Nano TEXT in UTC for reliable round trips and easy debugging.
//   - Full-text and spatial indexes are not rendered; ANALYZE replaces the
//     Postgres statistics boost.
//   - Writes are serialized by SQLite itself; the pool is kept small so that
//     concurrent index builds queue on the Go side instead of failing with
//     SQLITE_BUSY.
type FactStore struct {
	db *sql.DB
}

// maxParams bounds the bind variables of one INSERT statement.
const maxParams = 30000

func init() {
	storage.Register("sqlite", New)
}

// New opens the database at cfg.DSN and checks connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.FactStore, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &FactStore{db: db}, nil
}

func (s *FactStore) Close() { _ = s.db.Close() }

func (s *FactStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *FactStore) Exec(ctx context.Context, sql string) error {
	_, err := s.db.ExecContext(ctx, sql)
	return err
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func (s *FactStore) TableExists(ctx context.Context, table string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
	return n > 0, err
}

func (s *FactStore) CreateFactTable(ctx context.Context, table string, columns []storage.ColumnSpec) error {
	ddl, err := buildCreateTableSQL(table, columns)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

func (s *FactStore) DropTable(ctx context.Context, table string) error {
	_, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS `+sqlIdent(table))
	return err
}

func (s *FactStore) DeleteRelationRows(ctx context.Context, table, relation string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, sqlIdent(table), sqlIdent(model.ColRelation)), relation)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// InsertFactRows performs multi-row inserts inside one transaction, so a
// batch is loaded completely or not at all.
func (s *FactStore) InsertFactRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	chunk := maxParams / len(columns)
	var total int64
	for start := 0; start < len(rows); start += chunk {
		end := min(start+chunk, len(rows))
		q, args := buildInsertSQL(table, columns, rows[start:end])
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

// buildInsertSQL renders one multi-row INSERT. time.Time values are
// converted to RFC3339Nano text.
func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	colList := make([]string, 0, len(columns))
	for _, c := range columns {
		colList = append(colList, sqlIdent(c))
	}
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	b.WriteString(strings.Join(colList, ", "))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		for _, v := range row {
			if ts, ok := v.(time.Time); ok {
				v = formatSQLiteTime(ts)
			}
			args = append(args, v)
		}
	}
	return b.String(), args
}

// formatSQLiteTime formats a time as RFC3339Nano in UTC.
func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ---- progress ----

func (s *FactStore) EnsureProgressTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s ("kind" TEXT NOT NULL, "name" TEXT NOT NULL, PRIMARY KEY ("kind", "name"))`,
		sqlIdent(storage.ProgressTable)))
	return err
}

func (s *FactStore) LoadProgress(ctx context.Context) ([]storage.ProgressRecord, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`SELECT "kind", "name" FROM %s ORDER BY 1, 2`, sqlIdent(storage.ProgressTable)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.ProgressRecord
	for rows.Next() {
		var r storage.ProgressRecord
		if err := rows.Scan(&r.Kind, &r.Name); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *FactStore) SaveProgress(ctx context.Context, rec storage.ProgressRecord) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`INSERT OR IGNORE INTO %s ("kind", "name") VALUES (?, ?)`, sqlIdent(storage.ProgressTable)), rec.Kind, rec.Name)
	return err
}

func (s *FactStore) DeleteProgress(ctx context.Context, rec storage.ProgressRecord) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE "kind" = ? AND "name" = ?`, sqlIdent(storage.ProgressTable)), rec.Kind, rec.Name)
	return err
}

func (s *FactStore) DropProgressTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DROP TABLE IF EXISTS `+sqlIdent(storage.ProgressTable))
	return err
}

// ---- dialect ----

// CreateIndexSQL renders btree indexes, including lower() expression keys.
func (s *FactStore) CreateIndexSQL(table string, idx storage.IndexSpec) (string, bool) {
	return buildIndexSQL(table, idx)
}

// StatisticsSQL returns a single ANALYZE of the table.
func (s *FactStore) StatisticsSQL(table string, columns []string) []string {
	return []string{`ANALYZE ` + sqlIdent(table)}
}

func sqliteColumnType(c storage.ColumnSpec) string {
	switch c.Type {
	case storage.ColumnFloat:
		return "REAL"
	default:
		// VARCHAR(n) has TEXT affinity and no length check in SQLite.
		return "TEXT"
	}
}

func buildCreateTableSQL(table string, columns []storage.ColumnSpec) (string, error) {
	if strings.TrimSpace(table) == "" {
		return "", fmt.Errorf("sqlite: table name is empty")
	}
	if len(columns) == 0 {
		return "", fmt.Errorf("sqlite: table %s: no columns", table)
	}
	defs := make([]string, 0, len(columns))
	for _, c := range columns {
		def := sqlIdent(c.Name) + " " + sqliteColumnType(c)
		if !c.Nullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s)`, sqlIdent(table), strings.Join(defs, ", ")), nil
}

func buildIndexSQL(table string, idx storage.IndexSpec) (string, bool) {
	if idx.Kind != storage.IndexBTree || idx.Name == "" || len(idx.Columns) == 0 {
		return "", false
	}
	parts := make([]string, len(idx.Columns))
	for i, c := range idx.Columns {
		parts[i] = sqlIdent(c.Name)
		if c.Lower {
			parts[i] = "lower(" + parts[i] + ")"
		}
	}
	return fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (%s)`,
		sqlIdent(idx.Name), sqlIdent(table), strings.Join(parts, ", ")), true
}

var _ storage.FactStore = (*FactStore)(nil)
