package mssql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/microsoft/go-mssqldb"

	"spotlx/internal/model"
	"spotlx/internal/storage"
)

// maxParamsPerStatement stays below SQL Server's hard limit of 2100
// parameters per request.
const maxParamsPerStatement = 2000

// FactStore implements storage.FactStore for SQL Server.
//
// Dialect notes:
//   - Identifiers are bracket-quoted.
//   - CREATE TABLE and CREATE INDEX are guarded by catalog lookups because
//     SQL Server has no IF NOT EXISTS for them.
//   - NVARCHAR(MAX) columns cannot be index keys, and there are no
//     expression indexes; those catalog entries are skipped.
//   - Full-text indexes need a full-text catalog, spatial indexes need a
//     geography column; both are skipped.
type FactStore struct {
	db dbConn
}

func init() {
	storage.Register("mssql", New)
}

// New opens the "sqlserver" driver registered by go-mssqldb and checks
// connectivity via PingContext.
func New(ctx context.Context, cfg storage.Config) (storage.FactStore, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}

	// Conservative defaults for ETL-style bursty loads.
	conns := 64
	if cfg.MaxConns > 0 {
		conns = cfg.MaxConns
	}
	raw.SetMaxOpenConns(conns)
	raw.SetMaxIdleConns(conns)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}
	return &FactStore{db: &sqlDB{db: raw}}, nil
}

// Close releases database resources held by this store.
func (s *FactStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

func (s *FactStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *FactStore) Exec(ctx context.Context, sql string) error {
	_, err := s.db.ExecContext(ctx, sql)
	return err
}

func (s *FactStore) TableExists(ctx context.Context, table string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT CASE WHEN OBJECT_ID(@p1, N'U') IS NULL THEN 0 ELSE 1 END`, mssqlTableIdent(table)).Scan(&n)
	return n == 1, err
}

// CreateFactTable creates table if missing.
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
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NOT NULL DROP TABLE %s;", escapeLiteral(mssqlTableIdent(table)), mssqlTableIdent(table)))
	return err
}

func (s *FactStore) DeleteRelationRows(ctx context.Context, table, relation string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE %s = @p1", mssqlTableIdent(table), mssqlIdent(model.ColRelation)), relation)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// InsertFactRows inserts rows in parameter-bounded chunks inside one
// transaction.
func (s *FactStore) InsertFactRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	chunk := max(1, maxParamsPerStatement/len(columns))
	var total int64
	for start := 0; start < len(rows); start += chunk {
		end := min(start+chunk, len(rows))
		q, args := buildBulkInsertSQL(table, columns, rows[start:end])
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

// ---- progress ----

func (s *FactStore) EnsureProgressTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, wrapCreateIfMissing(storage.ProgressTable,
		"[kind] NVARCHAR(16) NOT NULL, [name] NVARCHAR(400) NOT NULL, PRIMARY KEY ([kind], [name])"))
	return err
}

func (s *FactStore) LoadProgress(ctx context.Context) ([]storage.ProgressRecord, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT [kind], [name] FROM %s ORDER BY 1, 2", mssqlTableIdent(storage.ProgressTable)))
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
	t := mssqlTableIdent(storage.ProgressTable)
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		"IF NOT EXISTS (SELECT 1 FROM %s WHERE [kind] = @p1 AND [name] = @p2) INSERT INTO %s ([kind], [name]) VALUES (@p1, @p2);", t, t),
		rec.Kind, rec.Name)
	return err
}

func (s *FactStore) DeleteProgress(ctx context.Context, rec storage.ProgressRecord) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		"DELETE FROM %s WHERE [kind] = @p1 AND [name] = @p2", mssqlTableIdent(storage.ProgressTable)), rec.Kind, rec.Name)
	return err
}

func (s *FactStore) DropProgressTable(ctx context.Context) error {
	return s.DropTable(ctx, storage.ProgressTable)
}

// ---- dialect ----

func (s *FactStore) CreateIndexSQL(table string, idx storage.IndexSpec) (string, bool) {
	return buildIndexSQL(table, idx, storage.FactColumns(0))
}

// StatisticsSQL rebuilds the table statistics with a full scan.
func (s *FactStore) StatisticsSQL(table string, columns []string) []string {
	return []string{fmt.Sprintf("UPDATE STATISTICS %s WITH FULLSCAN", mssqlTableIdent(table))}
}

var _ storage.FactStore = (*FactStore)(nil)
