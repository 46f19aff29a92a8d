package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"spotlx/internal/model"
	"spotlx/internal/storage"
)

/*
FactStore implements storage.FactStore for Postgres.

It provides:
  - Bulk fact inserts through the COPY protocol (pgx CopyFrom)
  - Idempotent DDL (IF NOT EXISTS everywhere)
  - The filedone progress table with ON CONFLICT DO NOTHING writes

The pool is shared by the load and the concurrent index builds, so MaxConns
should be at least the index concurrency plus one.
*/
type FactStore struct {
	pool *pgxpool.Pool
}

// New creates a new Postgres-backed FactStore and checks connectivity.
func New(ctx context.Context, cfg storage.Config) (storage.FactStore, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &FactStore{pool: pool}, nil
}

// Close closes the connection pool.
func (s *FactStore) Close() {
	s.pool.Close()
}

// Ping acquires a connection and pings the server.
func (s *FactStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Exec runs sql over the simple protocol, which VACUUM and multi-statement
// DDL require.
func (s *FactStore) Exec(ctx context.Context, sql string) error {
	_, err := s.pool.Exec(ctx, sql, pgx.QueryExecModeSimpleProtocol)
	return err
}

// TableExists resolves table through to_regclass, so quoting and case follow
// the same rules as the DDL.
func (s *FactStore) TableExists(ctx context.Context, table string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, pgIdent(table)).Scan(&exists)
	return exists, err
}

// CreateFactTable creates table if it does not exist.
func (s *FactStore) CreateFactTable(ctx context.Context, table string, columns []storage.ColumnSpec) error {
	ddl, err := buildCreateTableSQL(table, columns)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return nil
}

// DropTable drops table if it exists.
func (s *FactStore) DropTable(ctx context.Context, table string) error {
	_, err := s.pool.Exec(ctx, `DROP TABLE IF EXISTS `+pgIdent(table))
	return err
}

// DeleteRelationRows removes the rows of one relation from a shared table.
func (s *FactStore) DeleteRelationRows(ctx context.Context, table, relation string) (int64, error) {
	cmd, err := s.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE %s = $1`, pgIdent(table), pgIdent(model.ColRelation)), relation)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

// InsertFactRows streams rows with COPY. The batch is atomic: COPY either
// loads every row or none.
func (s *FactStore) InsertFactRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	return s.pool.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
}

// ---- progress ----

func (s *FactStore) EnsureProgressTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s ("kind" VARCHAR(16) NOT NULL, "name" TEXT NOT NULL, PRIMARY KEY ("kind", "name"))`,
		pgIdent(storage.ProgressTable)))
	return err
}

func (s *FactStore) LoadProgress(ctx context.Context) ([]storage.ProgressRecord, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT "kind", "name" FROM %s ORDER BY 1, 2`, pgIdent(storage.ProgressTable)))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (storage.ProgressRecord, error) {
		var r storage.ProgressRecord
		err := row.Scan(&r.Kind, &r.Name)
		return r, err
	})
}

func (s *FactStore) SaveProgress(ctx context.Context, rec storage.ProgressRecord) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s ("kind", "name") VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		pgIdent(storage.ProgressTable)), rec.Kind, rec.Name)
	return err
}

func (s *FactStore) DeleteProgress(ctx context.Context, rec storage.ProgressRecord) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE "kind" = $1 AND "name" = $2`,
		pgIdent(storage.ProgressTable)), rec.Kind, rec.Name)
	return err
}

func (s *FactStore) DropProgressTable(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DROP TABLE IF EXISTS `+pgIdent(storage.ProgressTable))
	return err
}

// ---- dialect ----

// CreateIndexSQL renders every index kind. Spatial indexes need the PostGIS
// extension; the catalog only contains them when it is enabled.
func (s *FactStore) CreateIndexSQL(table string, idx storage.IndexSpec) (string, bool) {
	return buildIndexSQL(table, idx)
}

// StatisticsSQL raises the statistics target of every column, then vacuums
// and analyzes the table.
func (s *FactStore) StatisticsSQL(table string, columns []string) []string {
	return buildStatisticsSQL(table, columns)
}

var errNoColumns = errors.New("postgres: no columns")

var _ storage.FactStore = (*FactStore)(nil)
