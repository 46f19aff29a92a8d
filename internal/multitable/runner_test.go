package multitable

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotlx/internal/config"
	"spotlx/internal/model"
	"spotlx/internal/storage"
	"spotlx/internal/storage/storagetest"

	_ "spotlx/internal/storage/sqlite"
)

func TestRunner_ValidationFailure(t *testing.T) {
	t.Parallel()

	opened := 0
	r := &Runner{
		Open: func(context.Context, storage.Config, *slog.Logger) (*storage.Managed, error) {
			opened++
			return nil, nil
		},
	}
	_, err := r.Run(context.Background(), config.Config{}, ModeLoad)
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Zero(t, opened, "the store is not opened for an invalid config")
}

func TestRunner_ExpandsDSN(t *testing.T) {
	t.Setenv("SPOTLX_TEST_DB", "yago")

	cfg := testConfig(t, config.LayoutSingle)
	cfg.Storage.Kind = "sqlite"
	cfg.Storage.DSN = "file:${SPOTLX_TEST_DB}.db"

	fs := storagetest.New()
	var got storage.Config
	r := &Runner{
		Open: func(ctx context.Context, c storage.Config, log *slog.Logger) (*storage.Managed, error) {
			got = c
			return storage.NewManaged(ctx, func(context.Context) (storage.FactStore, error) { return fs, nil }, log)
		},
	}
	res, err := r.Run(context.Background(), cfg, ModeIndexes)
	require.NoError(t, err)
	assert.Equal(t, "file:yago.db", got.DSN)
	assert.Equal(t, cfg.Storage.MaxConns, got.MaxConns)
	assert.Empty(t, res.Indexes, "no table exists yet")
	assert.Equal(t, 1, fs.Closed)
}

func TestRunner_UnknownMode(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, config.LayoutSingle)
	cfg.Storage.Kind = "sqlite"
	cfg.Storage.DSN = "x"
	r := &Runner{
		Open: func(ctx context.Context, _ storage.Config, log *slog.Logger) (*storage.Managed, error) {
			return storage.NewManaged(ctx, func(context.Context) (storage.FactStore, error) { return storagetest.New(), nil }, log)
		},
	}
	_, err := r.Run(context.Background(), cfg, Mode(42))
	assert.ErrorContains(t, err, "unknown mode mode(42)")
}

// TestRunner_SQLiteEndToEnd loads a real folder into a real SQLite database.
func TestRunner_SQLiteEndToEnd(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, config.LayoutSingle)
	cfg.Storage.Kind = "sqlite"
	cfg.Storage.DSN = filepath.Join(t.TempDir(), "facts.db")
	writeTSV(t, cfg.Source.Dir, "type.tsv", "id1\te1\tClass1")
	writeTSV(t, cfg.Source.Dir, "livesIn.tsv", "f1\tAnna\tBerlin")
	writeTSV(t, cfg.Source.Dir, "occursSince.tsv", "s1\tf1\t\"1990-##-##\"")
	writeTSV(t, cfg.Source.Dir, "occursUntil.tsv", "u1\tf1\t\"1999-12-31\"")
	writeTSV(t, cfg.Source.Dir, "occursIn.tsv", "o1\tf1\tBerlin")
	writeTSV(t, cfg.Source.Dir, "hasGeoCoordinates.tsv", "g1\tBerlin\t\"52.52/13.40\"")
	writeTSV(t, cfg.Source.Dir, "wasFoundIn.tsv", "w1\tf1\thttp://example.org/anna")
	writeTSV(t, cfg.Source.Dir, "hasWikipediaCategory.tsv", "c1\tBerlin\t\"Capitals\"")

	r := NewDefaultRunner(nil, nil)
	res, err := r.Run(context.Background(), cfg, ModeLoad)
	require.NoError(t, err)
	assert.Equal(t, int64(8), res.Summary.Loaded)
	require.Len(t, res.Indexes, 1)
	assert.Zero(t, res.Indexes[0].Failed)
	assert.Equal(t, 15, res.Indexes[0].Built)

	db, err := sql.Open("sqlite", cfg.Storage.DSN)
	require.NoError(t, err)
	defer db.Close()

	type row struct {
		id, relation, arg1, arg2 string
		begin, end               sql.NullString
		location                 sql.NullString
		lat, lon                 sql.NullFloat64
		witness, context         sql.NullString
	}
	get := func(id string) row {
		t.Helper()
		var r row
		err := db.QueryRow(`SELECT id, relation, arg1, arg2, timeBegin, timeEnd, location,
			locationLatitude, locationLongitude, primaryWitness, context
			FROM relationalfacts WHERE id = ?`, id).Scan(
			&r.id, &r.relation, &r.arg1, &r.arg2, &r.begin, &r.end, &r.location,
			&r.lat, &r.lon, &r.witness, &r.context)
		require.NoError(t, err)
		return r
	}

	plain := get("id1")
	assert.Equal(t, row{
		id: "id1", relation: "type", arg1: "e1", arg2: "Class1",
		location: sql.NullString{String: "", Valid: true},
	}, plain)

	joined := get("f1")
	assert.Equal(t, "1990-01-01T00:00:00Z", joined.begin.String)
	assert.Equal(t, "1999-12-31T23:59:59.999Z", joined.end.String)
	assert.Equal(t, "Berlin", joined.location.String)
	assert.InDelta(t, 52.52, joined.lat.Float64, 1e-9)
	assert.InDelta(t, 13.40, joined.lon.Float64, 1e-9)
	assert.Equal(t, "http://example.org/anna", joined.witness.String)
	assert.Equal(t, "Capitals", joined.context.String)

	var n int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`,
		storage.ProgressTable).Scan(&n))
	assert.Zero(t, n, "progress table is dropped after a full run")
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type = 'index' AND tbl_name = ?`,
		model.SingleTable).Scan(&n))
	assert.Equal(t, 15, n)

	_, err = os.Stat(filepath.Join(cfg.Work.Dir, auxSubdir))
	assert.True(t, os.IsNotExist(err))
}

// TestRunner_SQLiteRerunIsIdempotent checks that a second full run over the
// same folder starts from scratch without duplicating rows.
func TestRunner_SQLiteRerunIsIdempotent(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, config.LayoutSplit)
	cfg.Storage.Kind = "sqlite"
	cfg.Storage.DSN = filepath.Join(t.TempDir(), "facts.db")
	writeTSV(t, cfg.Source.Dir, "type.tsv", "id1\te1\tClass1", "id2\te2\tClass2")

	r := NewDefaultRunner(nil, nil)
	for i := 0; i < 2; i++ {
		_, err := r.Run(context.Background(), cfg, ModeLoad)
		require.NoError(t, err)
	}

	db, err := sql.Open("sqlite", cfg.Storage.DSN)
	require.NoError(t, err)
	defer db.Close()
	var n int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM "type"`).Scan(&n))
	assert.Equal(t, 2, n)
}
