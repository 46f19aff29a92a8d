package multitable

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotlx/internal/config"
	"spotlx/internal/model"
	"spotlx/internal/progress"
	"spotlx/internal/storage"
	"spotlx/internal/storage/storagetest"
	"spotlx/internal/transformer"
)

func writeTSV(t *testing.T, dir, name string, lines ...string) {
	t.Helper()
	body := strings.Join(lines, "\n") + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func testConfig(t *testing.T, layout string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Source.Dir = t.TempDir()
	cfg.Work.Dir = filepath.Join(t.TempDir(), "work")
	cfg.Storage.Kind = "fake"
	cfg.Load.Layout = layout
	cfg.Load.BatchSize = 2
	cfg.Index.Concurrency = 2
	return cfg
}

func newEngine(t *testing.T, cfg config.Config, fs *storagetest.Store) *Engine {
	t.Helper()
	m, err := storage.NewManaged(context.Background(), func(context.Context) (storage.FactStore, error) {
		return fs, nil
	}, nil)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return &Engine{Store: m, Config: cfg}
}

func rec(kind, name string) storage.ProgressRecord {
	return storage.ProgressRecord{Kind: kind, Name: name}
}

func TestEngineLoad_SplitLayout(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, config.LayoutSplit)
	writeTSV(t, cfg.Source.Dir, "wasBornIn.tsv",
		"f1\tAlbert_Einstein\tUlm",
		"f2\tMax_Planck\tKiel",
		"broken line")
	writeTSV(t, cfg.Source.Dir, "occursSince.tsv", "s1\tf1\t\"1879-03-14\"")
	writeTSV(t, cfg.Source.Dir, "hasGeoCoordinates.tsv", "g1\tUlm\t\"48.4/9.98\"")
	writeTSV(t, cfg.Source.Dir, "occursIn.tsv", "o1\tf1\tUlm")

	fs := storagetest.New()
	e := newEngine(t, cfg, fs)

	sum, err := e.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, sum.Files)
	assert.Equal(t, int64(1), sum.Malformed)
	assert.Equal(t, int64(5), sum.Loaded)
	assert.Equal(t, []string{"hasGeoCoordinates", "occursIn", "occursSince", "wasBornIn"}, sum.Tables)
	require.Len(t, sum.Indexes, 4)
	for _, rep := range sum.Indexes {
		assert.Zero(t, rep.Failed, rep.Table)
		assert.Positive(t, rep.Built, rep.Table)
	}

	rows := fs.Rows("wasBornIn")
	require.Len(t, rows, 2)
	f1 := rows[0]
	assert.Equal(t, "f1", storagetest.Col(f1, model.ColID))
	assert.Equal(t, "wasBornIn", storagetest.Col(f1, model.ColRelation))
	assert.Equal(t, "Ulm", storagetest.Col(f1, model.ColLocation))
	assert.Equal(t, 48.4, storagetest.Col(f1, model.ColLatitude))
	assert.Nil(t, storagetest.Col(f1, model.ColTimeBegin), "pre-1970 bounds are NULL")
	assert.Nil(t, storagetest.Col(f1, model.ColTimeEnd))

	f2 := rows[1]
	assert.Equal(t, "", storagetest.Col(f2, model.ColLocation))
	assert.Nil(t, storagetest.Col(f2, model.ColLatitude))

	assert.Empty(t, fs.Progress, "progress is dropped after a full run")
	_, err = os.Stat(filepath.Join(cfg.Work.Dir, auxSubdir))
	assert.True(t, os.IsNotExist(err), "auxiliary indexes are wiped")

	execs := strings.Join(fs.ExecLog(), "\n")
	assert.Contains(t, execs, "ANALYZE wasBornIn")
	assert.Contains(t, execs, "CREATE INDEX wasBornIn_id ON wasBornIn (id)")
}

func TestEngineLoad_SingleLayoutAndTestMode(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, config.LayoutSingle)
	cfg.Load.TestMode = true
	cfg.Load.TestRowLimit = 2
	writeTSV(t, cfg.Source.Dir, "type.tsv", "t1\ta\tA", "t2\tb\tB", "t3\tc\tC")
	writeTSV(t, cfg.Source.Dir, "means.tsv", "m1\t\"x\"\ty")

	fs := storagetest.New()
	e := newEngine(t, cfg, fs)

	sum, err := e.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{model.SingleTable}, sum.Tables)
	assert.Equal(t, int64(3), sum.Loaded)
	assert.Len(t, fs.Rows(model.SingleTable), 3)
}

func TestEngineLoad_OversizedAndGloss(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, config.LayoutSingle)
	cfg.Load.MaxFieldLength = 8
	writeTSV(t, cfg.Source.Dir, "hasGloss.tsv", "g1\tx\t\"a very long gloss\"")
	writeTSV(t, cfg.Source.Dir, "label.tsv", "l1\tx\t\"a very long label\"", "l2\tx\t\"ok\"")

	fs := storagetest.New()
	sum, err := newEngine(t, cfg, fs).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.Oversized)
	assert.Equal(t, int64(2), sum.Loaded)

	rows := fs.Rows(model.SingleTable)
	require.Len(t, rows, 2)
	assert.Equal(t, `"a v..."`, storagetest.Col(rows[0], model.ColArg2))
}

func TestEngineLoad_ResumeSplitLayout(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, config.LayoutSplit)
	writeTSV(t, cfg.Source.Dir, "a.tsv", "a1\tx\ty")
	writeTSV(t, cfg.Source.Dir, "b.tsv", "b1\tx\ty", "b2\tx\ty", "b3\tx\ty")

	fs := storagetest.New()
	ctx := context.Background()
	cols := storage.FactColumns(cfg.Load.MaxFieldLength)
	require.NoError(t, fs.CreateFactTable(ctx, "a", cols))
	require.NoError(t, fs.CreateFactTable(ctx, "b", cols))
	fs.Tables["a"] = [][]any{{"old", "a"}}
	fs.Tables["b"] = [][]any{{"partial", "b"}}
	fs.Progress[rec(storage.ProgressTableOK, "a")] = true
	fs.Progress[rec(storage.ProgressFile, "a.tsv")] = true
	fs.Progress[rec(storage.ProgressTableOK, "b")] = true
	fs.Progress[rec(storage.ProgressStarted, "b.tsv")] = true

	sum, err := newEngine(t, cfg, fs).Load(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, sum.FilesSkipped)
	assert.Equal(t, [][]any{{"old", "a"}}, fs.Rows("a"), "finished table is kept")
	rows := fs.Rows("b")
	require.Len(t, rows, 3, "interrupted table is rebuilt from scratch")
	assert.Equal(t, "b1", rows[0][0])
}

func TestEngineLoad_ResumeSingleLayout(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, config.LayoutSingle)
	writeTSV(t, cfg.Source.Dir, "a.tsv", "a1\tx\ty")
	writeTSV(t, cfg.Source.Dir, "b.tsv", "b1\tx\ty", "b2\tx\ty")

	fs := storagetest.New()
	ctx := context.Background()
	require.NoError(t, fs.CreateFactTable(ctx, model.SingleTable, storage.FactColumns(cfg.Load.MaxFieldLength)))
	fs.Tables[model.SingleTable] = [][]any{{"a1", "a"}, {"b1", "b"}}
	fs.Progress[rec(storage.ProgressTableOK, model.SingleTable)] = true
	fs.Progress[rec(storage.ProgressFile, "a.tsv")] = true
	fs.Progress[rec(storage.ProgressStarted, "b.tsv")] = true

	sum, err := newEngine(t, cfg, fs).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.FilesSkipped)
	assert.Equal(t, int64(2), sum.Loaded)

	var ids []string
	for _, r := range fs.Rows(model.SingleTable) {
		ids = append(ids, r[0].(string))
	}
	assert.Equal(t, []string{"a1", "b1", "b2"}, ids, "no duplicates and no lost rows")
}

func TestEngineLoad_UnrecordedTableReloadsDoneFiles(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, config.LayoutSplit)
	writeTSV(t, cfg.Source.Dir, "a.tsv", "a1\tx\ty")

	fs := storagetest.New()
	fs.Progress[rec(storage.ProgressFile, "a.tsv")] = true

	sum, err := newEngine(t, cfg, fs).Load(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sum.FilesSkipped)
	assert.Len(t, fs.Rows("a"), 1)
}

func TestEngineLoad_InsertFailureKeepsStartedRecord(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, config.LayoutSplit)
	cfg.Load.BatchSize = 1
	lines := make([]string, 50)
	for i := range lines {
		lines[i] = "f\tx\ty"
	}
	writeTSV(t, cfg.Source.Dir, "r.tsv", lines...)

	wantErr := errors.New("disk full")
	fs := storagetest.New()
	fs.InsertErr = wantErr

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := newEngine(t, cfg, fs).Load(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)
	assert.Contains(t, err.Error(), "loader: insert r")
	assert.True(t, fs.Progress[rec(storage.ProgressStarted, "r.tsv")])
	assert.False(t, fs.Progress[rec(storage.ProgressFile, "r.tsv")])
	assert.Equal(t, 1, fs.Inserts, "the run stops at the first failed batch")
}

func TestEngineLoad_DrainsStreamOnError(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, config.LayoutSplit)
	cfg.Load.BatchSize = 1
	writeTSV(t, cfg.Source.Dir, "r.tsv", "f\tx\ty")

	wantErr := errors.New("boom")
	fs := storagetest.New()
	fs.InsertErr = wantErr

	// Unbuffered stream: if the engine stops reading early, the sender
	// goroutine blocks and Wait never returns.
	rows := make(chan *transformer.Row)
	sentAll := make(chan struct{})
	e := newEngine(t, cfg, fs)
	e.Stream = func(ctx context.Context, f FactFile, limit int) (*FactStream, error) {
		go func() {
			defer close(sentAll)
			defer close(rows)
			for i := 0; i < 10; i++ {
				r := transformer.GetRow(3)
				r.F[0], r.F[1], r.F[2] = "id", "a", "b"
				rows <- r
			}
		}()
		return &FactStream{
			Rows:      rows,
			Wait:      func() error { <-sentAll; return nil },
			Malformed: func() uint64 { return 0 },
		}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := e.Load(ctx)
	require.ErrorIs(t, err, wantErr)
}

func TestEngineLoad_Canceled(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, config.LayoutSplit)
	writeTSV(t, cfg.Source.Dir, "r.tsv", "f\tx\ty")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newEngine(t, cfg, storagetest.New()).Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngineBuildIndexes_RecordedTables(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, config.LayoutSplit)
	fs := storagetest.New()
	ctx := context.Background()
	cols := storage.FactColumns(cfg.Load.MaxFieldLength)
	require.NoError(t, fs.CreateFactTable(ctx, "means", cols))
	fs.Progress[rec(storage.ProgressTableOK, "means")] = true
	fs.Progress[rec(storage.ProgressTableOK, "gone")] = true

	reps, err := newEngine(t, cfg, fs).BuildIndexes(ctx)
	require.NoError(t, err)
	require.Len(t, reps, 1)
	assert.Equal(t, "means", reps[0].Table)
	assert.Equal(t, 2, reps[0].Skipped, "both full-text indexes")
	assert.Equal(t, 10, reps[0].Built)
	assert.NotEmpty(t, fs.Progress, "index-only mode keeps progress records")
}

func TestEngineBuildIndexes_PostGISFallback(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, config.LayoutSingle)
	cfg.Storage.Kind = "postgres"
	cfg.Index.PostGIS = true
	fs := storagetest.New()
	fs.ExecErr["postgis"] = errors.New("extension not available")
	require.NoError(t, fs.CreateFactTable(context.Background(), model.SingleTable, nil))

	reps, err := newEngine(t, cfg, fs).BuildIndexes(context.Background())
	require.NoError(t, err)
	require.Len(t, reps, 1)
	assert.Equal(t, 2, reps[0].Skipped, "no spatial entry after the extension failed")
	assert.Contains(t, fs.ExecLog()[0], postgisSQL)
}

func TestEngineClear(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, config.LayoutSplit)
	writeTSV(t, cfg.Source.Dir, "type.tsv", "t\ta\tb")
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.Work.Dir, auxSubdir), 0o755))

	fs := storagetest.New()
	ctx := context.Background()
	for _, tbl := range []string{"type", "old", model.SingleTable} {
		require.NoError(t, fs.CreateFactTable(ctx, tbl, nil))
	}
	fs.Progress[rec(storage.ProgressTableOK, "old")] = true

	e := newEngine(t, cfg, fs)
	var asked []string
	e.Confirm = func(tables []string) bool { asked = tables; return false }

	_, err := e.Clear(ctx)
	require.ErrorIs(t, err, progress.ErrNotConfirmed)
	assert.Len(t, fs.Tables, 3)
	assert.Equal(t, []string{"old", model.SingleTable, "type"}, asked)

	e.Confirm = func([]string) bool { return true }
	cleared, err := e.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"old", model.SingleTable, "type"}, cleared)
	assert.Empty(t, fs.Tables)
	assert.Empty(t, fs.Progress)
	_, err = os.Stat(filepath.Join(cfg.Work.Dir, auxSubdir))
	assert.True(t, os.IsNotExist(err))
}

func TestEngineClear_KeepsFilesBesideAuxIndex(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, config.LayoutSingle)
	cfg.Work.Dir = cfg.Source.Dir
	writeTSV(t, cfg.Source.Dir, "type.tsv", "t\ta\tb")
	require.NoError(t, os.MkdirAll(filepath.Join(cfg.Work.Dir, auxSubdir), 0o755))

	fs := storagetest.New()
	ctx := context.Background()
	require.NoError(t, fs.CreateFactTable(ctx, model.SingleTable, nil))

	e := newEngine(t, cfg, fs)
	e.Confirm = func([]string) bool { return true }
	_, err := e.Clear(ctx)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(cfg.Source.Dir, "type.tsv"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(cfg.Work.Dir, auxSubdir))
	assert.True(t, os.IsNotExist(err))
}
