package progress

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotlx/internal/storage"
	"spotlx/internal/storage/storagetest"
)

func managed(t *testing.T, s *storagetest.Store) *storage.Managed {
	t.Helper()
	m, err := storage.NewManaged(context.Background(), func(context.Context) (storage.FactStore, error) { return s, nil }, nil)
	require.NoError(t, err)
	return m
}

func TestTracker_RecordsSurviveReload(t *testing.T) {
	ctx := context.Background()
	s := storagetest.New()

	tr := New(managed(t, s), nil)
	require.NoError(t, tr.Load(ctx))
	require.NoError(t, tr.MarkStarted(ctx, "a.tsv"))
	require.NoError(t, tr.MarkFileDone(ctx, "a.tsv"))
	require.NoError(t, tr.MarkStarted(ctx, "b.tsv"))
	require.NoError(t, tr.MarkTableCreated(ctx, "a"))

	again := New(managed(t, s), nil)
	require.NoError(t, again.Load(ctx))
	assert.True(t, again.FileDone("a.tsv"))
	assert.False(t, again.FileDone("b.tsv"))
	assert.True(t, again.TableCreated("a"))
	assert.Equal(t, []string{"a"}, again.Tables())
	assert.Equal(t, []string{"b.tsv"}, again.StaleFiles())
	assert.False(t, s.Progress[storage.ProgressRecord{Kind: storage.ProgressStarted, Name: "a.tsv"}])
}

func TestTracker_Forget(t *testing.T) {
	ctx := context.Background()
	s := storagetest.New()
	tr := New(managed(t, s), nil)
	require.NoError(t, tr.Load(ctx))

	require.NoError(t, tr.MarkTableCreated(ctx, "livesIn"))
	require.NoError(t, tr.MarkFileDone(ctx, "livesIn.tsv"))
	require.NoError(t, tr.MarkStarted(ctx, "livesIn_transitive.tsv"))

	require.NoError(t, tr.Forget(ctx, "livesIn", []string{"livesIn.tsv", "livesIn_transitive.tsv"}))
	assert.False(t, tr.TableCreated("livesIn"))
	assert.False(t, tr.FileDone("livesIn.tsv"))
	assert.Empty(t, tr.StaleFiles())
	assert.Empty(t, s.Progress)
}

func TestTracker_PrepareTable(t *testing.T) {
	ctx := context.Background()
	s := storagetest.New()
	tr := New(managed(t, s), nil)
	require.NoError(t, tr.Load(ctx))

	// leftover table from a foreign run is dropped and recreated empty
	require.NoError(t, s.CreateFactTable(ctx, "type", storage.FactColumns(0)))
	_, err := s.InsertFactRows(ctx, "type", nil, [][]any{{"x", "type"}})
	require.NoError(t, err)

	require.NoError(t, tr.PrepareTable(ctx, "type", storage.FactColumns(0)))
	assert.Empty(t, s.Rows("type"))
	assert.True(t, tr.TableCreated("type"))

	// a recorded table is kept with its rows
	_, err = s.InsertFactRows(ctx, "type", nil, [][]any{{"y", "type"}})
	require.NoError(t, err)
	require.NoError(t, tr.PrepareTable(ctx, "type", storage.FactColumns(0)))
	assert.Len(t, s.Rows("type"), 1)
}

func TestTracker_Finish(t *testing.T) {
	ctx := context.Background()
	s := storagetest.New()
	tr := New(managed(t, s), nil)
	require.NoError(t, tr.Load(ctx))
	require.NoError(t, tr.MarkFileDone(ctx, "a.tsv"))

	require.NoError(t, tr.Finish(ctx))
	assert.Empty(t, s.Progress)
	assert.False(t, tr.FileDone("a.tsv"))
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	s := storagetest.New()
	require.NoError(t, s.CreateFactTable(ctx, "a", nil))
	require.NoError(t, s.CreateFactTable(ctx, "b", nil))
	s.Progress[storage.ProgressRecord{Kind: storage.ProgressFile, Name: "a.tsv"}] = true
	m := managed(t, s)

	err := Clear(ctx, m, []string{"a", "b"}, nil)
	require.ErrorIs(t, err, ErrNotConfirmed)
	err = Clear(ctx, m, []string{"a", "b"}, func([]string) bool { return false })
	require.ErrorIs(t, err, ErrNotConfirmed)
	assert.Len(t, s.Tables, 2)

	var asked []string
	require.NoError(t, Clear(ctx, m, []string{"a", "b"}, func(tables []string) bool {
		asked = tables
		return true
	}))
	assert.Equal(t, []string{"a", "b"}, asked)
	assert.Empty(t, s.Tables)
	assert.Empty(t, s.Progress)
}
