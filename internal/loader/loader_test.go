package loader

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spotlx/internal/model"
	"spotlx/internal/storage"
	"spotlx/internal/storage/storagetest"
)

func newLoader(t *testing.T, stores []*storagetest.Store, batch int) *Loader {
	t.Helper()
	i := 0
	m, err := storage.NewManaged(context.Background(), func(ctx context.Context) (storage.FactStore, error) {
		s := stores[i]
		i++
		require.NoError(t, s.CreateFactTable(ctx, "facts", storage.FactColumns(0)))
		return s, nil
	}, nil)
	require.NoError(t, err)
	l, err := New(m, "facts", batch, nil)
	require.NoError(t, err)
	return l
}

func row(id string) model.DenormalizedRow {
	return model.DenormalizedRow{
		Fact: model.Fact{ID: id, Relation: "type", Arg1: "e", Arg2: "C"},
		Time: model.DefaultInterval(),
	}
}

func TestArgs_AllDefaultsAreNull(t *testing.T) {
	t.Parallel()

	got := Args(row("id1"))
	assert.Equal(t, []any{"id1", "type", "e", "C", nil, nil, "", nil, nil, nil, nil}, got)
}

func TestArgs_TimestampsWithinSentinels(t *testing.T) {
	t.Parallel()

	r := row("f")
	r.Time = model.TimeInterval{Begin: 631152000000, End: model.MaxTimestamp}
	got := Args(r)
	assert.Equal(t, time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC), got[4])
	assert.Nil(t, got[5], "the upper sentinel is NULL")

	// pre-1970 bounds are below the lower sentinel
	r.Time = model.TimeInterval{Begin: -1000, End: 1000}
	got = Args(r)
	assert.Nil(t, got[4])
	assert.Equal(t, time.UnixMilli(1000).UTC(), got[5])
}

func TestArgs_InvertedIntervalIsNull(t *testing.T) {
	t.Parallel()

	r := row("f")
	r.Time = model.TimeInterval{Begin: 2000, End: 1000}
	got := Args(r)
	assert.Nil(t, got[4])
	assert.Nil(t, got[5])
}

func TestArgs_Location(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		geo   *model.GeoLocation
		valid bool
	}{
		{"valid", &model.GeoLocation{Latitude: 48.4, Longitude: 9.98}, true},
		{"poles and antimeridian", &model.GeoLocation{Latitude: -90, Longitude: 180}, true},
		{"latitude out of range", &model.GeoLocation{Latitude: 91, Longitude: 0}, false},
		{"longitude out of range", &model.GeoLocation{Latitude: 0, Longitude: -180.5}, false},
		{"nan", &model.GeoLocation{Latitude: math.NaN(), Longitude: 0}, false},
		{"inf", &model.GeoLocation{Latitude: 0, Longitude: math.Inf(1)}, false},
		{"missing", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := row("f")
			r.Location = "Ulm"
			r.Geo = tc.geo
			got := Args(r)
			if tc.valid {
				assert.Equal(t, "Ulm", got[6])
				assert.Equal(t, tc.geo.Latitude, got[7])
				assert.Equal(t, tc.geo.Longitude, got[8])
				return
			}
			assert.Equal(t, "", got[6])
			assert.Nil(t, got[7])
			assert.Nil(t, got[8])
		})
	}
}

func TestArgs_WitnessAndContext(t *testing.T) {
	t.Parallel()

	r := row("f")
	r.Witness = "http://x"
	r.Context = "a\tb"
	got := Args(r)
	assert.Equal(t, "http://x", got[9])
	assert.Equal(t, "a\tb", got[10])
}

func TestLoader_FlushesAtBatchSize(t *testing.T) {
	s := storagetest.New()
	l := newLoader(t, []*storagetest.Store{s}, 2)
	ctx := context.Background()

	require.NoError(t, l.Add(ctx, row("1")))
	assert.Equal(t, 1, l.Pending())
	assert.Empty(t, s.Rows("facts"))

	require.NoError(t, l.Add(ctx, row("2")))
	assert.Equal(t, 0, l.Pending())
	assert.Len(t, s.Rows("facts"), 2)

	require.NoError(t, l.Add(ctx, row("3")))
	require.NoError(t, l.Flush(ctx))
	require.NoError(t, l.Flush(ctx), "empty flush is a no-op")

	assert.EqualValues(t, 3, l.Loaded())
	assert.Equal(t, 2, l.Batches())
	assert.Equal(t, 2, s.Inserts)
}

func TestLoader_ReconnectsTransparently(t *testing.T) {
	first := storagetest.New()
	second := storagetest.New()
	l := newLoader(t, []*storagetest.Store{first, second}, 10)
	ctx := context.Background()

	require.NoError(t, l.Add(ctx, row("1")))
	first.SetPingErr(errors.New("server closed the connection"))

	require.NoError(t, l.Flush(ctx))
	assert.Len(t, second.Rows("facts"), 1)
	assert.Empty(t, first.Rows("facts"))
}

func TestLoader_InsertFailureIsFatal(t *testing.T) {
	s := storagetest.New()
	s.InsertErr = errors.New("value too long")
	l := newLoader(t, []*storagetest.Store{s}, 10)
	ctx := context.Background()

	require.NoError(t, l.Add(ctx, row("1")))
	err := l.Flush(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loader: insert facts")
	assert.Equal(t, 1, l.Pending())
	assert.Zero(t, l.Loaded())
}

func TestLoader_SecondConnectionFailureIsFatal(t *testing.T) {
	first := storagetest.New()
	second := storagetest.New()
	second.PingErr = errors.New("refused")
	l := newLoader(t, []*storagetest.Store{first, second}, 10)
	ctx := context.Background()

	first.SetPingErr(errors.New("reset"))
	require.NoError(t, l.Add(ctx, row("1")))
	err := l.Flush(ctx)
	require.ErrorIs(t, err, storage.ErrReconnect)
}
