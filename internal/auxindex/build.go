package auxindex

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
	"golang.org/x/sync/errgroup"

	"spotlx/internal/dateparse"
	"spotlx/internal/model"
	"spotlx/internal/parser/tsv"
	"spotlx/internal/transformer"
)

// applyFn folds one side-relation line into its bucket. It runs inside the
// write transaction that also records the scan position.
type applyFn func(b *bolt.Bucket, key, value string) error

type source struct {
	relation string
	bucket   string
	apply    applyFn
}

// task is a group of sources that must be scanned sequentially.
type task struct {
	bucket  string
	sources []source
}

func (s *Store) tasks() []task {
	return []task{
		{bucket: Geolocations, sources: []source{{GeoRelation, Geolocations, applyGeo}}},
		{bucket: Locations, sources: []source{{LocationRelation, Locations, applyPut}}},
		{bucket: TimeIntervals, sources: []source{
			{SinceRelation, TimeIntervals, applySince},
			{UntilRelation, TimeIntervals, applyUntil},
		}},
		{bucket: Witnesses, sources: []source{{WitnessRelation, Witnesses, applyPut}}},
		{bucket: Contexts, sources: contextSources()},
	}
}

func contextSources() []source {
	out := make([]source, 0, len(ContextRelations))
	for _, rel := range ContextRelations {
		out = append(out, source{rel, Contexts, applyContext})
	}
	return out
}

// Build populates every sub-index from the side-relation files in sourceDir.
//
// The five sub-indexes are built concurrently; sources sharing a bucket are
// scanned in a fixed order by the same goroutine.
//
// Resumability:
//   - Each source records its committed line count in the same transaction as
//     the data it produced, so an interrupted scan resumes exactly where it
//     stopped and never folds a line twice.
//   - A completed source is skipped and only its bucket size is reported.
//   - A missing source file is logged and contributes nothing.
//
// Errors:
//   - Returns the first scan or bbolt error; the other builds are canceled.
func (s *Store) Build(ctx context.Context, sourceDir string) error {
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range s.tasks() {
		g.Go(func() error {
			for _, src := range t.sources {
				if err := s.buildSource(gctx, sourceDir, src); err != nil {
					return fmt.Errorf("auxindex: build %s from %s: %w", t.bucket, src.relation, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	counts, err := s.Counts()
	if err != nil {
		return fmt.Errorf("auxindex: counts: %w", err)
	}
	attrs := []any{"stage", "auxindex_build", "duration", time.Since(start).Truncate(time.Millisecond)}
	for _, name := range Buckets {
		attrs = append(attrs, name, counts[name])
	}
	s.log.Info("auxiliary indexes ready", attrs...)
	return nil
}

func (s *Store) buildSource(ctx context.Context, sourceDir string, src source) error {
	doneKey := []byte(src.relation + ":done")
	posKey := []byte(src.relation + ":line")

	var committed int
	var done bool
	if err := s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(bucketMeta))
		done = meta.Get(doneKey) != nil
		committed = decodeCount(meta.Get(posKey))
		return nil
	}); err != nil {
		return err
	}
	if done {
		s.log.Info("side relation already indexed", "relation", src.relation, "bucket", src.bucket)
		return nil
	}

	path := filepath.Join(sourceDir, src.relation+".tsv")
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		s.log.Warn("side relation file missing; skipping", "relation", src.relation, "path", path)
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	if committed > 0 {
		s.log.Info("resuming side relation scan", "relation", src.relation, "after_line", committed)
	}

	type kv struct{ k, v string }
	pending := make([]kv, 0, s.opt.BatchSize)
	last := committed
	malformed, badKeys := 0, 0

	flush := func(markDone bool) error {
		if len(pending) == 0 && !markDone {
			return nil
		}
		err := s.db.Update(func(tx *bolt.Tx) error {
			b := tx.Bucket([]byte(src.bucket))
			for _, p := range pending {
				if err := src.apply(b, p.k, p.v); err != nil {
					return err
				}
			}
			meta := tx.Bucket([]byte(bucketMeta))
			if err := meta.Put(posKey, encodeCount(last)); err != nil {
				return err
			}
			if markDone {
				return meta.Put(doneKey, []byte{1})
			}
			return nil
		})
		pending = pending[:0]
		return err
	}

	err = tsv.Scan(ctx, f, tsv.Options{Skip: committed, Limit: s.opt.Limit}, func(r *transformer.Row) error {
		last = r.Line
		if k := r.F[1]; k == "" || len(k) > bolt.MaxKeySize {
			badKeys++
			s.log.Warn("skipping side relation line with unusable key", "relation", src.relation, "line", r.Line, "key_len", len(k))
			return nil
		}
		pending = append(pending, kv{k: r.F[1], v: r.F[2]})
		if len(pending) >= s.opt.BatchSize {
			if err := flush(false); err != nil {
				return err
			}
			return ctxErr(ctx)
		}
		return nil
	}, func(line int, err error) {
		malformed++
		s.log.Warn("skipping malformed side relation line", "relation", src.relation, "line", line, "err", err)
	})
	if err != nil {
		return err
	}
	if err := flush(true); err != nil {
		return err
	}

	s.log.Info("side relation indexed", "relation", src.relation, "bucket", src.bucket, "lines", last, "malformed", malformed, "bad_keys", badKeys)
	return nil
}

// ---- apply functions ----

func applyPut(b *bolt.Bucket, key, value string) error {
	return b.Put([]byte(key), []byte(value))
}

// applyGeo parses "lat/lon" (optionally quoted). Unparseable values are
// dropped; they would only ever produce an invalid location downstream.
func applyGeo(b *bolt.Bucket, key, value string) error {
	g, ok := ParseGeo(value)
	if !ok {
		return nil
	}
	return b.Put([]byte(key), encodeGeo(g))
}

func applySince(b *bolt.Bucket, key, value string) error {
	t := getInterval(b, key)
	t.Begin = dateparse.Floor(value)
	return b.Put([]byte(key), encodeInterval(t))
}

func applyUntil(b *bolt.Bucket, key, value string) error {
	t := getInterval(b, key)
	t.End = dateparse.Ceil(value)
	return b.Put([]byte(key), encodeInterval(t))
}

func getInterval(b *bolt.Bucket, key string) model.TimeInterval {
	if t, ok := decodeInterval(b.Get([]byte(key))); ok {
		return t
	}
	return model.DefaultInterval()
}

func applyContext(b *bolt.Bucket, key, value string) error {
	v := transformer.Unquote(transformer.Unescape(value))
	if v == "" {
		return nil
	}
	if prev := b.Get([]byte(key)); len(prev) > 0 {
		joined := make([]byte, 0, len(prev)+1+len(v))
		joined = append(joined, prev...)
		joined = append(joined, '\t')
		joined = append(joined, v...)
		return b.Put([]byte(key), joined)
	}
	return b.Put([]byte(key), []byte(v))
}

// ParseGeo parses a "lat/lon" literal, with or without surrounding quotes.
func ParseGeo(s string) (model.GeoLocation, bool) {
	s = transformer.Unquote(strings.TrimSpace(s))
	latStr, lonStr, ok := strings.Cut(s, "/")
	if !ok {
		return model.GeoLocation{}, false
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return model.GeoLocation{}, false
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return model.GeoLocation{}, false
	}
	return model.GeoLocation{Latitude: lat, Longitude: lon}, true
}
