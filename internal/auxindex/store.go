// Package auxindex persists the side-relation lookups used by the join stage.
//
// Five sub-indexes live in one bbolt file under the work directory:
//
//	geolocations   location entity -> GeoLocation
//	locations      fact id         -> location entity
//	timeIntervals  fact id         -> TimeInterval
//	witnesses      fact id         -> witness
//	contexts       entity          -> tab-joined context literals
//
// The store is written only by Build and read only through a Reader opened
// after Build returns.
package auxindex

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"spotlx/internal/model"
)

// Bucket names.
const (
	Geolocations  = "geolocations"
	Locations     = "locations"
	TimeIntervals = "timeIntervals"
	Witnesses     = "witnesses"
	Contexts      = "contexts"

	bucketMeta = "meta"

	// metaLimit records the Options.Limit the indexes were built with.
	metaLimit = "limit"
)

// Buckets lists the sub-indexes in reporting order.
var Buckets = []string{Geolocations, Locations, TimeIntervals, Witnesses, Contexts}

// Source relations feeding the sub-indexes.
const (
	GeoRelation      = "hasGeoCoordinates"
	LocationRelation = "occursIn"
	SinceRelation    = "occursSince"
	UntilRelation    = "occursUntil"
	WitnessRelation  = "wasFoundIn"
)

// ContextRelations are scanned in this order; the order fixes the byte
// layout of accumulated contexts.
var ContextRelations = []string{"hasWikipediaAnchorText", "hasWikipediaCategory", "hasCitationTitle"}

const fileName = "auxindex.db"

// Options configures a Store.
type Options struct {
	// BatchSize is the number of source lines committed per bbolt transaction.
	// If <= 0, defaults to 10000.
	BatchSize int

	// Limit caps every side-relation scan at Limit lines (test mode). 0 = no cap.
	Limit int

	// GeoCacheTTL controls how long Reader keeps decoded geolocations.
	// If <= 0, defaults to 10 minutes.
	GeoCacheTTL time.Duration

	Logger *slog.Logger
}

// Store is the persistent side-index store.
type Store struct {
	db  *bolt.DB
	dir string
	opt Options
	log *slog.Logger
}

// Open opens (or creates) the store in dir.
//
// Edge cases:
//   - dir is created if missing.
//   - An existing store is reused; Build decides what still needs work.
//   - A store built with a different Limit is emptied first, so a full run
//     never reuses indexes cut short by test mode.
//
// Errors:
//   - Returns an error if the directory cannot be created or the bbolt file
//     is locked by another process for more than a few seconds.
func Open(dir string, opt Options) (*Store, error) {
	if opt.BatchSize <= 0 {
		opt.BatchSize = 10000
	}
	if opt.GeoCacheTTL <= 0 {
		opt.GeoCacheTTL = 10 * time.Minute
	}
	log := opt.Logger
	if log == nil {
		log = slog.Default()
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("auxindex: mkdir %s: %w", dir, err)
	}
	db, err := bolt.Open(filepath.Join(dir, fileName), 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("auxindex: open: %w", err)
	}

	log = log.With("component", "auxindex")
	all := append([]string{bucketMeta}, Buckets...)
	err = db.Update(func(tx *bolt.Tx) error {
		if meta := tx.Bucket([]byte(bucketMeta)); meta != nil {
			if prev := meta.Get([]byte(metaLimit)); prev != nil && decodeCount(prev) != opt.Limit {
				log.Warn("line limit changed; rebuilding auxiliary indexes", "was", decodeCount(prev), "now", opt.Limit)
				for _, name := range all {
					if tx.Bucket([]byte(name)) == nil {
						continue
					}
					if err := tx.DeleteBucket([]byte(name)); err != nil {
						return fmt.Errorf("drop bucket %s: %w", name, err)
					}
				}
			}
		}
		for _, name := range all {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return tx.Bucket([]byte(bucketMeta)).Put([]byte(metaLimit), encodeCount(opt.Limit))
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("auxindex: %w", err)
	}

	return &Store{db: db, dir: dir, opt: opt, log: log}, nil
}

// Dir returns the directory holding the store.
func (s *Store) Dir() string { return s.dir }

// Close closes the underlying bbolt file.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Wipe closes the store and removes its directory.
func (s *Store) Wipe() error {
	if err := s.Close(); err != nil {
		return err
	}
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("auxindex: wipe %s: %w", s.dir, err)
	}
	return nil
}

// Counts returns the number of keys in each sub-index.
func (s *Store) Counts() (map[string]int, error) {
	out := make(map[string]int, len(Buckets))
	err := s.db.View(func(tx *bolt.Tx) error {
		for _, name := range Buckets {
			out[name] = tx.Bucket([]byte(name)).Stats().KeyN
		}
		return nil
	})
	return out, err
}

// WipeDir removes a store directory without opening it (used by clear mode).
func WipeDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("auxindex: wipe %s: %w", dir, err)
	}
	return nil
}

// ---- value encodings ----

func encodeInterval(t model.TimeInterval) []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[0:8], uint64(t.Begin))
	binary.BigEndian.PutUint64(b[8:16], uint64(t.End))
	return b
}

func decodeInterval(b []byte) (model.TimeInterval, bool) {
	if len(b) != 16 {
		return model.TimeInterval{}, false
	}
	return model.TimeInterval{
		Begin: int64(binary.BigEndian.Uint64(b[0:8])),
		End:   int64(binary.BigEndian.Uint64(b[8:16])),
	}, true
}

func encodeGeo(g model.GeoLocation) []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[0:8], math.Float64bits(g.Latitude))
	binary.BigEndian.PutUint64(b[8:16], math.Float64bits(g.Longitude))
	return b
}

func decodeGeo(b []byte) (model.GeoLocation, bool) {
	if len(b) != 16 {
		return model.GeoLocation{}, false
	}
	return model.GeoLocation{
		Latitude:  math.Float64frombits(binary.BigEndian.Uint64(b[0:8])),
		Longitude: math.Float64frombits(binary.BigEndian.Uint64(b[8:16])),
	}, true
}

func encodeCount(n int) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(n))
	return b
}

func decodeCount(b []byte) int {
	if len(b) != 8 {
		return 0
	}
	return int(binary.BigEndian.Uint64(b))
}

// ensure the context is honoured by long bbolt loops
func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
