package auxindex

import (
	"fmt"

	gocache "github.com/patrickmn/go-cache"
	bolt "go.etcd.io/bbolt"

	"spotlx/internal/model"
)

// Reader is a read-only view over a built Store.
//
// It holds one bbolt read transaction for its whole lifetime and is meant to
// be used by a single goroutine (the join pass). Decoded geolocations are
// cached; every other lookup reads the mapped pages directly.
type Reader struct {
	tx    *bolt.Tx
	cache *gocache.Cache

	geo, loc, time, wit, ctx *bolt.Bucket
}

// Reader opens a read-only view. The caller must Close it before Wipe or
// Close on the Store, otherwise those calls block.
func (s *Store) Reader() (*Reader, error) {
	tx, err := s.db.Begin(false)
	if err != nil {
		return nil, fmt.Errorf("auxindex: begin read: %w", err)
	}
	ttl := s.opt.GeoCacheTTL
	return &Reader{
		tx:    tx,
		cache: gocache.New(ttl, 2*ttl),
		geo:   tx.Bucket([]byte(Geolocations)),
		loc:   tx.Bucket([]byte(Locations)),
		time:  tx.Bucket([]byte(TimeIntervals)),
		wit:   tx.Bucket([]byte(Witnesses)),
		ctx:   tx.Bucket([]byte(Contexts)),
	}, nil
}

// Close releases the read transaction.
func (r *Reader) Close() error {
	r.cache.Flush()
	return r.tx.Rollback()
}

// TimeInterval returns the interval recorded for a fact id.
func (r *Reader) TimeInterval(factID string) (model.TimeInterval, bool) {
	return decodeInterval(r.time.Get([]byte(factID)))
}

// Location returns the location entity recorded for a fact id.
func (r *Reader) Location(factID string) (string, bool) {
	v := r.loc.Get([]byte(factID))
	if v == nil {
		return "", false
	}
	return string(v), true
}

// GeoLocation returns the coordinates of a location entity.
func (r *Reader) GeoLocation(entity string) (model.GeoLocation, bool) {
	if v, ok := r.cache.Get(entity); ok {
		g, found := v.(*model.GeoLocation)
		if !found || g == nil {
			return model.GeoLocation{}, false
		}
		return *g, true
	}
	g, ok := decodeGeo(r.geo.Get([]byte(entity)))
	if !ok {
		r.cache.SetDefault(entity, (*model.GeoLocation)(nil))
		return model.GeoLocation{}, false
	}
	r.cache.SetDefault(entity, &g)
	return g, true
}

// Witness returns the witness recorded for a fact id.
func (r *Reader) Witness(factID string) (string, bool) {
	v := r.wit.Get([]byte(factID))
	if v == nil {
		return "", false
	}
	return string(v), true
}

// Context returns the accumulated context of an entity.
func (r *Reader) Context(entity string) (string, bool) {
	v := r.ctx.Get([]byte(entity))
	if len(v) == 0 {
		return "", false
	}
	return string(v), true
}
