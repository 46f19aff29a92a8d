// Package model holds the value types shared by the de-reification pipeline:
// the parsed Fact, its side attributes, and the DenormalizedRow that is
// written to the target store.
package model

const (
	// MinTimestamp is the "no known lower bound" sentinel, in epoch milliseconds.
	MinTimestamp int64 = 0
	// MaxTimestamp is the "no known upper bound" sentinel, in epoch milliseconds.
	MaxTimestamp int64 = 884541340800000
)

// SingleTable is the target table used by the single-table layout.
const SingleTable = "relationalfacts"

// Fact table column names.
const (
	ColID        = "id"
	ColRelation  = "relation"
	ColArg1      = "arg1"
	ColArg2      = "arg2"
	ColTimeBegin = "timeBegin"
	ColTimeEnd   = "timeEnd"
	ColLocation  = "location"
	ColLatitude  = "locationLatitude"
	ColLongitude = "locationLongitude"
	ColWitness   = "primaryWitness"
	ColContext   = "context"
)

// Columns is the insert column order for every fact table.
var Columns = []string{
	ColID,
	ColRelation,
	ColArg1,
	ColArg2,
	ColTimeBegin,
	ColTimeEnd,
	ColLocation,
	ColLatitude,
	ColLongitude,
	ColWitness,
	ColContext,
}

// Fact is one reified triple parsed from a relation file.
type Fact struct {
	ID       string
	Relation string
	Arg1     string
	Arg2     string
}

// TimeInterval is a closed interval in epoch milliseconds.
//
// Begin and End are defaulted independently; Begin <= End is not guaranteed.
type TimeInterval struct {
	Begin int64
	End   int64
}

// DefaultInterval returns the fully unbounded interval.
func DefaultInterval() TimeInterval {
	return TimeInterval{Begin: MinTimestamp, End: MaxTimestamp}
}

// Ordered reports whether Begin <= End.
func (t TimeInterval) Ordered() bool { return t.Begin <= t.End }

// GeoLocation is a WGS84 coordinate pair.
type GeoLocation struct {
	Latitude  float64
	Longitude float64
}

// DenormalizedRow is one fact joined with all of its side attributes.
//
// Location is the location entity id; Geo is nil when the entity has no
// coordinates. Witness and Context are empty when absent.
type DenormalizedRow struct {
	Fact     Fact
	Time     TimeInterval
	Location string
	Geo      *GeoLocation
	Witness  string
	Context  string
}
