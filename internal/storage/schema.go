// The column, index and progress types live here so that the engine, the
// indexer and every backend can share them without import cycles.
package storage

import "spotlx/internal/model"

// ColumnType is the logical type of a fact column. Backends map it to their
// own SQL type.
type ColumnType int

const (
	// ColumnVarchar is a bounded string of Length characters.
	ColumnVarchar ColumnType = iota
	// ColumnText is an unbounded string.
	ColumnText
	// ColumnTimestamp is an instant with time zone.
	ColumnTimestamp
	// ColumnFloat is a double precision number.
	ColumnFloat
)

// ColumnSpec describes one column of a fact table. Every fact column is
// nullable except the key columns.
type ColumnSpec struct {
	Name     string
	Type     ColumnType
	Length   int
	Nullable bool
}

// keyLength bounds id and relation so that composite indexes stay within
// every backend's index key limit.
const keyLength = 255

// ColumnByName returns the spec of a fact column.
func ColumnByName(columns []ColumnSpec, name string) (ColumnSpec, bool) {
	for _, c := range columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnSpec{}, false
}

// FactColumns returns the column layout of a fact table. argLength bounds the
// two arguments; it matches the joiner's maximum field length.
func FactColumns(argLength int) []ColumnSpec {
	if argLength <= 0 {
		argLength = keyLength
	}
	return []ColumnSpec{
		{Name: model.ColID, Type: ColumnVarchar, Length: keyLength},
		{Name: model.ColRelation, Type: ColumnVarchar, Length: keyLength},
		{Name: model.ColArg1, Type: ColumnVarchar, Length: argLength},
		{Name: model.ColArg2, Type: ColumnVarchar, Length: argLength},
		{Name: model.ColTimeBegin, Type: ColumnTimestamp, Nullable: true},
		{Name: model.ColTimeEnd, Type: ColumnTimestamp, Nullable: true},
		{Name: model.ColLocation, Type: ColumnText, Nullable: true},
		{Name: model.ColLatitude, Type: ColumnFloat, Nullable: true},
		{Name: model.ColLongitude, Type: ColumnFloat, Nullable: true},
		{Name: model.ColWitness, Type: ColumnText, Nullable: true},
		{Name: model.ColContext, Type: ColumnText, Nullable: true},
	}
}

// IndexKind selects the access method of an index.
type IndexKind int

const (
	IndexBTree IndexKind = iota
	// IndexFullText is a full-text index over the listed columns.
	IndexFullText
	// IndexSpatial is a GIST index over a point built from
	// (longitude, latitude). Only PostGIS can express it.
	IndexSpatial
)

func (k IndexKind) String() string {
	switch k {
	case IndexFullText:
		return "fulltext"
	case IndexSpatial:
		return "spatial"
	default:
		return "btree"
	}
}

// IndexColumn is one key part of an index. Lower indexes lower(Name).
type IndexColumn struct {
	Name  string
	Lower bool
}

// IndexSpec is one catalog entry. Name is the full index name.
type IndexSpec struct {
	Name    string
	Kind    IndexKind
	Columns []IndexColumn
}

// Cols is a shorthand for plain btree key parts.
func Cols(names ...string) []IndexColumn {
	out := make([]IndexColumn, len(names))
	for i, n := range names {
		out[i] = IndexColumn{Name: n}
	}
	return out
}

// ProgressTable is the name of the table holding progress records.
const ProgressTable = "filedone"

// Progress record kinds.
const (
	ProgressFile    = "file"
	ProgressTableOK = "table"
	ProgressStarted = "started"
)

// ProgressRecord is one row of ProgressTable.
type ProgressRecord struct {
	Kind string
	Name string
}
