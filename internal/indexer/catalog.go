// Package indexer defines the index catalogs of the fact tables and builds
// them with a bounded pool of workers.
package indexer

import (
	"spotlx/internal/model"
	"spotlx/internal/storage"
)

// MaxPrefixLength bounds the table-name prefix of generated index names.
const MaxPrefixLength = 30

// DefaultFullTextRelation is the relation whose first argument gets a
// full-text index in the split layout.
const DefaultFullTextRelation = "means"

func prefix(table string) string {
	n := 0
	for i := range table {
		if n == MaxPrefixLength {
			return table[:i]
		}
		n++
	}
	return table
}

func lowerFirst(first string, rest ...string) []storage.IndexColumn {
	return append([]storage.IndexColumn{{Name: first, Lower: true}}, storage.Cols(rest...)...)
}

// SplitCatalog returns the indexes of one relation table.
//
// The spatial entry is included only when spatial is set (PostGIS). The
// full-text index on arg1 is included only when table equals
// fullTextRelation; an empty fullTextRelation means DefaultFullTextRelation.
func SplitCatalog(table, fullTextRelation string, spatial bool) []storage.IndexSpec {
	if fullTextRelation == "" {
		fullTextRelation = DefaultFullTextRelation
	}
	p := prefix(table)
	specs := []storage.IndexSpec{
		{Name: p + "_id", Columns: storage.Cols(model.ColID)},
		{Name: p + "_arg1_arg2", Columns: storage.Cols(model.ColArg1, model.ColArg2)},
		{Name: p + "_arg2_arg1", Columns: storage.Cols(model.ColArg2, model.ColArg1)},
	}
	if spatial {
		specs = append(specs, storage.IndexSpec{Name: p + "_spatial", Kind: storage.IndexSpatial,
			Columns: storage.Cols(model.ColLongitude, model.ColLatitude)})
	}
	specs = append(specs,
		storage.IndexSpec{Name: p + "_timeBegin_timeEnd", Columns: storage.Cols(model.ColTimeBegin, model.ColTimeEnd)},
		storage.IndexSpec{Name: p + "_timeEnd_timeBegin", Columns: storage.Cols(model.ColTimeEnd, model.ColTimeBegin)},
		storage.IndexSpec{Name: p + "_location", Columns: storage.Cols(model.ColLocation)},
		storage.IndexSpec{Name: p + "_Latitude_Longitude", Columns: storage.Cols(model.ColLatitude, model.ColLongitude)},
		storage.IndexSpec{Name: p + "_Longitude_Latitude", Columns: storage.Cols(model.ColLongitude, model.ColLatitude)},
		storage.IndexSpec{Name: p + "_context_text", Kind: storage.IndexFullText, Columns: storage.Cols(model.ColContext)},
		storage.IndexSpec{Name: p + "_arg1low_arg2", Columns: lowerFirst(model.ColArg1, model.ColArg2)},
		storage.IndexSpec{Name: p + "_arg2low_arg1", Columns: lowerFirst(model.ColArg2, model.ColArg1)},
	)
	if table == fullTextRelation {
		specs = append(specs, storage.IndexSpec{Name: p + "_arg1_text", Kind: storage.IndexFullText, Columns: storage.Cols(model.ColArg1)})
	}
	return specs
}

// SingleCatalog returns the indexes of the single relationalfacts table.
func SingleCatalog(spatial bool) []storage.IndexSpec {
	p := model.SingleTable
	specs := []storage.IndexSpec{
		{Name: p + "_id", Columns: storage.Cols(model.ColID)},
		{Name: p + "_id_arg1", Columns: storage.Cols(model.ColID, model.ColArg1)},
		{Name: p + "_relation_arg1_arg2", Columns: storage.Cols(model.ColRelation, model.ColArg1, model.ColArg2)},
		{Name: p + "_arg1_relation_arg2", Columns: storage.Cols(model.ColArg1, model.ColRelation, model.ColArg2)},
		{Name: p + "_arg2_relation_arg1", Columns: storage.Cols(model.ColArg2, model.ColRelation, model.ColArg1)},
		{Name: p + "_relation_arg2_arg1", Columns: storage.Cols(model.ColRelation, model.ColArg2, model.ColArg1)},
		{Name: p + "_arg1_arg2_relation", Columns: storage.Cols(model.ColArg1, model.ColArg2, model.ColRelation)},
		{Name: p + "_arg2_arg1_relation", Columns: storage.Cols(model.ColArg2, model.ColArg1, model.ColRelation)},
	}
	if spatial {
		specs = append(specs, storage.IndexSpec{Name: p + "_spatial", Kind: storage.IndexSpatial,
			Columns: storage.Cols(model.ColLongitude, model.ColLatitude)})
	}
	return append(specs,
		storage.IndexSpec{Name: p + "_timeBegin_timeEnd", Columns: storage.Cols(model.ColTimeBegin, model.ColTimeEnd)},
		storage.IndexSpec{Name: p + "_timeEnd_timeBegin", Columns: storage.Cols(model.ColTimeEnd, model.ColTimeBegin)},
		storage.IndexSpec{Name: p + "_location", Columns: storage.Cols(model.ColLocation)},
		storage.IndexSpec{Name: p + "_locationLatitude_locationLongitude", Columns: storage.Cols(model.ColLatitude, model.ColLongitude)},
		storage.IndexSpec{Name: p + "_locationLongitude_locationLatitude", Columns: storage.Cols(model.ColLongitude, model.ColLatitude)},
		storage.IndexSpec{Name: p + "_arg1_text", Kind: storage.IndexFullText, Columns: storage.Cols(model.ColArg1)},
		storage.IndexSpec{Name: p + "_context_text", Kind: storage.IndexFullText, Columns: storage.Cols(model.ColContext)},
		storage.IndexSpec{Name: p + "_arg1low_relation_arg2", Columns: lowerFirst(model.ColArg1, model.ColRelation, model.ColArg2)},
		storage.IndexSpec{Name: p + "_arg2low_relation_arg1", Columns: lowerFirst(model.ColArg2, model.ColRelation, model.ColArg1)},
	)
}
