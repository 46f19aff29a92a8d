// Package dereify collapses a reified fact and its side facts into one flat
// row.
package dereify

import (
	"unicode/utf8"

	"spotlx/internal/model"
	"spotlx/internal/transformer"
)

// DefaultMaxFieldLength is the argument length limit used when none is configured.
const DefaultMaxFieldLength = 255

// DefaultGlossRelation names the relation whose long second arguments are
// truncated instead of skipped.
const DefaultGlossRelation = "hasGloss"

const glossSuffix = `..."`

// Lookup is the read side of the auxiliary indexes. *auxindex.Reader
// satisfies it.
type Lookup interface {
	TimeInterval(factID string) (model.TimeInterval, bool)
	Location(factID string) (string, bool)
	GeoLocation(entity string) (model.GeoLocation, bool)
	Witness(factID string) (string, bool)
	Context(entity string) (string, bool)
}

// Joiner produces DenormalizedRows from facts.
//
// Edge cases:
//   - MaxFieldLength <= 0 defaults to DefaultMaxFieldLength.
//   - An empty GlossRelation defaults to DefaultGlossRelation.
//   - Lengths are counted in runes after unescaping.
type Joiner struct {
	Index          Lookup
	MaxFieldLength int
	GlossRelation  string
}

// Join looks up every side attribute of f and returns the joined row.
//
// It reports false when the fact must be skipped because an argument is
// longer than MaxFieldLength. For the gloss relation an overlong second
// argument is truncated to MaxFieldLength-4 runes plus `..."` instead.
//
// Lookups use the raw source strings; the emitted row carries the unescaped
// arguments.
func (j *Joiner) Join(f model.Fact) (model.DenormalizedRow, bool) {
	maxLen := j.MaxFieldLength
	if maxLen <= 0 {
		maxLen = DefaultMaxFieldLength
	}
	gloss := j.GlossRelation
	if gloss == "" {
		gloss = DefaultGlossRelation
	}

	arg1 := transformer.Unescape(f.Arg1)
	arg2 := transformer.Unescape(f.Arg2)

	if f.Relation == gloss && utf8.RuneCountInString(arg2) > maxLen {
		arg2 = truncateRunes(arg2, maxLen-len(glossSuffix)) + glossSuffix
	}
	if utf8.RuneCountInString(arg1) > maxLen || utf8.RuneCountInString(arg2) > maxLen {
		return model.DenormalizedRow{}, false
	}

	row := model.DenormalizedRow{
		Fact: model.Fact{ID: f.ID, Relation: f.Relation, Arg1: arg1, Arg2: arg2},
		Time: model.DefaultInterval(),
	}

	if j.Index == nil {
		return row, true
	}

	if t, ok := j.Index.TimeInterval(f.ID); ok {
		row.Time = t
	}

	if loc, ok := j.Index.Location(f.ID); ok {
		if g, ok := j.Index.GeoLocation(loc); ok {
			row.Location = transformer.Unescape(loc)
			row.Geo = &g
		}
	}

	if w, ok := j.Index.Witness(f.ID); ok {
		row.Witness = transformer.Unescape(w)
	}

	c1, ok1 := j.Index.Context(f.Arg1)
	c2, ok2 := j.Index.Context(f.Arg2)
	switch {
	case ok1 && ok2:
		row.Context = c1 + "\t" + c2
	case ok1:
		row.Context = c1
	case ok2:
		row.Context = c2
	}

	return row, true
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
