package multitable

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"spotlx/internal/config"
)

const (
	factExt          = ".tsv"
	transitiveSuffix = "_transitive"
	typeStarFile     = "type_star"
	typeRelation     = "type"
)

// FactFile is one relation file selected for loading.
type FactFile struct {
	// Name is the base file name; it is the key of the progress records.
	Name string
	// Relation is the predicate the rows are loaded under.
	Relation string
	Path     string
}

// RelationOf maps a fact file name to the relation it is loaded as.
//
// <rel>_transitive.tsv maps to <rel> and type_star.tsv to type. The second
// return value reports whether name is a fact file at all.
func RelationOf(name string) (string, bool) {
	if !strings.HasSuffix(name, factExt) || strings.HasPrefix(name, "_") {
		return "", false
	}
	base := strings.TrimSuffix(name, factExt)
	switch {
	case base == "":
		return "", false
	case base == typeStarFile:
		return typeRelation, true
	case strings.HasSuffix(base, transitiveSuffix) && len(base) > len(transitiveSuffix):
		return strings.TrimSuffix(base, transitiveSuffix), true
	default:
		return base, true
	}
}

// ListFactFiles returns the fact files of src.Dir that this job loads, in
// lexical file name order.
//
// Filter:
//   - Directories, non-.tsv files and names starting with "_" are skipped.
//   - <rel>_transitive.tsv is kept only with IncludeTransitive.
//   - type_star.tsv is kept only with IncludeTypeStar.
//   - A non-empty ImportRelations keeps only the listed relations.
func ListFactFiles(src config.Source) ([]FactFile, error) {
	entries, err := os.ReadDir(src.Dir)
	if err != nil {
		return nil, fmt.Errorf("multitable: list %s: %w", src.Dir, err)
	}

	var allow map[string]bool
	if len(src.ImportRelations) > 0 {
		allow = make(map[string]bool, len(src.ImportRelations))
		for _, r := range src.ImportRelations {
			allow[strings.TrimSpace(r)] = true
		}
	}

	var out []FactFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		rel, ok := RelationOf(name)
		if !ok {
			continue
		}
		base := strings.TrimSuffix(name, factExt)
		if base == typeStarFile && !src.IncludeTypeStar {
			continue
		}
		if base != rel && base != typeStarFile && !src.IncludeTransitive {
			continue
		}
		if allow != nil && !allow[rel] {
			continue
		}
		out = append(out, FactFile{Name: name, Relation: rel, Path: filepath.Join(src.Dir, name)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// relationGroup is the files of one relation, in file order.
type relationGroup struct {
	Relation string
	Files    []FactFile
}

// groupByRelation groups files by relation, ordered by each relation's first
// file.
func groupByRelation(files []FactFile) []relationGroup {
	var out []relationGroup
	pos := map[string]int{}
	for _, f := range files {
		i, ok := pos[f.Relation]
		if !ok {
			i = len(out)
			pos[f.Relation] = i
			out = append(out, relationGroup{Relation: f.Relation})
		}
		out[i].Files = append(out[i].Files, f)
	}
	return out
}
