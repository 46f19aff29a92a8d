package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// Severity classifies an Issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding. Path is the dotted config key.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// knownStorageKinds mirrors the backends linked by internal/storage/all.
var knownStorageKinds = []string{"postgres", "sqlite", "mssql"}

// minFieldLength leaves room for a truncated gloss: one rune plus `..."`.
const minFieldLength = 5

// Validate checks cfg and returns every issue found. Errors make the job
// unrunnable; warnings describe settings that are ignored or surprising.
//
// Edge cases:
//   - source.dir must exist and be a directory. work.dir need not exist.
//   - work.dir may not be source.dir or an ancestor of it: clear wipes
//     part of the work folder.
//   - A PostGIS request on a non-postgres backend is a warning: the spatial
//     index is simply not built.
func Validate(cfg Config) []Issue {
	var issues []Issue
	add := func(sev Severity, path, format string, a ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	if strings.TrimSpace(cfg.Source.Dir) == "" {
		add(SeverityError, "source.dir", "must be set")
	} else if fi, err := os.Stat(cfg.Source.Dir); err != nil {
		add(SeverityError, "source.dir", "%v", err)
	} else if !fi.IsDir() {
		add(SeverityError, "source.dir", "%q is not a directory", cfg.Source.Dir)
	}
	for i, rel := range cfg.Source.ImportRelations {
		if strings.TrimSpace(rel) == "" {
			add(SeverityError, fmt.Sprintf("source.import_relations[%d]", i), "must not be empty")
		}
	}

	if strings.TrimSpace(cfg.Work.Dir) == "" {
		add(SeverityError, "work.dir", "must be set")
	} else if cfg.Source.Dir != "" && contains(cfg.Work.Dir, cfg.Source.Dir) {
		add(SeverityError, "work.dir", "%q must not be source.dir or one of its parents", cfg.Work.Dir)
	}

	if !slices.Contains(knownStorageKinds, cfg.Storage.Kind) {
		add(SeverityError, "storage.kind", "unknown backend %q (want one of %s)", cfg.Storage.Kind, strings.Join(knownStorageKinds, ", "))
	}
	if strings.TrimSpace(cfg.Storage.DSN) == "" {
		add(SeverityError, "storage.dsn", "must be set")
	}
	if cfg.Storage.MaxConns < 0 {
		add(SeverityError, "storage.max_conns", "must not be negative")
	}

	switch cfg.Load.Layout {
	case LayoutSingle, LayoutSplit:
	default:
		add(SeverityError, "load.layout", "must be %q or %q, got %q", LayoutSingle, LayoutSplit, cfg.Load.Layout)
	}
	if cfg.Load.BatchSize <= 0 {
		add(SeverityError, "load.batch_size", "must be positive")
	}
	if cfg.Load.MaxFieldLength < minFieldLength {
		add(SeverityError, "load.max_field_length", "must be at least %d", minFieldLength)
	}
	if cfg.Load.AuxBatchSize < 0 {
		add(SeverityError, "load.aux_batch_size", "must not be negative")
	}
	if cfg.Load.TestMode && cfg.Load.TestRowLimit <= 0 {
		add(SeverityError, "load.test_row_limit", "must be positive in test mode")
	}
	if !cfg.Load.TestMode && cfg.Load.TestRowLimit > 0 && cfg.Load.TestRowLimit != Default().Load.TestRowLimit {
		add(SeverityWarning, "load.test_row_limit", "ignored unless load.test_mode is set")
	}

	if cfg.Index.Concurrency <= 0 {
		add(SeverityError, "index.concurrency", "must be positive")
	}
	if cfg.Index.WaitTimeout <= 0 {
		add(SeverityError, "index.wait_timeout", "must be positive")
	}
	if cfg.Index.PostGIS && cfg.Storage.Kind != "postgres" {
		add(SeverityWarning, "index.postgis", "only supported on postgres; spatial indexes will be skipped")
	}
	if cfg.Index.FullTextRelation == "" && cfg.Load.Layout == LayoutSplit {
		add(SeverityWarning, "index.full_text_relation", "empty; no arg1 full-text index will be built")
	}

	switch cfg.Metrics.Backend {
	case "", MetricsNone, MetricsDatadog:
	case MetricsPushgateway:
		if cfg.Metrics.PushgatewayURL == "" {
			add(SeverityError, "metrics.pushgateway_url", "must be set for the pushgateway backend")
		}
	default:
		add(SeverityWarning, "metrics.backend", "unknown backend %q; metrics disabled", cfg.Metrics.Backend)
	}

	switch strings.ToLower(cfg.Log.Format) {
	case "", "text", "json":
	default:
		add(SeverityWarning, "log.format", "unknown format %q; using text", cfg.Log.Format)
	}

	return issues
}

// HasErrors reports whether issues contains at least one error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// contains reports whether dir is path itself or one of its ancestors.
func contains(dir, path string) bool {
	d, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	p, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(d, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
