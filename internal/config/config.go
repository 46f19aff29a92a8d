// Package config defines the spotlx job configuration, its defaults and its
// validation.
//
// The CLI decodes the configuration with viper (file, then SPOTLX_* env, then
// flags) into Config through the mapstructure tags; the json tags describe the
// same document for JSON config files and for printing.
package config

import (
	"time"
)

// Storage layouts.
const (
	// LayoutSingle loads every relation into one relationalfacts table.
	LayoutSingle = "single"
	// LayoutSplit loads every relation into a table named after it.
	LayoutSplit = "split"
)

// Metrics backends.
const (
	MetricsNone        = "none"
	MetricsPushgateway = "pushgateway"
	MetricsDatadog     = "datadog"
)

// Config is one spotlx job.
type Config struct {
	Job     string  `json:"job" mapstructure:"job"`
	Source  Source  `json:"source" mapstructure:"source"`
	Work    Work    `json:"work" mapstructure:"work"`
	Storage Storage `json:"storage" mapstructure:"storage"`
	Load    Load    `json:"load" mapstructure:"load"`
	Index   Index   `json:"index" mapstructure:"index"`
	Metrics Metrics `json:"metrics" mapstructure:"metrics"`
	Log     Log     `json:"log" mapstructure:"log"`
}

// Source describes the folder of <relation>.tsv fact files.
type Source struct {
	Dir string `json:"dir" mapstructure:"dir"`

	// ImportRelations restricts loading to these relations when non-empty.
	ImportRelations []string `json:"import_relations" mapstructure:"import_relations"`

	// IncludeTransitive loads <rel>_transitive.tsv as <rel>.
	IncludeTransitive bool `json:"include_transitive" mapstructure:"include_transitive"`

	// IncludeTypeStar loads type_star.tsv as type.
	IncludeTypeStar bool `json:"include_type_star" mapstructure:"include_type_star"`
}

// Work is the scratch folder holding the auxiliary indexes.
type Work struct {
	Dir string `json:"dir" mapstructure:"dir"`
}

// Storage selects the target store.
type Storage struct {
	// Kind is a registered backend: "postgres", "sqlite" or "mssql".
	Kind string `json:"kind" mapstructure:"kind"`
	// DSN may reference environment variables as ${VAR}.
	DSN      string `json:"dsn" mapstructure:"dsn"`
	MaxConns int    `json:"max_conns" mapstructure:"max_conns"`
}

// Load controls the join and load pass.
type Load struct {
	Layout         string `json:"layout" mapstructure:"layout"`
	BatchSize      int    `json:"batch_size" mapstructure:"batch_size"`
	MaxFieldLength int    `json:"max_field_length" mapstructure:"max_field_length"`
	GlossRelation  string `json:"gloss_relation" mapstructure:"gloss_relation"`

	// AuxBatchSize is the number of side-relation lines per bbolt commit.
	AuxBatchSize int `json:"aux_batch_size" mapstructure:"aux_batch_size"`

	// TestMode caps every file scan at TestRowLimit lines.
	TestMode     bool `json:"test_mode" mapstructure:"test_mode"`
	TestRowLimit int  `json:"test_row_limit" mapstructure:"test_row_limit"`
}

// Index controls statistics and index building.
type Index struct {
	Concurrency      int           `json:"concurrency" mapstructure:"concurrency"`
	WaitTimeout      time.Duration `json:"wait_timeout" mapstructure:"wait_timeout"`
	PostGIS          bool          `json:"postgis" mapstructure:"postgis"`
	FullTextRelation string        `json:"full_text_relation" mapstructure:"full_text_relation"`
}

// Metrics selects the metrics backend.
type Metrics struct {
	Backend        string        `json:"backend" mapstructure:"backend"`
	PushgatewayURL string        `json:"pushgateway_url" mapstructure:"pushgateway_url"`
	Tags           string        `json:"tags" mapstructure:"tags"`
	FlushEvery     time.Duration `json:"flush_every" mapstructure:"flush_every"`
}

// Log configures internal/logging.
type Log struct {
	Level  string `json:"level" mapstructure:"level"`
	Format string `json:"format" mapstructure:"format"`
}

// Default returns a configuration with every optional value filled in. Paths
// and the DSN are left empty.
func Default() Config {
	return Config{
		Job: "spotlx",
		Storage: Storage{
			Kind:     "postgres",
			MaxConns: 8,
		},
		Load: Load{
			Layout:         LayoutSingle,
			BatchSize:      1000,
			MaxFieldLength: 255,
			GlossRelation:  "hasGloss",
			AuxBatchSize:   10000,
			TestRowLimit:   100,
		},
		Index: Index{
			Concurrency:      4,
			WaitTimeout:      14 * 24 * time.Hour,
			FullTextRelation: "means",
		},
		Metrics: Metrics{
			Backend:        MetricsNone,
			PushgatewayURL: "http://localhost:9091",
			FlushEvery:     60 * time.Second,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// ScanLimit is the per-file line cap implied by test mode; 0 means no cap.
func (c Config) ScanLimit() int {
	if !c.Load.TestMode {
		return 0
	}
	return c.Load.TestRowLimit
}
