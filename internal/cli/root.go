// Package cli implements the spotlx command line.
//
// Configuration hierarchy (highest to lowest priority):
//  1. CLI flags
//  2. Environment variables (SPOTLX_*, e.g. SPOTLX_STORAGE_DSN)
//  3. Config file (--config, or ./spotlx.yaml)
//  4. config.Default()
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"spotlx/internal/config"

	// register all backends with the storage factory.
	_ "spotlx/internal/storage/all"
)

var (
	cfgFile string
	noColor bool

	vp = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "spotlx",
	Short: "Load YAGO/SPOTLX fact files into a relational store",
	Long: `spotlx turns the reified facts of a YAGO/SPOTLX dump into flat rows.

Every fact is joined with its time interval, its location and coordinates,
its witness and the context of its subject and object, then bulk loaded into
PostgreSQL, SQLite or SQL Server. Interrupted loads resume where they stopped.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: ./spotlx.yaml)")
	pf.BoolVar(&noColor, "no-color", false, "disable colored output")
	pf.String("log-level", "", "log level: debug, info, warn, error")
	pf.String("log-format", "", "log format: text or json")
	pf.String("metrics-backend", "", "metrics backend: none, pushgateway or datadog")

	_ = vp.BindPFlag("log.level", pf.Lookup("log-level"))
	_ = vp.BindPFlag("log.format", pf.Lookup("log-format"))
	_ = vp.BindPFlag("metrics.backend", pf.Lookup("metrics-backend"))

	rootCmd.AddCommand(loadCmd, indexesCmd, clearCmd, validateCmd, configCmd, dateCmd)
}

// initConfig reads in the config file and SPOTLX_* variables.
func initConfig() {
	color.NoColor = color.NoColor || noColor

	if err := readConfig(vp, cfgFile); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
	}
}

// readConfig prepares v: defaults, environment binding and the optional
// config file.
//
// Errors:
//   - An explicit path that cannot be read is an error.
//   - A missing ./spotlx.yaml is not.
func readConfig(v *viper.Viper, path string) error {
	setDefaults(v)

	v.SetEnvPrefix("SPOTLX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("spotlx")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && path == "" {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

// setDefaults registers every key so environment variables can override keys
// no config file mentions.
func setDefaults(v *viper.Viper) {
	d := config.Default()

	v.SetDefault("job", d.Job)

	v.SetDefault("source.dir", d.Source.Dir)
	v.SetDefault("source.import_relations", []string{})
	v.SetDefault("source.include_transitive", d.Source.IncludeTransitive)
	v.SetDefault("source.include_type_star", d.Source.IncludeTypeStar)

	v.SetDefault("work.dir", d.Work.Dir)

	v.SetDefault("storage.kind", d.Storage.Kind)
	v.SetDefault("storage.dsn", d.Storage.DSN)
	v.SetDefault("storage.max_conns", d.Storage.MaxConns)

	v.SetDefault("load.layout", d.Load.Layout)
	v.SetDefault("load.batch_size", d.Load.BatchSize)
	v.SetDefault("load.max_field_length", d.Load.MaxFieldLength)
	v.SetDefault("load.gloss_relation", d.Load.GlossRelation)
	v.SetDefault("load.aux_batch_size", d.Load.AuxBatchSize)
	v.SetDefault("load.test_mode", d.Load.TestMode)
	v.SetDefault("load.test_row_limit", d.Load.TestRowLimit)

	v.SetDefault("index.concurrency", d.Index.Concurrency)
	v.SetDefault("index.wait_timeout", d.Index.WaitTimeout)
	v.SetDefault("index.postgis", d.Index.PostGIS)
	v.SetDefault("index.full_text_relation", d.Index.FullTextRelation)

	v.SetDefault("metrics.backend", d.Metrics.Backend)
	v.SetDefault("metrics.pushgateway_url", d.Metrics.PushgatewayURL)
	v.SetDefault("metrics.tags", d.Metrics.Tags)
	v.SetDefault("metrics.flush_every", d.Metrics.FlushEvery)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// loadConfig decodes the merged settings of v.
func loadConfig(v *viper.Viper) (config.Config, error) {
	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}
