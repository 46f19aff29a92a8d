package multitable

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"spotlx/internal/config"
	"spotlx/internal/indexer"
	"spotlx/internal/progress"
	"spotlx/internal/storage"
)

// Mode selects what a Runner does.
type Mode int

const (
	// ModeLoad runs the full job.
	ModeLoad Mode = iota
	// ModeIndexes only refreshes statistics and builds indexes.
	ModeIndexes
	// ModeClear drops everything the job created.
	ModeClear
)

func (m Mode) String() string {
	switch m {
	case ModeLoad:
		return "load"
	case ModeIndexes:
		return "indexes"
	case ModeClear:
		return "clear"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Result is what a Runner reports back to the CLI.
type Result struct {
	Summary Summary
	Indexes []indexer.Report
	Cleared []string
}

// Runner validates a Config, opens the target store and runs an Engine.
type Runner struct {
	// storage-agnostic factory seam
	Open func(ctx context.Context, cfg storage.Config, log *slog.Logger) (*storage.Managed, error)

	Log     *slog.Logger
	Confirm progress.Confirmer

	// Stream is passed through to the Engine.
	Stream StreamFn
}

// NewDefaultRunner returns a Runner that opens registered backends.
func NewDefaultRunner(log *slog.Logger, confirm progress.Confirmer) *Runner {
	return &Runner{
		Open:    storage.Open,
		Log:     log,
		Confirm: confirm,
	}
}

// ErrInvalidConfig is returned when Validate reports at least one error.
var ErrInvalidConfig = errors.New("multitable: invalid config")

// Run executes mode for cfg.
//
// Edge cases:
//   - ${VAR} references in storage.dsn are expanded from the environment.
//   - Validation warnings are logged; errors abort before the store is opened.
func (r *Runner) Run(ctx context.Context, cfg config.Config, mode Mode) (Result, error) {
	log := r.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("job", cfg.Job, "mode", mode.String())

	var res Result
	issues := config.Validate(cfg)
	for _, iss := range issues {
		if iss.Severity == config.SeverityError {
			log.Error("invalid config", "path", iss.Path, "err", iss.Message)
		} else {
			log.Warn("config warning", "path", iss.Path, "msg", iss.Message)
		}
	}
	if config.HasErrors(issues) {
		return res, ErrInvalidConfig
	}

	open := r.Open
	if open == nil {
		open = storage.Open
	}
	m, err := open(ctx, storage.Config{
		Kind:     cfg.Storage.Kind,
		DSN:      os.ExpandEnv(cfg.Storage.DSN),
		MaxConns: cfg.Storage.MaxConns,
	}, log)
	if err != nil {
		return res, fmt.Errorf("multitable: %w", err)
	}
	defer m.Close()

	e := &Engine{
		Store:   m,
		Config:  cfg,
		Log:     log,
		Stream:  r.Stream,
		Confirm: r.Confirm,
	}

	switch mode {
	case ModeLoad:
		res.Summary, err = e.Load(ctx)
		res.Indexes = res.Summary.Indexes
	case ModeIndexes:
		res.Indexes, err = e.BuildIndexes(ctx)
	case ModeClear:
		res.Cleared, err = e.Clear(ctx)
	default:
		err = fmt.Errorf("multitable: unknown mode %v", mode)
	}
	return res, err
}
