package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"spotlx/internal/logging"
	"spotlx/internal/multitable"
	"spotlx/internal/progress"
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Join and load every fact file, then build indexes",
	Long: `Load builds the auxiliary indexes from the side relations, streams every
fact file through the joiner into its table and finally builds the index
catalog. A load interrupted at any point resumes on the next run.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJob(cmd, multitable.ModeLoad, nil)
	},
}

var indexesCmd = &cobra.Command{
	Use:   "indexes",
	Short: "Refresh statistics and build the index catalog of loaded tables",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJob(cmd, multitable.ModeIndexes, nil)
	},
}

var clearYes bool

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every table the job created and wipe the work folder",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm := promptConfirmer(cmd.InOrStdin(), cmd.ErrOrStderr())
		if clearYes {
			confirm = func([]string) bool { return true }
		}
		return runJob(cmd, multitable.ModeClear, confirm)
	},
}

func init() {
	lf := loadCmd.Flags()
	lf.String("layout", "", "storage layout: single or split")
	lf.Bool("test-mode", false, "load at most load.test_row_limit lines per file")
	_ = vp.BindPFlag("load.layout", lf.Lookup("layout"))
	_ = vp.BindPFlag("load.test_mode", lf.Lookup("test-mode"))

	clearCmd.Flags().BoolVar(&clearYes, "yes", false, "drop without asking")
}

// runJob loads the configuration, wires logging and metrics and runs mode.
func runJob(cmd *cobra.Command, mode multitable.Mode, confirm progress.Confirmer) error {
	cfg, err := loadConfig(vp)
	if err != nil {
		return err
	}

	log := logging.Setup(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	log, runID := logging.WithRun(log)

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	closeMetrics := setupMetrics(ctx, cfg, runID, log)
	defer closeMetrics()

	start := time.Now()
	r := multitable.NewDefaultRunner(log, confirm)
	res, err := r.Run(ctx, cfg, mode)
	if errors.Is(err, progress.ErrNotConfirmed) {
		Infof(cmd.OutOrStdout(), "nothing dropped")
		return nil
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			Warningf(cmd.ErrOrStderr(), "%s interrupted; rerun to resume", mode)
		}
		return err
	}

	printResult(cmd.OutOrStdout(), mode, res, time.Since(start))
	return nil
}

func printResult(w io.Writer, mode multitable.Mode, res multitable.Result, took time.Duration) {
	switch mode {
	case multitable.ModeLoad:
		s := res.Summary
		Successf(w, "loaded %s facts from %d files in %s",
			humanize.Comma(s.Loaded), s.Files, took.Truncate(time.Second))
		if s.FilesSkipped > 0 {
			Infof(w, "%d files were already loaded", s.FilesSkipped)
		}
		if s.Malformed > 0 || s.Oversized > 0 {
			Warningf(w, "skipped %s malformed and %s oversized facts",
				humanize.Comma(s.Malformed), humanize.Comma(s.Oversized))
		}
	case multitable.ModeClear:
		if len(res.Cleared) == 0 {
			Infof(w, "nothing dropped")
			return
		}
		Successf(w, "dropped %d tables", len(res.Cleared))
		return
	}

	for _, r := range res.Indexes {
		line := fmt.Sprintf("%s: %d built, %d skipped", r.Table, r.Built, r.Skipped)
		if r.Failed > 0 || r.TimedOut > 0 {
			Warningf(w, "%s, %d failed, %d timed out", line, r.Failed, r.TimedOut)
			continue
		}
		Infof(w, "%s in %s", line, r.Duration.Truncate(time.Millisecond))
	}
}
