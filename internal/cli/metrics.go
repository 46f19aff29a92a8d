package cli

import (
	"context"
	"log/slog"

	"spotlx/internal/config"
	"spotlx/internal/metrics"
	"spotlx/internal/metrics/datadog"
	"spotlx/internal/metrics/prompush"
)

// setupMetrics installs the configured metrics backend and returns the
// function that flushes it at shutdown. A backend that fails to initialize
// leaves the nop backend in place.
func setupMetrics(ctx context.Context, cfg config.Config, runID string, log *slog.Logger) func() {
	nop := func() {}

	switch cfg.Metrics.Backend {
	case config.MetricsPushgateway:
		b, err := prompush.NewBackend(cfg.Job, cfg.Metrics.PushgatewayURL, runID)
		if err != nil {
			log.Warn("metrics: failed to init prom push backend; using nop", "err", err)
			return nop
		}
		log.Info("metrics", "backend", cfg.Metrics.Backend, "url", cfg.Metrics.PushgatewayURL, "job_name", cfg.Job)
		metrics.SetBackend(b)
		return func() {
			if err := metrics.Flush(); err != nil {
				log.Warn("metrics: flush error", "err", err)
			}
			metrics.SetBackend(nil)
		}

	case config.MetricsDatadog:
		// Datadog buffers and submits periodically, then once more on Close, so
		// a multi-day load shows up as a time series.
		tags := datadog.ParseTagsCSV(cfg.Metrics.Tags)
		b, err := datadog.NewBackend(ctx, datadog.Options{
			JobName:    cfg.Job,
			RunID:      runID,
			Tags:       tags,
			FlushEvery: cfg.Metrics.FlushEvery,
		})
		if err != nil {
			log.Warn("metrics: failed to init datadog backend; using nop", "err", err)
			return nop
		}
		log.Info("metrics", "backend", cfg.Metrics.Backend, "job_name", cfg.Job, "tags", tags)
		metrics.SetBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				log.Warn("metrics: datadog close/flush error", "err", err)
			}
			metrics.SetBackend(nil)
		}

	case "", config.MetricsNone:
		log.Debug("metrics: disabled", "backend", cfg.Metrics.Backend)

	default:
		log.Warn("metrics: unknown backend; metrics disabled", "backend", cfg.Metrics.Backend)
	}
	return nop
}
