// Package monitor runs the pipeline on a cron schedule for unattended
// operation, plus a periodic state-pruning job.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Coderopp/vc-thesis-scraper/internal/config"
	"github.com/Coderopp/vc-thesis-scraper/internal/pipeline"
	"github.com/Coderopp/vc-thesis-scraper/internal/state"
)

// Runner executes one scheduled scrape.
type Runner interface {
	Run(ctx context.Context, opts pipeline.Options) (_ *RunSummary, err error)
}

// RunSummary is the slice of the pipeline report the monitor logs.
type RunSummary struct {
	Records int
	Firms   int
}

// pipelineRunner adapts *pipeline.Pipeline to the Runner interface.
type pipelineRunner struct {
	p *pipeline.Pipeline
}

func (r pipelineRunner) Run(ctx context.Context, opts pipeline.Options) (*RunSummary, error) {
	report, err := r.p.Run(ctx, opts)
	if report == nil {
		return nil, err
	}
	return &RunSummary{Records: len(report.Records), Firms: len(report.Firms)}, err
}

// Monitor owns the cron scheduler. Scheduled runs are always incremental:
// the whole point of monitoring is catching new articles.
type Monitor struct {
	cfg    config.MonitorConfig
	runner Runner
	seen   *state.Store
	prune  int
	logger *slog.Logger
	cron   *cron.Cron
}

// New builds a monitor around a fully constructed pipeline.
func New(cfg config.Config, p *pipeline.Pipeline, seen *state.Store, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:    cfg.Monitor,
		runner: pipelineRunner{p: p},
		seen:   seen,
		prune:  cfg.State.RetentionDays,
		logger: logger,
	}
}

// Start registers the jobs and blocks until ctx is cancelled. The running
// job is finished before Start returns.
func (m *Monitor) Start(ctx context.Context, opts pipeline.Options) error {
	opts.Incremental = true

	c := cron.New()
	_, err := c.AddFunc(m.cfg.Schedule, func() { m.runOnce(ctx, opts) })
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", m.cfg.Schedule, err)
	}
	if m.cfg.PruneSchedule != "" && m.seen != nil {
		_, err = c.AddFunc(m.cfg.PruneSchedule, m.pruneState)
		if err != nil {
			return fmt.Errorf("invalid prune schedule %q: %w", m.cfg.PruneSchedule, err)
		}
	}
	m.cron = c

	m.logger.Info("monitor started", "schedule", m.cfg.Schedule)
	c.Start()

	<-ctx.Done()
	stopped := c.Stop()
	<-stopped.Done()
	m.logger.Info("monitor stopped")
	return nil
}

func (m *Monitor) runOnce(ctx context.Context, opts pipeline.Options) {
	started := time.Now()
	m.logger.Info("scheduled run starting")

	summary, err := m.runner.Run(ctx, opts)
	if err != nil {
		m.logger.Error("scheduled run failed", "error", err)
		return
	}
	m.logger.Info("scheduled run finished",
		"new_records", summary.Records,
		"firms", summary.Firms,
		"duration", time.Since(started).Round(time.Second).String(),
	)
}

func (m *Monitor) pruneState() {
	removed := m.seen.Prune(time.Duration(m.prune) * 24 * time.Hour)
	if err := m.seen.Save(); err != nil {
		m.logger.Error("state save after prune failed", "error", err)
		return
	}
	m.logger.Info("state pruned", "removed", removed, "retention_days", m.prune)
}
