package consistency

import (
	"context"
	"errors"
	"log/slog"

	"github.com/tesouraria-igreja/tesouraria/internal/shared"
)

// ErrNoRuns is returned when no scan has been stored yet.
var ErrNoRuns = errors.New("consistency: no runs")

// Checker runs scans and keeps their results.
type Checker struct {
	repo   Repository
	clock  shared.Clock
	logger *slog.Logger
	opts   Options
}

// NewChecker wires a Checker. Zero options fall back to DefaultOptions.
func NewChecker(repo Repository, clock shared.Clock, logger *slog.Logger, opts Options) *Checker {
	defaults := DefaultOptions()
	if opts.WindowMonths <= 0 {
		opts.WindowMonths = defaults.WindowMonths
	}
	if opts.DuplicateWindowDays <= 0 {
		opts.DuplicateWindowDays = defaults.DuplicateWindowDays
	}
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{repo: repo, clock: clock, logger: logger, opts: opts}
}

// Run loads the snapshot window, checks it and stores the result.
// Only infrastructure failures are returned as errors.
func (c *Checker) Run(ctx context.Context, actorID int64) (Run, error) {
	started := c.clock.Now()
	since := shared.DateOnly(started).AddDate(0, -c.opts.WindowMonths, 0)
	snap, err := c.repo.LoadSnapshot(ctx, since)
	if err != nil {
		return Run{}, shared.Persistence("consistency: load snapshot", err)
	}
	findings := Check(snap, c.opts)
	if findings == nil {
		findings = []Finding{}
	}
	run := Run{
		StartedAt:   started,
		FinishedAt:  c.clock.Now(),
		TriggeredBy: actorID,
		Counts:      CountFindings(findings),
		Findings:    findings,
	}
	run, err = c.repo.SaveRun(ctx, run)
	if err != nil {
		return Run{}, shared.Persistence("consistency: save run", err)
	}
	c.logger.Info("consistency scan finished",
		slog.Int64("run_id", run.ID),
		slog.Int("critical", run.Counts.Critical),
		slog.Int("warning", run.Counts.Warning),
		slog.Int("info", run.Counts.Info))
	return run, nil
}

// Latest returns the most recent stored run.
func (c *Checker) Latest(ctx context.Context) (Run, error) {
	return c.repo.LatestRun(ctx)
}
