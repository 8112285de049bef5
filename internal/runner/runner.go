// Package runner assembles one monitoring run: grouping, scheduling and
// event delivery.
package runner

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/umarmf343/rankbeam/internal/monitor"
	"github.com/umarmf343/rankbeam/internal/scraper"
)

// Runner holds the collaborators shared by every run.
type Runner struct {
	Options   monitor.Options
	Open      monitor.SessionFactory
	Lookup    monitor.MarketplaceLookup
	Extractor monitor.SlotExtractor
	// Sinks receive the events of every run in addition to the per-run output.
	Sinks  []monitor.Sink
	Logger *slog.Logger

	newID func() string
}

// New returns a runner over the built-in marketplace catalogue and extractor.
func New(opts monitor.Options, open monitor.SessionFactory, logger *slog.Logger, sinks ...monitor.Sink) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		Options:   opts,
		Open:      open,
		Lookup:    scraper.LookupMarketplace,
		Extractor: scraper.NewExtractor(),
		Sinks:     sinks,
		Logger:    logger,
	}
}

// Run checks every request and streams its events to out. It returns the run
// ID and the context error if the run was cut short. A batch rejected by
// monitor.ValidateRequests produces no events.
func (r *Runner) Run(ctx context.Context, requests []monitor.MonitoringRequest, out monitor.Sink) (string, error) {
	if err := monitor.ValidateRequests(requests); err != nil {
		return "", err
	}
	runID := r.runID()
	logger := r.Logger.With("run_id", runID)

	sinks := make([]monitor.Sink, 0, len(r.Sinks)+1)
	if out != nil {
		sinks = append(sinks, out)
	}
	sinks = append(sinks, r.Sinks...)

	batch := monitor.Group(requests, scraper.CanonicalCode)
	queries := 0
	for _, cg := range batch.Countries {
		queries += len(cg.Queries)
	}
	logger.Info("monitoring run started", "requests", batch.Total(), "countries", len(batch.Countries), "queries", queries)

	agg := monitor.NewAggregator(runID, logger, sinks...)
	sched := monitor.NewScheduler(r.Options, r.Lookup, r.Open, r.Extractor, agg, logger)
	err := sched.Run(ctx, batch)
	if err != nil {
		logger.Warn("monitoring run interrupted", "error", err)
	} else {
		logger.Info("monitoring run finished")
	}
	return runID, err
}

func (r *Runner) runID() string {
	if r.newID != nil {
		return r.newID()
	}
	return uuid.NewString()
}
