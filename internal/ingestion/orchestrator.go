package ingestion

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rohankatakam/dashi/internal/checkpoint"
	"github.com/rohankatakam/dashi/internal/collate"
	"github.com/rohankatakam/dashi/internal/diagnostics"
	"github.com/rohankatakam/dashi/internal/models"
	"github.com/rohankatakam/dashi/internal/storage"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Policy decides what a failed fetch does to the run
type Policy string

const (
	// PolicyFail aborts the run on the first failed fetch
	PolicyFail Policy = "fail"
	// PolicyContinue records the failure and leaves the source out
	PolicyContinue Policy = "continue"
)

// Options configures an Orchestrator
type Options struct {
	Policy      Policy
	Concurrency int                    // 0 = one goroutine per source
	Store       storage.Store          // optional
	Diagnostics *diagnostics.Collector // optional; one is created when nil
	Logger      *logrus.Logger
}

// Orchestrator fetches every source concurrently and collates the results
type Orchestrator struct {
	sources     []Source
	policy      Policy
	concurrency int
	store       storage.Store
	diag        *diagnostics.Collector
	collator    *collate.Collator
	logger      *logrus.Logger
	now         func() time.Time
}

// NewOrchestrator creates a new ingestion orchestrator
func NewOrchestrator(sources []Source, opts Options) *Orchestrator {
	if opts.Policy == "" {
		opts.Policy = PolicyFail
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.Diagnostics == nil {
		opts.Diagnostics = diagnostics.NewCollector(opts.Logger)
	}

	return &Orchestrator{
		sources:     sources,
		policy:      opts.Policy,
		concurrency: opts.Concurrency,
		store:       opts.Store,
		diag:        opts.Diagnostics,
		collator:    collate.NewCollator(opts.Diagnostics),
		logger:      opts.Logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Report is the outcome of one run
type Report struct {
	Result      *models.AggregateResult  `json:"result"`
	Periods     []models.PeriodStats     `json:"periods"`
	Fetched     map[string]int           `json:"fetched"`
	Skipped     []string                 `json:"skipped,omitempty"`
	Diagnostics []diagnostics.Diagnostic `json:"-"`
	Duration    time.Duration            `json:"duration"`
}

// GatherAll fetches every source at once and returns its events keyed by
// source name, restricted to [since, until). Fetches share no mutable
// state; each writes only its own slot. Under PolicyFail the first failure
// cancels the others and is returned as "fetch <name>: <cause>". Under
// PolicyContinue a failed source is recorded as a diagnostic and left out.
// A cancelled ctx discards everything fetched so far.
func (o *Orchestrator) GatherAll(ctx context.Context, since, until time.Time) (map[string][]models.Event, error) {
	results := make([][]models.Event, len(o.sources))
	fetched := make([]bool, len(o.sources))

	g, gctx := errgroup.WithContext(ctx)
	if o.concurrency > 0 {
		g.SetLimit(o.concurrency)
	}

	for i, src := range o.sources {
		g.Go(func() error {
			start := time.Now()
			events, err := src.Fetch(gctx, since, until)
			if err != nil {
				if o.policy == PolicyContinue && ctx.Err() == nil {
					o.diag.Record(diagnostics.Diagnostic{
						Kind:    diagnostics.KindFetchSkipped,
						Source:  src.Name(),
						Message: "Fetch failed, continuing without this source",
						Fields:  logrus.Fields{"error": err.Error()},
					})
					return nil
				}
				return fmt.Errorf("fetch %s: %w", src.Name(), err)
			}

			results[i] = filterRange(events, since, until)
			fetched[i] = true

			o.logger.WithFields(logrus.Fields{
				"source":   src.Name(),
				"events":   len(results[i]),
				"duration": time.Since(start).String(),
			}).Info("Fetched source")
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	byName := make(map[string][]models.Event, len(o.sources))
	for i, src := range o.sources {
		if fetched[i] {
			byName[src.Name()] = append(byName[src.Name()], results[i]...)
		}
	}
	return byName, nil
}

// Run gathers every source, collates the events once and computes weekly
// period stats from since's week through until (or now). Results are
// persisted when a store is configured.
func (o *Orchestrator) Run(ctx context.Context, users []models.User, since, until time.Time) (*Report, error) {
	startTime := time.Now()
	o.logger.WithFields(logrus.Fields{
		"sources": len(o.sources),
		"since":   since,
		"until":   until,
		"policy":  o.policy,
	}).Info("Starting run")

	byName, err := o.GatherAll(ctx, since, until)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	report := &Report{Fetched: make(map[string]int, len(names))}
	var events []models.Event
	for _, name := range names {
		events = append(events, byName[name]...)
		report.Fetched[name] = len(byName[name])
	}
	for _, src := range o.sources {
		if _, ok := byName[src.Name()]; !ok {
			report.Skipped = append(report.Skipped, src.Name())
		}
	}

	result, err := o.collator.Collate(users, events)
	if err != nil {
		return nil, err
	}
	report.Result = result

	end := until
	if end.IsZero() {
		end = o.now()
	}
	if !since.IsZero() {
		report.Periods = collate.Periods(result, checkpoint.Collect(since, end))
	}

	if o.store != nil {
		if err := o.store.SaveEvents(ctx, events); err != nil {
			return nil, fmt.Errorf("save events: %w", err)
		}
		if err := o.store.SaveRun(ctx, result); err != nil {
			return nil, fmt.Errorf("save run: %w", err)
		}
	}

	report.Diagnostics = o.diag.Diagnostics()
	report.Duration = time.Since(startTime)

	o.logger.WithFields(logrus.Fields{
		"run_id":       result.RunID,
		"events":       result.Total,
		"unrecognized": len(result.Unrecognized),
		"skipped":      len(report.Skipped),
		"duration":     report.Duration.String(),
	}).Info("Run completed")

	return report, nil
}
