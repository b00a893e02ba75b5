package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rohankatakam/dashi/internal/archive"
	"github.com/rohankatakam/dashi/internal/ingestion"
	"github.com/rohankatakam/dashi/internal/remote"
	"github.com/rohankatakam/dashi/internal/storage"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	gatherJSON        bool
	gatherSince       string
	gatherUntil       string
	gatherPolicy      string
	gatherConcurrency int
	gatherNoStore     bool
)

var gatherCmd = &cobra.Command{
	Use:   "gather",
	Short: "Fetch every configured source and report each user's share",
	Long: `Fetch commits, resolved issues and builds from every configured repository
at once, attribute them to users and print each user's share of the activity
together with per-week counts.

Events whose author matches no user are reported as warnings and left out of
the percentages. Any other failure aborts the run, unless --policy=continue
is given, in which case the failing source is skipped.`,
	Example: `  dashi gather
  dashi gather --since 2015-01-01 --until 2015-04-01
  dashi gather --policy continue --json > report.json`,
	RunE: runGather,
}

func init() {
	gatherCmd.Flags().BoolVar(&gatherJSON, "json", false, "print the report as JSON")
	gatherCmd.Flags().StringVar(&gatherSince, "since", "", "start of the range, YYYY-MM-DD or RFC 3339 (default: config since)")
	gatherCmd.Flags().StringVar(&gatherUntil, "until", "", "exclusive end of the range (default: now)")
	gatherCmd.Flags().StringVar(&gatherPolicy, "policy", "", "on a failed fetch: fail or continue (default: config policy)")
	gatherCmd.Flags().IntVar(&gatherConcurrency, "concurrency", -1, "sources fetched at once, 0 = all")
	gatherCmd.Flags().BoolVar(&gatherNoStore, "no-store", false, "do not persist events and the run")
}

func runGather(cmd *cobra.Command, args []string) error {
	if gatherSince != "" {
		cfg.Since = gatherSince
	}
	if gatherUntil != "" {
		cfg.Until = gatherUntil
	}
	if gatherPolicy != "" {
		cfg.Policy = gatherPolicy
	}
	if gatherConcurrency >= 0 {
		cfg.Concurrency = gatherConcurrency
	}

	result := cfg.Validate()
	for _, w := range result.Warnings {
		logger.Warn(w)
	}
	if err := result.Err(); err != nil {
		return err
	}

	since, err := cfg.SinceTime()
	if err != nil {
		return err
	}
	until, err := cfg.UntilTime()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store storage.Store
	if cfg.Storage.Enabled && !gatherNoStore {
		s, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer s.Close()
		store = s
	}

	var recorder remote.PageRecorder
	if cfg.Archive.Enabled {
		a, err := archive.Open(cfg.Archive.Path)
		if err != nil {
			return err
		}
		defer a.Close()
		recorder = a
	}

	deps, err := ingestion.NewDeps(cfg, logger, recorder)
	if err != nil {
		return err
	}
	sources, err := ingestion.NewSources(cfg.Repositories, deps)
	if err != nil {
		return err
	}

	orchestrator := ingestion.NewOrchestrator(sources, ingestion.Options{
		Policy:      ingestion.Policy(cfg.Policy),
		Concurrency: cfg.Concurrency,
		Store:       store,
		Logger:      logger,
	})

	report, err := orchestrator.Run(ctx, cfg.Users, since, until)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"run_id":      report.Result.RunID,
		"diagnostics": len(report.Diagnostics),
	}).Debug("Rendering report")

	if gatherJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	printReport(os.Stdout, report, cfg.Users)
	return nil
}
