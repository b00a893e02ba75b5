package main

import (
	"os"
	"time"

	"github.com/rohankatakam/dashi/internal/checkpoint"
	"github.com/rohankatakam/dashi/internal/config"
	"github.com/spf13/cobra"
)

var checkpointsSince string

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "List the weekly windows from since through now",
	Long: `List every reporting window from the week containing --since through the
current week. Windows start on Monday at 00:00:00.000001 UTC and last seven days.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		start, err := startTime(checkpointsSince)
		if err != nil {
			return err
		}
		printWindows(os.Stdout, checkpoint.Since(start))
		return nil
	},
}

func init() {
	checkpointsCmd.Flags().StringVar(&checkpointsSince, "since", "", "first week, YYYY-MM-DD (default: config since)")
}

// startTime is the --since flag when set, else the configured since
func startTime(flag string) (time.Time, error) {
	if flag != "" {
		return config.ParseDate(flag)
	}
	return cfg.SinceTime()
}
