package main

import (
	"fmt"
	"os"

	"github.com/rohankatakam/dashi/internal/config"
	"github.com/rohankatakam/dashi/internal/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	cfgFile string
	verbose bool
	logger  *logrus.Logger
	logs    *logging.Logger
	cfg     *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprint(os.Stderr, renderError(err, verbose))
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dashi",
	Short: "dashi - who did what, week by week",
	Long: `dashi gathers commits, resolved issues and builds from local git
repositories, Bitbucket, GitHub, Jira and Jenkins, attributes each one to a
known user and reports everyone's share of the activity per week.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}

		if verbose {
			cfg.Log.Level = "debug"
		}
		// stdout carries reports and JSON; logs go to stderr
		logs, err = logging.New(cfg.Log, os.Stderr)
		if err != nil {
			return err
		}
		logger = logs.Logger

		creds := config.NewCredentialManager(config.DefaultCredentialsPath(), logger)
		if err := creds.Apply(cfg); err != nil {
			logger.WithError(err).Warn("Failed to load credentials")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logs != nil {
			logs.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .dashi/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.SetVersionTemplate(`dashi {{.Version}}
Build time: ` + BuildTime + `
Git commit: ` + GitCommit + `
`)

	rootCmd.AddCommand(gatherCmd)
	rootCmd.AddCommand(checkpointsCmd)
	rootCmd.AddCommand(periodsCmd)
	rootCmd.AddCommand(authorsCmd)
	rootCmd.AddCommand(loginCmd)
}
