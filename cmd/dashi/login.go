package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rohankatakam/dashi/internal/config"
	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login <service>",
	Short: "Store the secret for a remote service",
	Long: `Prompt for the password, API token or access token of a remote service and
store it in the OS keychain, or in ~/.config/dashi/credentials.yaml when no
keychain is available.

Services: ` + serviceList() + `

Secrets are looked up in this order on every run:
  1. Environment variable (DASHI_<SERVICE>_PASSWORD, DASHI_SENTRY_TOKEN, or
     DASHI_GITHUB_TOKEN / GITHUB_TOKEN)
  2. OS keychain
  3. Credentials file`,
	Args: cobra.ExactArgs(1),
	RunE: runLogin,
}

func serviceList() string {
	names := make([]string, len(config.Services))
	for i, s := range config.Services {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}

func runLogin(cmd *cobra.Command, args []string) error {
	service, err := config.ParseService(args[0])
	if err != nil {
		return err
	}

	creds := config.NewCredentialManager(config.DefaultCredentialsPath(), logger)
	where, err := creds.Prompt(service, os.Stdin, os.Stdout)
	if err != nil {
		return err
	}

	fmt.Printf("✓ %s secret saved to %s\n", service, where)
	return nil
}
