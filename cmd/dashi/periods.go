package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rohankatakam/dashi/internal/checkpoint"
	"github.com/rohankatakam/dashi/internal/collate"
	"github.com/rohankatakam/dashi/internal/identity"
	"github.com/rohankatakam/dashi/internal/models"
	"github.com/spf13/cobra"
)

var (
	periodsUser  string
	periodsSince string
)

var periodsCmd = &cobra.Command{
	Use:   "periods",
	Short: "Show a user's stored activity per week",
	Long: `Show, for every week since --since, how many stored events belong to the
given user, how many were stored in total and, per Jenkins job, the highest
test count any build reported that week. Reads the event store filled by
'dashi gather'; nothing is fetched.

Stored authors are attributed the way gather attributes them: an author
belongs to the user when it is part of exactly one configured user's alias.`,
	Example: `  dashi periods --user Alice
  dashi periods --user Alice --since 2015-03-01`,
	RunE: runPeriods,
}

func init() {
	periodsCmd.Flags().StringVarP(&periodsUser, "user", "u", "", "configured user name (required)")
	periodsCmd.Flags().StringVar(&periodsSince, "since", "", "first week, YYYY-MM-DD (default: config since)")
	periodsCmd.MarkFlagRequired("user")
}

func runPeriods(cmd *cobra.Command, args []string) error {
	user, ok := cfg.User(periodsUser)
	if !ok {
		return fmt.Errorf("no user named %q in configuration", periodsUser)
	}

	start, err := startTime(periodsSince)
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	windows := checkpoint.Since(start)

	counts, err := store.CountsByWindow(ctx, windows, ownedBy(cfg.Users, user.Name))
	if err != nil {
		return err
	}

	var tests []map[string]int
	if len(windows) > 0 {
		events, err := store.Events(ctx, windows[0].Start, time.Time{})
		if err != nil {
			return err
		}
		tests = collate.TestsByWindow(windows, events)
	}

	printWindowCounts(os.Stdout, user.Name, counts, tests)
	return nil
}

// ownedBy reports whether an author resolves to the named user. Unknown and
// ambiguous authors belong to nobody.
func ownedBy(users []models.User, name string) func(author string) bool {
	resolver := identity.NewResolver(users)
	return func(author string) bool {
		user, err := resolver.Resolve(author)
		return err == nil && user.Name == name
	}
}
