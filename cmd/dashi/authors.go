package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rohankatakam/dashi/internal/errors"
	"github.com/rohankatakam/dashi/internal/identity"
	"github.com/rohankatakam/dashi/internal/models"
	"github.com/spf13/cobra"
)

var authorsCmd = &cobra.Command{
	Use:   "authors",
	Short: "List every distinct author in the event store",
	Long: `List every distinct author string in the event store and the user it
resolves to. Useful for finding aliases missing from the configuration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		authors, err := store.Authors(context.Background())
		if err != nil {
			return err
		}

		printAuthors(os.Stdout, authors, cfg.Users)
		return nil
	},
}

func printAuthors(w io.Writer, authors []string, users []models.User) {
	resolver := identity.NewResolver(users)

	tbl := newTable(w)
	tbl.AppendHeader(table.Row{"Author", "User"})
	unknown := 0
	for _, author := range authors {
		user, err := resolver.Resolve(author)
		switch {
		case err == nil:
			tbl.AppendRow(table.Row{author, user.Name})
		case stderrors.Is(err, errors.ErrAmbiguousAuthor):
			tbl.AppendRow(table.Row{author, fmt.Sprintf("ambiguous: %v", err)})
		default:
			tbl.AppendRow(table.Row{author, "-"})
			unknown++
		}
	}
	tbl.AppendFooter(table.Row{fmt.Sprintf("%d authors", len(authors)), fmt.Sprintf("%d unknown", unknown)})
	tbl.Render()
}
