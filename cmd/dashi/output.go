package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/rohankatakam/dashi/internal/ingestion"
	"github.com/rohankatakam/dashi/internal/models"
	"github.com/rohankatakam/dashi/internal/storage"
)

const dateLayout = "2006-01-02"

func newTable(w io.Writer) table.Writer {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.Style().Options.DrawBorder = false
	return tbl
}

// printReport renders the per-user shares followed by the weekly counts.
// Users are listed in configuration order.
func printReport(w io.Writer, report *ingestion.Report, users []models.User) {
	result := report.Result

	tbl := newTable(w)
	tbl.AppendHeader(table.Row{"User", "Events", "Share"})
	tbl.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
	})
	for _, u := range users {
		stats := result.Users[u.Name]
		tbl.AppendRow(table.Row{u.Name, len(stats.Events), fmt.Sprintf("%.0f%%", stats.Percentage)})
	}
	tbl.AppendFooter(table.Row{"Unrecognized", len(result.Unrecognized), ""})
	tbl.AppendFooter(table.Row{"Total", result.Total, ""})
	tbl.Render()

	if len(report.Periods) > 0 {
		fmt.Fprintln(w)
		printPeriods(w, report.Periods, users)
	}

	if len(report.Skipped) > 0 {
		fmt.Fprintf(w, "\nSkipped sources: %v\n", report.Skipped)
	}
	fmt.Fprintf(w, "\nRun %s: %d events from %d sources in %s\n",
		result.RunID, result.Total, len(report.Fetched), report.Duration.Round(time.Millisecond))
	for _, name := range sortedKeys(report.Fetched) {
		fmt.Fprintf(w, "  %-24s %d\n", name, report.Fetched[name])
	}
}

// printPeriods renders one row per week and one column per user, then
// one column per build job with the week's highest test count
func printPeriods(w io.Writer, periods []models.PeriodStats, users []models.User) {
	tests := make([]map[string]int, len(periods))
	for i, p := range periods {
		tests[i] = p.Tests
	}
	jobs := testJobs(tests)

	tbl := newTable(w)

	header := table.Row{"Week"}
	for _, u := range users {
		header = append(header, u.Name)
	}
	header = append(header, "Total")
	tbl.AppendHeader(appendJobHeaders(header, jobs))

	for i, p := range periods {
		row := table.Row{p.Window.Start.Format(dateLayout)}
		for _, u := range users {
			row = append(row, p.ByUser[u.Name])
		}
		row = append(row, p.Total)
		tbl.AppendRow(appendTestCells(row, jobs, tests[i]))
	}
	tbl.Render()
}

// printWindowCounts renders a user's stored activity per week. tests may be
// nil; otherwise it lines up with counts.
func printWindowCounts(w io.Writer, user string, counts []storage.WindowCount, tests []map[string]int) {
	jobs := testJobs(tests)

	tbl := newTable(w)
	tbl.AppendHeader(appendJobHeaders(table.Row{"Week", user, "All", "Share"}, jobs))

	mine, total := 0, 0
	for i, c := range counts {
		share := 0.0
		if c.Total > 0 {
			share = float64(c.Mine) / float64(c.Total) * 100
		}
		row := table.Row{c.Window.Start.Format(dateLayout), c.Mine, c.Total, fmt.Sprintf("%.0f%%", share)}
		var week map[string]int
		if i < len(tests) {
			week = tests[i]
		}
		tbl.AppendRow(appendTestCells(row, jobs, week))
		mine += c.Mine
		total += c.Total
	}
	tbl.AppendFooter(table.Row{"Total", mine, total, ""})
	tbl.Render()
}

// testJobs returns every build job that reported tests in some week
func testJobs(tests []map[string]int) []string {
	seen := make(map[string]struct{})
	for _, week := range tests {
		for job := range week {
			seen[job] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

func appendJobHeaders(row table.Row, jobs []string) table.Row {
	for _, job := range jobs {
		row = append(row, job+" tests")
	}
	return row
}

func appendTestCells(row table.Row, jobs []string, week map[string]int) table.Row {
	for _, job := range jobs {
		if n, ok := week[job]; ok {
			row = append(row, n)
		} else {
			row = append(row, "-")
		}
	}
	return row
}

// printWindows lists window bounds
func printWindows(w io.Writer, windows []models.TimeWindow) {
	tbl := newTable(w)
	tbl.AppendHeader(table.Row{"#", "Start", "End"})
	for i, win := range windows {
		tbl.AppendRow(table.Row{i + 1, win.Start.Format("2006-01-02T15:04:05.000000Z07:00"), win.End.Format("2006-01-02T15:04:05.000000Z07:00")})
	}
	tbl.Render()
}

// sortedKeys returns m's keys in order
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
