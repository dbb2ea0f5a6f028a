package bundler

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"

	"github.com/fluxbase-eu/bundlebridge/cli/output"
)

const (
	topInputs  = 10
	maxPathLen = 50
)

// table is the CLI listing style padded with spaces instead of tabs
func table(w io.Writer) *tablewriter.Table {
	t := output.NewTable(w)
	t.SetTablePadding("  ")
	return t
}

// DisplayAnalysis prints the breakdown of one bundle. Only the largest
// inputs are listed unless showDetails is set.
func DisplayAnalysis(w io.Writer, result *AnalysisResult, showDetails bool) {
	_, _ = fmt.Fprintf(w, "\n=== Bundle Analysis: %s ===\n", result.Bundle)
	if result.EntryPoint != "" {
		_, _ = fmt.Fprintf(w, "Entry point: %s\n", result.EntryPoint)
	}
	_, _ = fmt.Fprintf(w, "Total bundle size: %s\n", humanBytes(result.TotalBytes))

	if len(result.ExternalImports) > 0 {
		_, _ = fmt.Fprintln(w, "\nExternal imports (left to the page):")
		for _, imp := range result.ExternalImports {
			_, _ = fmt.Fprintf(w, "  - %s\n", imp)
		}
	}

	if len(result.InputFiles) > 0 {
		_, _ = fmt.Fprintln(w, "\nBundle breakdown:")

		shown := result.InputFiles
		if !showDetails && len(shown) > topInputs {
			shown = shown[:topInputs]
		}

		tbl := table(w)
		tbl.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT})
		for _, file := range shown {
			tbl.Append([]string{
				"  " + shortenPath(file.Path, maxPathLen),
				humanBytes(file.BytesInOutput),
				strconv.FormatFloat(file.Percentage, 'f', 1, 64) + "%",
			})
		}
		tbl.Render()

		if hidden := len(result.InputFiles) - len(shown); hidden > 0 {
			_, _ = fmt.Fprintf(w, "  ... and %d more files\n", hidden)
		}
	}

	_, _ = fmt.Fprintln(w)
}

// DisplaySummary prints one row per bundle in the given order and a total
func DisplaySummary(w io.Writer, results []*AnalysisResult) {
	if len(results) == 0 {
		return
	}

	_, _ = fmt.Fprintln(w, "\n=== Bundle Size Summary ===")

	tbl := table(w)
	tbl.SetHeader([]string{"BUNDLE", "BUNDLE SIZE", "FILES", "EXTERNALS"})
	tbl.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT,
	})

	total := 0
	for _, r := range results {
		total += r.TotalBytes
		tbl.Append([]string{
			r.Bundle,
			humanBytes(r.TotalBytes),
			strconv.Itoa(len(r.InputFiles)),
			strconv.Itoa(len(r.ExternalImports)),
		})
	}
	tbl.Append([]string{"TOTAL", humanBytes(total), "", ""})
	tbl.Render()
	_, _ = fmt.Fprintln(w)
}

// humanBytes renders n in B, KB or MB with two decimals above a kilobyte
func humanBytes(n int) string {
	if n < 1024 {
		return strconv.Itoa(n) + " B"
	}
	value := float64(n) / 1024
	unit := "KB"
	if value >= 1024 {
		value /= 1024
		unit = "MB"
	}
	return strconv.FormatFloat(value, 'f', 2, 64) + " " + unit
}

// shortenPath keeps the tail of paths longer than max
func shortenPath(p string, max int) string {
	if len(p) <= max {
		return p
	}
	return "..." + p[len(p)-max+3:]
}
