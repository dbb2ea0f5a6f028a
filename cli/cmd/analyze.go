package cmd

import (
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/bundlebridge/cli/bundler"
	"github.com/fluxbase-eu/bundlebridge/cli/output"
	"github.com/fluxbase-eu/bundlebridge/internal/webpack"
)

func newAnalyzeCmd(c *cli) *cobra.Command {
	var details bool
	cmd := &cobra.Command{
		Use:   "analyze <config>",
		Short: "Show what each bundle is made of",
		Long: `Build a bundle with full stats and break every emitted script down by
the source files that ended up in it.

Examples:
  bundlebridge analyze webpack.config.yaml
  bundlebridge analyze webpack.config.yaml --details -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bundle, err := c.compiler().Bundle(cmd.Context(), args[0], webpack.FullStats(true))
			if err != nil {
				return err
			}

			results, err := bundler.Analyze(bundle.Stats().Metafile)
			if err != nil {
				return err
			}

			if c.formatter.Format != output.FormatTable {
				return c.formatter.Print(results)
			}
			if c.formatter.Quiet {
				return nil
			}

			w := c.formatter.Writer
			for _, r := range results {
				bundler.DisplayAnalysis(w, r, details)
			}
			if len(results) > 1 {
				bundler.DisplaySummary(w, results)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&details, "details", false, "list every input file")
	return cmd
}
