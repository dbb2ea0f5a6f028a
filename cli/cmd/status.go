package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/bundlebridge/cli/output"
)

func newStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the compiler host status",
		Long: `Query the compiler host for its services, watched builds and memory use.

Examples:
  bundlebridge status
  bundlebridge status --host http://127.0.0.1:9009 -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := c.client().Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to reach compiler host at %s: %w", c.cfg.Host.URL, err)
			}

			if c.formatter.Format != output.FormatTable {
				return c.formatter.Print(status)
			}

			data := output.TableData{
				Headers: []string{"KEY", "VALUE"},
				Rows: [][]string{
					{"host", c.cfg.Host.URL},
					{"status", status.Status},
					{"version", status.Version},
					{"uptime", status.Uptime},
					{"services", strings.Join(status.Services, ", ")},
					{"active_watchers", strconv.Itoa(status.ActiveWatchers)},
					{"memory_used", fmt.Sprintf("%.1f%%", status.Memory.UsedPercent)},
				},
			}
			for _, w := range status.Watched {
				data.Rows = append(data.Rows, []string{"watching", w})
			}
			c.formatter.PrintTable(data)
			return nil
		},
	}
}
