package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/bundlebridge/cli/output"
	"github.com/fluxbase-eu/bundlebridge/internal/config"
)

func newConfigCmd(c *cli) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		Long: `Show the configuration after merging bundlebridge.yaml, .env files and
BUNDLEBRIDGE_* environment variables.

Examples:
  bundlebridge config
  bundlebridge config --output yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigView(c)
		},
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "view",
		Short: "Display current configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigView(c)
		},
	})

	return configCmd
}

func runConfigView(c *cli) error {
	settings := configSettings(c.cfg)

	if c.formatter.Format != output.FormatTable {
		values := make(map[string]string, len(settings))
		for _, kv := range settings {
			values[kv[0]] = kv[1]
		}
		return c.formatter.Print(values)
	}

	data := output.TableData{Headers: []string{"KEY", "VALUE"}}
	for _, kv := range settings {
		data.Rows = append(data.Rows, []string{kv[0], kv[1]})
	}
	c.formatter.PrintTable(data)
	return nil
}

// configSettings flattens the settings the CLI acts on into key/value pairs
func configSettings(cfg *config.Config) [][2]string {
	wp := cfg.Webpack
	return [][2]string{
		{"webpack.bundle_root", wp.BundleRoot},
		{"webpack.bundle_url", wp.BundleURL},
		{"webpack.bundle_dir", wp.BundleDir},
		{"webpack.watch_config_files", strconv.FormatBool(wp.WatchConfigFiles)},
		{"webpack.watch_source_files", strconv.FormatBool(wp.WatchSourceFiles)},
		{"webpack.output_full_stats", strconv.FormatBool(wp.OutputFullStats)},
		{"webpack.service_name", wp.ServiceName},
		{"webpack.static_dirs", fmt.Sprint(wp.StaticDirs)},
		{"host.url", cfg.Host.URL},
		{"host.call_timeout", cfg.Host.CallTimeout.String()},
		{"debug", strconv.FormatBool(cfg.Debug)},
	}
}
