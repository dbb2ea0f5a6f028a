package cmd

import (
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/bundlebridge/cli/output"
	"github.com/fluxbase-eu/bundlebridge/internal/webpack"
)

type bundleFlags struct {
	watch       bool
	watchConfig bool
	fullStats   bool
}

// options only overrides the settings for flags given on the command line
func (f *bundleFlags) options(cmd *cobra.Command) []webpack.BundleOption {
	var opts []webpack.BundleOption
	if cmd.Flags().Changed("watch") {
		opts = append(opts, webpack.WatchSource(f.watch))
	}
	if cmd.Flags().Changed("watch-config") {
		opts = append(opts, webpack.WatchConfig(f.watchConfig))
	}
	if cmd.Flags().Changed("full-stats") {
		opts = append(opts, webpack.FullStats(f.fullStats))
	}
	return opts
}

func (f *bundleFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.watch, "watch", false, "ask the host to rebuild when sources change")
	cmd.Flags().BoolVar(&f.watchConfig, "watch-config", false, "ask the host to rebuild when the config changes")
	cmd.Flags().BoolVar(&f.fullStats, "full-stats", false, "request the full compiler stats")
}

// bundleView is the json/yaml shape of a bundle
type bundleView struct {
	Assets   []webpack.Asset `json:"assets" yaml:"assets"`
	Library  string          `json:"library,omitempty" yaml:"library,omitempty"`
	Warnings []string        `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

func newBundleCmd(c *cli) *cobra.Command {
	flags := &bundleFlags{}
	cmd := &cobra.Command{
		Use:   "bundle <config>",
		Short: "Build a bundle and list its assets",
		Long: `Send a bundle config to the compiler host and list the emitted assets
with their paths and URLs. Relative config names are looked up in
webpack.static_dirs and then the working directory.

Examples:
  bundlebridge bundle webpack.config.yaml
  bundlebridge bundle app/webpack.config.yaml --watch -o json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bundle, err := c.compiler().Bundle(cmd.Context(), args[0], flags.options(cmd)...)
			if err != nil {
				return err
			}

			if c.formatter.Format != output.FormatTable {
				view := bundleView{Assets: bundle.Assets()}
				view.Library, _ = bundle.Library()
				if w := bundle.Warnings(); w != nil {
					view.Warnings = w.Warnings
				}
				return c.formatter.Print(view)
			}

			data := output.TableData{Headers: []string{"NAME", "PATH", "URL"}}
			for _, a := range bundle.Assets() {
				data.Rows = append(data.Rows, []string{a.Name, a.Path, a.URL})
			}
			c.formatter.PrintTable(data)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
