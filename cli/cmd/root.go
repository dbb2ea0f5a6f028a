// Package cmd provides the Cobra commands for the bundlebridge CLI.
package cmd

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/fluxbase-eu/bundlebridge/cli/output"
	"github.com/fluxbase-eu/bundlebridge/internal/config"
	"github.com/fluxbase-eu/bundlebridge/internal/jshost"
	"github.com/fluxbase-eu/bundlebridge/internal/staticfiles"
	"github.com/fluxbase-eu/bundlebridge/internal/webpack"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// cli holds the global flags and what is derived from them before a
// subcommand runs
type cli struct {
	cfgFile   string
	hostURL   string
	outputFmt string
	noHeaders bool
	quiet     bool
	debug     bool

	cfg       *config.Config
	formatter *output.Formatter
}

// NewRootCmd builds the command tree
func NewRootCmd() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:   "bundlebridge",
		Short: "bundlebridge CLI - Build bundles through a compiler host",
		Long: `bundlebridge sends bundle configs to a compiler host and reports the
assets it produced, with their paths and public URLs.

Get started:
  bundlebridge status                        Check the compiler host
  bundlebridge bundle webpack.config.yaml    Build a bundle
  bundlebridge --help                        Show available commands`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Silence errors only when --quiet is used
			cmd.SilenceErrors = c.quiet
			return c.init(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVar(&c.cfgFile, "config", "",
		"config file (default is ./bundlebridge.yaml)")
	rootCmd.PersistentFlags().StringVar(&c.hostURL, "host", "",
		"compiler host URL (overrides host.url)")
	rootCmd.PersistentFlags().StringVarP(&c.outputFmt, "output", "o", "table",
		"output format: table, json, yaml")
	rootCmd.PersistentFlags().BoolVar(&c.noHeaders, "no-headers", false,
		"hide table headers")
	rootCmd.PersistentFlags().BoolVarP(&c.quiet, "quiet", "q", false,
		"minimal output")
	rootCmd.PersistentFlags().BoolVar(&c.debug, "debug", false,
		"enable debug output")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(c))
	rootCmd.AddCommand(newStatusCmd(c))
	rootCmd.AddCommand(newBundleCmd(c))
	rootCmd.AddCommand(newRenderCmd(c))
	rootCmd.AddCommand(newAnalyzeCmd(c))

	return rootCmd
}

// Execute runs the CLI
func Execute() error {
	return NewRootCmd().Execute()
}

func (c *cli) init(cmd *cobra.Command) error {
	level := zerolog.WarnLevel
	if c.debug {
		level = zerolog.DebugLevel
	}
	errOut := cmd.ErrOrStderr()
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: errOut, NoColor: !isTerminal(errOut)}).
		Level(level).
		With().Timestamp().Logger()

	cfg, err := config.LoadFile(c.cfgFile)
	if err != nil {
		return err
	}
	if c.hostURL != "" {
		cfg.Host.URL = c.hostURL
	}
	if c.debug {
		cfg.Debug = true
	}
	c.cfg = cfg

	format, err := output.ParseFormat(c.outputFmt)
	if err != nil {
		return err
	}
	c.formatter = output.NewFormatter(format, c.noHeaders, c.quiet)
	c.formatter.Writer = cmd.OutOrStdout()
	c.formatter.ErrWriter = cmd.ErrOrStderr()

	return nil
}

func (c *cli) client() *jshost.Client {
	return jshost.NewClient(c.cfg.Host.URL,
		jshost.WithDebug(c.cfg.Debug),
		jshost.WithTimeout(c.cfg.Host.CallTimeout),
		jshost.WithUserAgent("bundlebridge-cli/"+Version),
	)
}

// compiler wires the bundling pipeline to the configured host. Relative
// config names are searched in the static dirs, then the working directory.
func (c *cli) compiler() *webpack.Compiler {
	dirs := append([]string(nil), c.cfg.Webpack.StaticDirs...)
	if wd, err := os.Getwd(); err == nil {
		dirs = append(dirs, wd)
	}

	finder := staticfiles.NewFileSystemFinder(dirs...)
	log.Debug().Strs("dirs", finder.Dirs()).Msg("Config search path")

	return webpack.NewCompiler(
		c.cfg.Webpack.Settings(),
		finder,
		c.client(),
		webpack.WithWarningHandler(func(w *webpack.CompilerWarning) {
			for _, msg := range w.Warnings {
				c.formatter.PrintWarning(msg)
			}
		}),
	)
}

// isTerminal reports whether w is an interactive terminal
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
