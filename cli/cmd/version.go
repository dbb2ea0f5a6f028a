package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show CLI version information",
		Long:  `Display the version, commit hash, and build date of the bundlebridge CLI.`,
		// no config needed
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "bundlebridge CLI %s\n", Version)
			_, _ = fmt.Fprintf(out, "Commit: %s\n", Commit)
			_, _ = fmt.Fprintf(out, "Build Date: %s\n", BuildDate)
		},
	}
}
