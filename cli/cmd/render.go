package cmd

import (
	"github.com/spf13/cobra"
)

func newRenderCmd(c *cli) *cobra.Command {
	flags := &bundleFlags{}
	cmd := &cobra.Command{
		Use:   "render <config>",
		Short: "Build a bundle and print its script tags",
		Long: `Build a bundle and print one <script> element per asset URL, ready to
paste into a page.

Examples:
  bundlebridge render webpack.config.yaml > scripts.html`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bundle, err := c.compiler().Bundle(cmd.Context(), args[0], flags.options(cmd)...)
			if err != nil {
				return err
			}
			c.formatter.PrintText(bundle.String())
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
