package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/andrew-r-thomas/mqttest/suite"
)

func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list <suite.yaml>...",
		Short: "Print the test names of suite files in run order",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tree, peers, err := loadFiles(args, "")
			if err != nil {
				return err
			}
			tests, err := suite.Flatten(rootOpts.config(0), tree)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid suite", err)
			}

			out := cmd.OutOrStdout()
			for _, t := range tests {
				steps := ""
				if n := len(t.Definition.Steps); n > 0 {
					steps = fmt.Sprintf(" [%d steps]", n)
				}
				fmt.Fprintf(out, "%s%s\n", t.Name(), steps)
			}
			for _, p := range peers {
				fmt.Fprintf(out, "peer %s -> %s every %s\n", p.ID, p.Topic, p.Every)
			}
			return nil
		},
	}
}
