package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tanq16/recmirror/internal/output"
	"github.com/tanq16/recmirror/internal/partial"
)

func newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean [path]",
		Short: "Remove leftover partial files",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}
			removed, err := partial.Clean(dir)
			if err != nil {
				fatal(err)
			}
			for _, p := range removed {
				output.PrintInfo(fmt.Sprintf("  removed %s", p))
			}
			output.PrintSuccess(fmt.Sprintf("Removed %d partial files", len(removed)))
		},
	}
}
