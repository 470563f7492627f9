package cmd

import (
	"github.com/spf13/cobra"
)

func newVerifyCmd() *cobra.Command {
	var record, dir string

	cmd := &cobra.Command{
		Use:   "verify -r RECORD [-o OUTPUT_DIR]",
		Short: "Check local files against the record's checksums without downloading",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := loadConfig()
			if err != nil {
				fatal(err)
			}
			summary, err := newMirror(cfg).Check(cmd.Context(), record, dir)
			printSummary(summary)
			if err != nil {
				fatal(err)
			}
		},
	}

	cmd.Flags().StringVarP(&record, "record", "r", "", "Record identifier")
	cmd.Flags().StringVarP(&dir, "output", "o", ".", "Directory holding the local copy")
	cmd.MarkFlagRequired("record")
	return cmd
}
