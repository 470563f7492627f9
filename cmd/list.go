package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tanq16/recmirror/internal/output"
	"github.com/tanq16/recmirror/internal/utils"
)

func newListCmd() *cobra.Command {
	var record string

	cmd := &cobra.Command{
		Use:   "list -r RECORD",
		Short: "Print the manifest of a record",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := loadConfig()
			if err != nil {
				fatal(err)
			}
			m, err := newManifestClient(cfg).Fetch(cmd.Context(), record)
			if err != nil {
				fatal(err)
			}
			output.PrintHeader(fmt.Sprintf("Record %s: %d files, %s", record, len(m.Entries), utils.FormatBytes(uint64(m.TotalSize()))))
			for _, e := range m.Entries {
				fmt.Printf("  %s %s %s\n", output.FInfo(e.Name), output.FDebug(utils.FormatBytes(uint64(e.Size))), output.FDetail(e.Checksum))
			}
		},
	}

	cmd.Flags().StringVarP(&record, "record", "r", "", "Record identifier")
	cmd.MarkFlagRequired("record")
	return cmd
}
