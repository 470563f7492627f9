package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tanq16/recmirror/internal/output"
	"github.com/tanq16/recmirror/internal/utils"
	"gopkg.in/yaml.v3"
)

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [YAML_FILE]",
		Short: "Mirror multiple records listed in a YAML file",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			data, err := os.ReadFile(args[0])
			if err != nil {
				fatal(fmt.Errorf("error reading YAML file: %w", err))
			}
			entries, err := parseBatchFile(data)
			if err != nil {
				fatal(err)
			}
			cfg, err := loadConfig()
			if err != nil {
				fatal(err)
			}
			m, err := buildMirror(cmd.Context(), cfg)
			if err != nil {
				fatal(err)
			}
			var failed []string
			for _, entry := range entries {
				if cmd.Context().Err() != nil {
					fatal(cmd.Context().Err())
				}
				summary, err := m.Run(cmd.Context(), entry.Record, entry.OutputDir)
				printSummary(summary)
				if err != nil {
					output.PrintWarning(fmt.Sprintf("Record %s failed: %v", entry.Record, err))
					failed = append(failed, entry.Record)
				}
			}
			fmt.Println()
			if len(failed) > 0 {
				fatal(fmt.Errorf("%d of %d records failed: %s", len(failed), len(entries), strings.Join(failed, ", ")))
			}
			output.PrintSuccess(fmt.Sprintf("All %d records mirrored", len(entries)))
		},
	}
	return cmd
}

// parseBatchFile decodes a batch file and fills in the default output
// directory for entries that omit it.
func parseBatchFile(data []byte) ([]utils.BatchEntry, error) {
	var batch utils.BatchFile
	if err := yaml.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("error parsing YAML file: %w", err)
	}
	if len(batch.Records) == 0 {
		return nil, errors.New("no records found in the batch file")
	}
	for i := range batch.Records {
		e := &batch.Records[i]
		e.Record = strings.TrimSpace(e.Record)
		if e.Record == "" {
			return nil, fmt.Errorf("batch entry %d has no record", i+1)
		}
		if e.OutputDir == "" {
			e.OutputDir = e.Record
		}
	}
	return batch.Records, nil
}
