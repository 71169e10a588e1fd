package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/crm-enrich/internal/bulk"
)

var (
	batchIDs       []string
	batchFile      string
	batchFields    []string
	batchNoLookups bool
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Enrich many records with per-item failure isolation",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		ids := batchIDs
		if batchFile != "" {
			fileIDs, err := readIDFile(batchFile)
			if err != nil {
				return err
			}
			ids = append(ids, fileIDs...)
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		result, err := e.Orchestrator.EnrichMany(ctx, bulk.EnrichRequest{
			IDs:         ids,
			SkipLookups: batchNoLookups,
			Fields:      batchFields,
		})
		if err != nil {
			return eris.Wrap(err, "batch enrichment")
		}

		fmt.Printf("total %d, successful %d, failed %d\n", result.Total, result.Successful, result.Failed)
		for _, item := range result.Results {
			switch {
			case item.Error != "":
				fmt.Printf("  %s: FAILED: %s\n", item.RecordID, item.Error)
			case item.CooldownWarning != "":
				fmt.Printf("  %s: run %s (%d fields) [%s]\n", item.RecordID, item.RunID, item.FieldsSuggested, item.CooldownWarning)
			default:
				fmt.Printf("  %s: run %s (%d fields)\n", item.RecordID, item.RunID, item.FieldsSuggested)
			}
		}
		return nil
	},
}

// readIDFile loads record ids from a file, one per line.
func readIDFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read id file %s", path)
	}
	var ids []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			ids = append(ids, line)
		}
	}
	return ids, nil
}

func init() {
	batchCmd.Flags().StringSliceVar(&batchIDs, "ids", nil, "record ids to enrich")
	batchCmd.Flags().StringVar(&batchFile, "file", "", "file with one record id per line")
	batchCmd.Flags().StringSliceVar(&batchFields, "fields", nil, "restrict enrichment to these fields")
	batchCmd.Flags().BoolVar(&batchNoLookups, "no-lookups", false, "skip quota-gated external lookups")
	rootCmd.AddCommand(batchCmd)
}
