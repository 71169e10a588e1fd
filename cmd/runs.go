package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/crm-enrich/internal/model"
)

var runsCmd = &cobra.Command{
	Use:   "runs <record-id>",
	Short: "List a record's enrichment run history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		recordID := args[0]

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		runs, err := e.Store.FindRunsFor(ctx, recordID)
		if err != nil {
			return eris.Wrapf(err, "runs for %s", recordID)
		}
		if len(runs) == 0 {
			fmt.Printf("no runs for record %s\n", recordID)
			return nil
		}

		for _, run := range runs {
			fmt.Printf("%s  %s  %s  (%d suggestions, %d provider errors)\n",
				run.ID, run.CreatedAt.Format("2006-01-02 15:04"), run.OverallStatus,
				len(run.Suggestions), len(run.ProviderErrors))
			for _, f := range model.AllFields() {
				if st, ok := run.FieldStatuses[f]; ok {
					fmt.Printf("    %-16s %s\n", f, st)
				}
			}
		}
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one enrichment run in detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		run, err := e.Store.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "get run")
		}

		fmt.Printf("run %s for record %s (%s)\n", run.ID, run.RecordID, run.OverallStatus)
		fmt.Printf("created %s\n", run.CreatedAt.Format("2006-01-02 15:04:05"))
		if run.ReviewedAt != nil {
			fmt.Printf("reviewed %s by %s\n", run.ReviewedAt.Format("2006-01-02 15:04:05"), run.ReviewedBy)
		}
		fmt.Printf("providers: %v\n", run.ProvidersUsed)
		for _, f := range model.AllFields() {
			s, ok := run.Suggestions[f]
			if !ok {
				continue
			}
			fmt.Printf("  %-16s %-10s %v (%.2f)\n", f, run.FieldStatuses[f], s.Value, s.Confidence)
		}
		for _, pe := range run.ProviderErrors {
			fmt.Printf("  provider error: %s: %s\n", pe.Provider, pe.Error)
		}
		for _, skip := range run.Skips {
			fmt.Printf("  skipped: %s: %s\n", skip.Stage, skip.Reason)
		}
		return nil
	},
}

func init() {
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}
