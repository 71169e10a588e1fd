package main

import (
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/crm-enrich/internal/model"
	"github.com/sells-group/crm-enrich/internal/review"
)

var (
	reviewRunID    string
	reviewFields   []string
	reviewEditJSON string
	reviewer       string
)

var reviewCmd = &cobra.Command{
	Use:   "review <confirm|reject|edit> <record-id>",
	Short: "Apply a review action to a record's latest enrichment run",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		action, ok := review.ParseAction(args[0])
		if !ok {
			return eris.Errorf("unknown action %q (confirm, reject, edit)", args[0])
		}
		recordID := args[1]

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		runID := reviewRunID
		if runID == "" {
			latest, err := e.Store.FindLatestRun(ctx, recordID)
			if err != nil {
				return eris.Wrap(err, "find latest run")
			}
			if latest == nil {
				return eris.Errorf("record %s has no enrichment runs", recordID)
			}
			runID = latest.ID
		}

		var run *model.EnrichmentRun
		switch action {
		case review.ActionEdit:
			if reviewEditJSON == "" {
				return eris.New("edit requires --values with a JSON object of field values")
			}
			var rawValues map[string]any
			if err := json.Unmarshal([]byte(reviewEditJSON), &rawValues); err != nil {
				return eris.Wrap(err, "parse --values")
			}
			values := make(map[model.Field]any, len(rawValues))
			for key, v := range rawValues {
				f, ok := model.ParseField(key)
				if !ok {
					return eris.Errorf("unknown field %q in --values", key)
				}
				values[f] = v
			}
			run, err = e.Review.Edit(ctx, runID, values, reviewer)
		default:
			fields, unknown := model.ParseFields(reviewFields)
			if len(unknown) > 0 {
				return eris.Errorf("unknown fields %v", unknown)
			}
			if len(fields) == 0 {
				// Default to everything still pending on the run.
				current, err := e.Store.GetRun(ctx, runID)
				if err != nil {
					return eris.Wrap(err, "load run")
				}
				fields = current.PendingFields()
			}
			if action == review.ActionConfirm {
				run, err = e.Review.Confirm(ctx, runID, fields, reviewer)
			} else {
				run, err = e.Review.Reject(ctx, runID, fields, reviewer)
			}
		}
		if err != nil {
			return eris.Wrapf(err, "%s", action)
		}

		fmt.Printf("run %s is now %s\n", run.ID, run.OverallStatus)
		for _, f := range model.AllFields() {
			if st, ok := run.FieldStatuses[f]; ok {
				fmt.Printf("  %-16s %s\n", f, st)
			}
		}
		return nil
	},
}

func init() {
	reviewCmd.Flags().StringVar(&reviewRunID, "run", "", "run id (default: the record's latest run)")
	reviewCmd.Flags().StringSliceVar(&reviewFields, "fields", nil, "fields to act on (default: all pending)")
	reviewCmd.Flags().StringVar(&reviewEditJSON, "values", "", "JSON object of edited field values (edit only)")
	reviewCmd.Flags().StringVar(&reviewer, "reviewer", "", "reviewer identity recorded on the run")
	rootCmd.AddCommand(reviewCmd)
}
