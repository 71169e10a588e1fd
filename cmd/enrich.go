package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/crm-enrich/internal/model"
	"github.com/sells-group/crm-enrich/internal/provider"
)

var (
	enrichFields []string
	enrichQuick  string
)

var enrichCmd = &cobra.Command{
	Use:   "enrich <record-id>",
	Short: "Run enrichment for a single record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		recordID := args[0]

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		record, err := e.Store.GetRecord(ctx, recordID)
		if err != nil {
			return eris.Wrapf(err, "load record %s", recordID)
		}

		p := provider.Profile{
			RecordID: record.ID,
			Name:     record.Name,
			Website:  record.Website,
			Location: record.Location,
			Industry: record.Industry,
			Emails:   record.Emails,
			Phones:   record.Phones,
		}

		// Quick mode answers one field without post-processing and
		// without creating a reviewable run.
		if enrichQuick != "" {
			field, ok := model.ParseField(enrichQuick)
			if !ok {
				return eris.Errorf("unknown field %q", enrichQuick)
			}
			res, err := e.Aggregator.Quick(ctx, p, field)
			if err != nil {
				return eris.Wrap(err, "quick enrichment")
			}
			if s, ok := res.Suggestions[field]; ok {
				fmt.Printf("%s: %v (confidence %.2f, sources %v)\n", field, s.Value, s.Confidence, s.Sources)
			} else {
				fmt.Printf("%s: no answer\n", field)
			}
			return nil
		}

		fields, unknown := model.ParseFields(enrichFields)
		if len(unknown) > 0 {
			return eris.Errorf("unknown fields %v", unknown)
		}

		res, err := e.Aggregator.EnrichRecord(ctx, p, fields...)
		if err != nil {
			return eris.Wrap(err, "enrichment")
		}

		run, warning, err := e.Review.StartRun(ctx, recordID, res)
		if err != nil {
			return eris.Wrap(err, "start run")
		}
		if warning != nil {
			fmt.Printf("warning: %s\n", warning.Message())
		}

		fmt.Printf("run %s created with %d suggested field(s)\n", run.ID, len(run.Suggestions))
		for _, f := range model.AllFields() {
			s, ok := run.Suggestions[f]
			if !ok {
				continue
			}
			fmt.Printf("  %-16s %v (confidence %.2f)\n", f, s.Value, s.Confidence)
		}
		for _, pe := range run.ProviderErrors {
			fmt.Printf("  provider error: %s: %s\n", pe.Provider, pe.Error)
		}
		for _, skip := range run.Skips {
			fmt.Printf("  skipped: %s: %s\n", skip.Stage, skip.Reason)
		}

		zap.L().Info("enrichment complete",
			zap.String("record_id", recordID),
			zap.String("run_id", run.ID),
		)
		return nil
	},
}

func init() {
	enrichCmd.Flags().StringSliceVar(&enrichFields, "fields", nil, "restrict enrichment to these fields (default all)")
	enrichCmd.Flags().StringVar(&enrichQuick, "quick", "", "quick single-field check, no review run created")
	rootCmd.AddCommand(enrichCmd)
}
