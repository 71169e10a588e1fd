package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var quotaHistoryDays int

var quotaCmd = &cobra.Command{
	Use:   "quota <service>",
	Short: "Show a service's daily quota state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		service := args[0]

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		info, err := e.Quota.Info(ctx, service)
		if err != nil {
			return eris.Wrapf(err, "quota info for %s", service)
		}
		fmt.Printf("%s: %d/%d used (%.0f%%), %d available, resets in %s\n",
			info.Service, info.Used, info.Limit, info.Percentage*100, info.Available, info.ResetIn.Round(1e9))

		history, err := e.Quota.History(ctx, service, quotaHistoryDays)
		if err != nil {
			return eris.Wrap(err, "quota history")
		}
		if len(history) > 0 {
			fmt.Println("history:")
			for _, h := range history {
				fmt.Printf("  %s  used %-5d ok %-5d err %d\n", h.Day, h.Used, h.Success, h.Error)
			}
			rate, err := e.Quota.ErrorRate(ctx, service, quotaHistoryDays)
			if err == nil {
				fmt.Printf("error rate over %dd: %.1f%%\n", quotaHistoryDays, rate*100)
			}
		}
		return nil
	},
}

var quotaAlertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List services at or above their alert threshold",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		alerts, err := e.Quota.AlertScan(ctx)
		if err != nil {
			return eris.Wrap(err, "alert scan")
		}
		if len(alerts) == 0 {
			fmt.Println("no services above threshold")
			return nil
		}
		for _, a := range alerts {
			fmt.Printf("%s: %.0f%% used (threshold %.0f%%)\n", a.Service, a.Percentage*100, a.Threshold*100)
		}
		return nil
	},
}

func init() {
	quotaCmd.Flags().IntVar(&quotaHistoryDays, "days", 7, "trailing history window (1-30 days)")
	quotaCmd.AddCommand(quotaAlertsCmd)
	rootCmd.AddCommand(quotaCmd)
}
