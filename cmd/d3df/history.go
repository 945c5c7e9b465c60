package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bmindur/d3df-digitizer-soft/internal/config"
	"github.com/bmindur/d3df-digitizer-soft/internal/store"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past campaigns from the run history database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHistory()
		if err != nil {
			return err
		}
		defer h.Close()

		sums, err := h.Campaigns()
		if err != nil {
			return err
		}
		if len(sums) == 0 {
			fmt.Println("No campaigns recorded yet.")
			return nil
		}
		fmt.Printf("%-38s %-6s %-10s %-20s\n", "CAMPAIGN", "RUNS", "COMPLETED", "LAST RUN")
		for _, s := range sums {
			fmt.Printf("%-38s %-6d %-10d %-20s\n",
				s.CampaignID, s.Runs, s.Completed, s.LastRun.Local().Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

var historyRunsCmd = &cobra.Command{
	Use:   "runs [campaign-id]",
	Short: "List recorded runs, optionally for one campaign",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openHistory()
		if err != nil {
			return err
		}
		defer h.Close()

		id := ""
		if len(args) == 1 {
			id = args[0]
		}
		runs, err := h.Runs(id, historyLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}
		fmt.Printf("%-20s %-10s %-10s %-12s %-10s %-10s\n",
			"STARTED", "HV [V]", "THR [V]", "STATE", "EVENTS", "RATE [Hz]")
		for _, r := range runs {
			fmt.Printf("%-20s %-10s %-10s %-12s %-10d %-10.2f\n",
				r.Record.StartedAt.Local().Format("2006-01-02 15:04:05"),
				fmtOpt(r.Record.HV, "%.1f"), fmtOpt(r.Record.Threshold, "%.3f"),
				r.Record.State, r.Record.Events, r.Record.Rate)
		}
		return nil
	},
}

func openHistory() (*store.History, error) {
	if cfg.Campaign.HistoryDB == "" {
		return nil, fmt.Errorf("no history database configured (campaign.history_db)")
	}
	return store.Open(cfg.Campaign.HistoryDB)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configGenCmd = &cobra.Command{
	Use:   "gen [path]",
	Short: "Write a configuration file with all defaults",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgPath
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.DefaultConfig().Save(path); err != nil {
			return err
		}
		fmt.Printf("Wrote default configuration to %s\n", path)
		return nil
	},
}

func init() {
	historyRunsCmd.Flags().IntVar(&historyLimit, "limit", 50, "maximum runs to list (0 = all)")
	historyCmd.AddCommand(historyRunsCmd)
	configCmd.AddCommand(configGenCmd)
}
