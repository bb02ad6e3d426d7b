package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"winterfox/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show workspace graph and spend summary",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := resolveWorkspace()
		if err != nil {
			return err
		}
		a, err := buildApp(dir)
		if err != nil {
			return err
		}
		defer a.Close()

		summary, err := a.orchestrator.GetSummary()
		if err != nil {
			return err
		}
		records, err := a.store.ListCycleRecords(a.cfg.Workspace.ID, store.CycleFilter{})
		if err != nil {
			return err
		}
		stats := a.tracker.Stats()

		fmt.Println(headerStyle.Render("Workspace " + summary.WorkspaceID))
		fmt.Printf("  mission:         %s\n", valueOr(a.cfg.Mission, "(not set)"))
		fmt.Printf("  active nodes:    %d\n", summary.ActiveNodes)
		fmt.Printf("  avg confidence:  %.3f\n", summary.AvgConfidence)
		fmt.Printf("  cycles recorded: %d\n", len(records))
		fmt.Printf("  total spend:     $%.4f (%d tokens, %d calls)\n", stats.Total.CostUSD, stats.Total.Total, stats.Total.Calls)
		if len(records) > 0 {
			last := records[0]
			fmt.Printf("  last cycle:      #%d %s\n", last.CycleID, last.CreatedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
