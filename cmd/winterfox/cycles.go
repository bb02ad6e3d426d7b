package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"winterfox/internal/store"
	"winterfox/internal/types"
)

var cyclesLimit int

var cyclesCmd = &cobra.Command{
	Use:   "cycles",
	Short: "List recorded research cycles",
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

		records, err := a.store.ListCycleRecords(a.cfg.Workspace.ID, store.CycleFilter{Limit: cyclesLimit})
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println(mutedStyle.Render("No cycles recorded yet."))
			return nil
		}
		for _, r := range records {
			status := okStyle.Render("ok    ")
			if !r.Success {
				status = errorStyle.Render("failed")
			}
			fmt.Printf("#%-4d %s %s  %s  $%.4f  %s\n",
				r.CycleID, status, r.CreatedAt.Format("2006-01-02 15:04"),
				types.TruncateString(r.TargetClaim, 60), r.TotalCostUSD,
				r.Duration.Round(time.Second))
			if !r.Success && r.ErrorMessage != "" {
				fmt.Println(mutedStyle.Render("      " + types.TruncateString(r.ErrorMessage, 120)))
			}
		}
		return nil
	},
}

var cyclesShowCmd = &cobra.Command{
	Use:   "show <cycle-id>",
	Short: "Show one cycle record in detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid cycle id %q", args[0])
		}
		dir, err := resolveWorkspace()
		if err != nil {
			return err
		}
		a, err := buildApp(dir)
		if err != nil {
			return err
		}
		defer a.Close()

		r, err := a.store.GetCycleRecord(a.cfg.Workspace.ID, id)
		if err != nil {
			return err
		}

		fmt.Println(headerStyle.Render(fmt.Sprintf("Cycle %d", r.CycleID)))
		fmt.Printf("  target:    %s\n", r.TargetClaim)
		fmt.Printf("  reasoning: %s\n", r.SelectionReasoning)
		fmt.Printf("  result:    %d created, %d updated, %d skipped\n",
			len(r.CreatedIDs), len(r.UpdatedIDs), len(r.SkippedIDs))
		fmt.Printf("  cost:      $%.4f lead, $%.4f workers\n", r.LeadCostUSD, r.WorkerCostUSD)
		for _, c := range r.ConsensusFindings {
			fmt.Println(okStyle.Render("  consensus: ") + c)
		}
		for _, c := range r.Contradictions {
			fmt.Println(errorStyle.Render("  conflict:  ") + c)
		}
		for _, w := range r.Workers {
			status := "ok"
			if w.Failed {
				status = "failed"
			}
			fmt.Printf("  %s (%s): %d searches, %d tokens\n", w.AgentName, status, len(w.Searches), w.TokensTotal)
			if w.Critique != "" {
				fmt.Println(mutedStyle.Render("    " + types.TruncateString(w.Critique, 200)))
			}
		}
		return nil
	},
}

var cyclesRmCmd = &cobra.Command{
	Use:   "rm <cycle-id>",
	Short: "Delete a cycle record",
	Long: `Delete one cycle record from history. Graph nodes created by the
cycle are not removed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid cycle id %q", args[0])
		}
		dir, err := resolveWorkspace()
		if err != nil {
			return err
		}
		a, err := buildApp(dir)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.store.DeleteCycle(a.cfg.Workspace.ID, id); err != nil {
			return err
		}
		fmt.Println(okStyle.Render(fmt.Sprintf("Deleted cycle %d", id)))
		return nil
	},
}

func init() {
	cyclesCmd.Flags().IntVarP(&cyclesLimit, "limit", "l", 20, "maximum cycles to list")
	cyclesCmd.AddCommand(cyclesShowCmd)
	cyclesCmd.AddCommand(cyclesRmCmd)
}
