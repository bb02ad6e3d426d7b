package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"winterfox/internal/events"
	"winterfox/internal/types"
)

var (
	runCycleCount  int
	runUntil       float64
	runMaxCycles   int
	runTarget      string
	runInstruction string
	runStopOnError bool
)

var (
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("69")).Bold(true)
	stepStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("221"))
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run research cycles",
	Long: `Run one or more research cycles against the workspace graph.

By default one cycle runs. --cycles runs a fixed number; --until runs
until the average confidence of active directions reaches the given
threshold (bounded by --max-cycles).`,
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

		if strings.TrimSpace(a.cfg.Mission) == "" {
			return fmt.Errorf("no mission configured; set mission in %s or WINTERFOX_MISSION", dir)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		sub := a.bus.Subscribe(a.cfg.Workspace.ID)
		defer a.bus.Unsubscribe(sub)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			printEvents(sub)
		}()

		fmt.Println(headerStyle.Render("Mission: ") + a.cfg.Mission)

		var records []*types.CycleRecord
		var runErr error
		switch {
		case runUntil > 0:
			records, runErr = a.orchestrator.RunUntilComplete(ctx, runUntil, runMaxCycles)
		case runCycleCount > 1:
			records, runErr = a.orchestrator.RunCycles(ctx, runCycleCount, runStopOnError, runInstruction)
		default:
			var record *types.CycleRecord
			record, runErr = a.orchestrator.RunCycle(ctx, runTarget, runInstruction)
			if record != nil {
				records = append(records, record)
			}
		}

		a.bus.Unsubscribe(sub)
		wg.Wait()

		for _, r := range records {
			printCycleSummary(r)
		}
		return runErr
	},
}

func init() {
	runCmd.Flags().IntVarP(&runCycleCount, "cycles", "n", 1, "number of cycles to run")
	runCmd.Flags().Float64Var(&runUntil, "until", 0, "run until average active confidence reaches this value")
	runCmd.Flags().IntVar(&runMaxCycles, "max-cycles", 20, "cycle cap for --until")
	runCmd.Flags().StringVar(&runTarget, "target", "", "research this node ID instead of letting the Lead select")
	runCmd.Flags().StringVar(&runInstruction, "instruction", "", "one-off instruction steering this run")
	runCmd.Flags().BoolVar(&runStopOnError, "stop-on-error", false, "stop a multi-cycle run at the first failed cycle")
}

// printEvents streams bus events to the terminal until the
// subscription channel closes.
func printEvents(sub *events.Subscription) {
	for ev := range sub.Events() {
		switch ev.Type {
		case events.CycleStarted:
			fmt.Println(headerStyle.Render(fmt.Sprintf("Cycle %v", ev.Data["cycle_id"])))
		case events.CycleStep:
			if verbose {
				fmt.Println(mutedStyle.Render(fmt.Sprintf("  [%v%%] %v", ev.Data["progress"], ev.Data["step"])))
			}
		case events.AgentStarted:
			fmt.Println(stepStyle.Render(fmt.Sprintf("  worker %v researching...", ev.Data["worker"])))
		case events.AgentSearch:
			if verbose {
				fmt.Println(mutedStyle.Render(fmt.Sprintf("    search [%v]: %v", ev.Data["engine"], ev.Data["query"])))
			}
		case events.AgentCompleted:
			if failed, _ := ev.Data["failed"].(bool); failed {
				fmt.Println(errorStyle.Render(fmt.Sprintf("  worker %v failed", ev.Data["worker"])))
			} else {
				fmt.Println(stepStyle.Render(fmt.Sprintf("  worker %v done", ev.Data["worker"])))
			}
		case events.NodeCreated:
			fmt.Println(okStyle.Render("  + ") + mutedStyle.Render(fmt.Sprintf("%v", ev.Data["node_id"])))
		case events.NodeUpdated:
			if verbose {
				fmt.Println(mutedStyle.Render(fmt.Sprintf("  ~ %v", ev.Data["node_id"])))
			}
		case events.CycleFailed:
			fmt.Println(errorStyle.Render(fmt.Sprintf("  cycle failed at %v: %v", ev.Data["step"], ev.Data["error"])))
		}
	}
}

func printCycleSummary(r *types.CycleRecord) {
	status := okStyle.Render("ok")
	if !r.Success {
		status = errorStyle.Render("failed")
	}
	fmt.Printf("Cycle %d %s: %s (%d created, %d updated, $%.4f, %s)\n",
		r.CycleID, status, types.TruncateString(r.TargetClaim, 80),
		len(r.CreatedIDs), len(r.UpdatedIDs), r.TotalCostUSD, r.Duration.Round(time.Second))
}
