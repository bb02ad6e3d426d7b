package cycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"winterfox/internal/logging"
	"winterfox/internal/store"
	"winterfox/internal/types"
)

// AlreadyRunningError is returned when a cycle start is requested while
// another cycle holds the workspace mutex.
type AlreadyRunningError struct {
	WorkspaceID string
	ActiveCycle int
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("cycle %d is already running in workspace %s", e.ActiveCycle, e.WorkspaceID)
}

// Orchestrator serializes cycles per workspace and tracks cumulative
// run stats. The mutex is a non-blocking try-acquire: a second start
// request fails immediately instead of queueing.
type Orchestrator struct {
	executor *Executor
	store    *store.Store
	ws       string

	mu          sync.Mutex
	running     bool
	activeCycle int

	statsMu     sync.Mutex
	cyclesRun   int
	cyclesOK    int
	totalCost   float64
	lastCycleAt time.Time
}

// NewOrchestrator wires an orchestrator over one executor.
func NewOrchestrator(executor *Executor, s *store.Store, workspaceID string) *Orchestrator {
	return &Orchestrator{executor: executor, store: s, ws: workspaceID}
}

func (o *Orchestrator) acquire(cycleID int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return &AlreadyRunningError{WorkspaceID: o.ws, ActiveCycle: o.activeCycle}
	}
	o.running = true
	o.activeCycle = cycleID
	return nil
}

func (o *Orchestrator) release() {
	o.mu.Lock()
	o.running = false
	o.activeCycle = 0
	o.mu.Unlock()
}

// RunCycle executes one cycle. targetID and instruction are optional.
func (o *Orchestrator) RunCycle(ctx context.Context, targetID, instruction string) (*types.CycleRecord, error) {
	cycleID, err := o.store.NextCycleID(o.ws)
	if err != nil {
		return nil, err
	}
	if err := o.acquire(cycleID); err != nil {
		return nil, err
	}
	defer o.release()

	logging.Cycle("Starting cycle %d in workspace %s", cycleID, o.ws)
	record, runErr := o.executor.Run(ctx, cycleID, RunOptions{TargetID: targetID, Instruction: instruction})

	o.statsMu.Lock()
	o.cyclesRun++
	if runErr == nil {
		o.cyclesOK++
	}
	if record != nil {
		o.totalCost += record.TotalCostUSD
	}
	o.lastCycleAt = time.Now().UTC()
	o.statsMu.Unlock()

	return record, runErr
}

// RunCycles executes n cycles back to back. With stopOnError false,
// failed cycles are recorded and the loop continues.
func (o *Orchestrator) RunCycles(ctx context.Context, n int, stopOnError bool, instruction string) ([]*types.CycleRecord, error) {
	var records []*types.CycleRecord
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return records, err
		}
		record, err := o.RunCycle(ctx, "", instruction)
		if record != nil {
			records = append(records, record)
		}
		if err != nil {
			logging.Cycle("Cycle %d/%d failed: %v", i+1, n, err)
			if stopOnError {
				return records, err
			}
		}
	}
	return records, nil
}

// RunUntilComplete runs cycles while the average active-node confidence
// stays below the threshold, evaluated before each cycle, up to
// maxCycles.
func (o *Orchestrator) RunUntilComplete(ctx context.Context, minAvgConfidence float64, maxCycles int) ([]*types.CycleRecord, error) {
	var records []*types.CycleRecord
	for i := 0; i < maxCycles; i++ {
		if err := ctx.Err(); err != nil {
			return records, err
		}

		avg, count, err := o.averageActiveConfidence()
		if err != nil {
			return records, err
		}
		if count > 0 && avg >= minAvgConfidence {
			logging.Cycle("Average confidence %.3f reached threshold %.3f after %d cycles", avg, minAvgConfidence, i)
			return records, nil
		}

		record, err := o.RunCycle(ctx, "", "")
		if record != nil {
			records = append(records, record)
		}
		if err != nil {
			return records, err
		}
	}
	return records, nil
}

func (o *Orchestrator) averageActiveConfidence() (float64, int, error) {
	nodes, err := o.store.GetActiveNodes(o.ws)
	if err != nil {
		return 0, 0, err
	}
	if len(nodes) == 0 {
		return 0, 0, nil
	}
	sum := 0.0
	for _, n := range nodes {
		sum += n.Confidence
	}
	return sum / float64(len(nodes)), len(nodes), nil
}

// Summary aggregates run statistics.
type Summary struct {
	WorkspaceID      string    `json:"workspace_id"`
	CyclesRun        int       `json:"cycles_run"`
	CyclesSuccessful int       `json:"cycles_successful"`
	TotalCostUSD     float64   `json:"total_cost_usd"`
	ActiveNodes      int       `json:"active_nodes"`
	AvgConfidence    float64   `json:"avg_confidence"`
	LastCycleAt      time.Time `json:"last_cycle_at,omitempty"`
	Running          bool      `json:"running"`
}

// GetSummary reports in-memory counters plus current graph aggregates.
func (o *Orchestrator) GetSummary() (*Summary, error) {
	avg, count, err := o.averageActiveConfidence()
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	running := o.running
	o.mu.Unlock()

	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	return &Summary{
		WorkspaceID:      o.ws,
		CyclesRun:        o.cyclesRun,
		CyclesSuccessful: o.cyclesOK,
		TotalCostUSD:     o.totalCost,
		ActiveNodes:      count,
		AvgConfidence:    avg,
		LastCycleAt:      o.lastCycleAt,
		Running:          running,
	}, nil
}

// Reset clears the in-memory counters. The graph is never touched.
func (o *Orchestrator) Reset() {
	o.statsMu.Lock()
	o.cyclesRun = 0
	o.cyclesOK = 0
	o.totalCost = 0
	o.lastCycleAt = time.Time{}
	o.statsMu.Unlock()
}
