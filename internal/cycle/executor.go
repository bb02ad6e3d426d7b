// Package cycle runs research cycles: the per-cycle state machine and
// the orchestrator that serializes cycles per workspace.
package cycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"winterfox/internal/events"
	"winterfox/internal/graph"
	"winterfox/internal/lead"
	"winterfox/internal/llm"
	"winterfox/internal/logging"
	"winterfox/internal/research"
	"winterfox/internal/store"
	"winterfox/internal/types"
	"winterfox/internal/worker"
)

// Step names the executor states, used in events and failure records.
type Step string

const (
	StepSelecting    Step = "selecting"
	StepDispatching  Step = "dispatching"
	StepSynthesizing Step = "synthesizing"
	StepMerging      Step = "merging"
	StepReassessing  Step = "reassessing"
	StepPersisting   Step = "persisting"
	StepDone         Step = "done"
)

// stepProgress maps each step to its progress percentage.
var stepProgress = map[Step]int{
	StepSelecting:    10,
	StepDispatching:  25,
	StepSynthesizing: 60,
	StepMerging:      80,
	StepReassessing:  90,
	StepPersisting:   95,
	StepDone:         100,
}

// DefaultConsensusBoost is applied to nodes corroborated by multiple
// workers.
const DefaultConsensusBoost = 0.15

// ExecutorConfig wires one executor.
type ExecutorConfig struct {
	Store          *store.Store
	Bus            *events.Bus
	Lead           *lead.Lead
	Workers        []*worker.Worker
	Merger         *graph.Merger
	ContextBuilder *research.ContextBuilder

	WorkspaceID  string
	WorkspaceDir string
	Mission      string

	ConsensusBoost float64
}

// Executor runs single cycles.
type Executor struct {
	cfg ExecutorConfig
}

// NewExecutor returns an executor. Zero ConsensusBoost takes the
// default.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.ConsensusBoost == 0 {
		cfg.ConsensusBoost = DefaultConsensusBoost
	}
	return &Executor{cfg: cfg}
}

// RunOptions narrows one cycle.
type RunOptions struct {
	// TargetID skips selection and researches this node directly.
	TargetID string

	// Instruction is an optional cycle override passed to the Lead and
	// the workers.
	Instruction string
}

// Run executes one full cycle and always persists a CycleRecord, also
// on failure. The returned error is non-nil only when the cycle failed.
func (e *Executor) Run(ctx context.Context, cycleID int, opts RunOptions) (*types.CycleRecord, error) {
	timer := logging.StartTimer(logging.CategoryCycle, fmt.Sprintf("cycle_%d", cycleID))
	defer timer.StopWithInfo()

	start := time.Now()
	record := &types.CycleRecord{
		CycleID:     cycleID,
		WorkspaceID: e.cfg.WorkspaceID,
		CreatedAt:   start.UTC(),
	}

	step := StepSelecting
	err := e.run(ctx, cycleID, opts, record, &step)
	record.LeadCostUSD = e.cfg.Lead.TakeCost()
	record.Duration = time.Since(start)
	record.TotalCostUSD = record.LeadCostUSD + record.WorkerCostUSD

	if err != nil {
		record.Success = false
		// The record carries the stage the cycle died at.
		record.ErrorMessage = fmt.Sprintf("%s: %s", strings.ToUpper(string(step)), err)
		if saveErr := e.cfg.Store.SaveCycleRecord(record); saveErr != nil {
			logging.Get(logging.CategoryCycle).Error("Failed to persist failed cycle %d: %v", cycleID, saveErr)
		}
		e.emit(events.CycleFailed, map[string]any{
			"cycle_id": cycleID,
			"step":     string(step),
			"error":    err.Error(),
		})
		return record, err
	}

	record.Success = true
	if saveErr := e.cfg.Store.SaveCycleRecord(record); saveErr != nil {
		return record, fmt.Errorf("failed to persist cycle record: %w", saveErr)
	}
	e.writeTranscript(cycleID, record)
	e.emitStep(cycleID, StepDone)
	e.emit(events.CycleCompleted, map[string]any{
		"cycle_id":       cycleID,
		"target_node_id": record.TargetNodeID,
		"created":        record.Merge.Created,
		"updated":        record.Merge.Updated,
		"cost_usd":       record.TotalCostUSD,
	})
	return record, nil
}

func (e *Executor) run(ctx context.Context, cycleID int, opts RunOptions, record *types.CycleRecord, step *Step) error {
	// SELECTING
	*step = StepSelecting
	e.emit(events.CycleStarted, map[string]any{"cycle_id": cycleID})
	e.emitStep(cycleID, StepSelecting)

	target, selection, err := e.selectTarget(ctx, cycleID, opts)
	if err != nil {
		return err
	}
	record.TargetNodeID = target.ID
	record.TargetClaim = target.Claim
	if selection != nil {
		record.SelectionReasoning = selection.Reasoning
		record.SelectionStrategy = "lead"
		if selection.Fallback {
			record.SelectionStrategy = "fallback"
		}
	} else {
		record.SelectionStrategy = "explicit"
	}

	// DISPATCHING
	*step = StepDispatching
	e.emitStep(cycleID, StepDispatching)
	outputs, err := e.dispatchWorkers(ctx, target, opts)
	if err != nil {
		return err
	}
	record.Workers = outputs
	for _, o := range outputs {
		record.WorkerCostUSD += o.CostUSD
	}

	succeeded := successfulOutputs(outputs)
	if len(succeeded) == 0 {
		return fmt.Errorf("all %d workers failed", len(outputs))
	}

	// SYNTHESIZING
	*step = StepSynthesizing
	e.emitStep(cycleID, StepSynthesizing)
	e.emit(events.SynthesisStarted, map[string]any{"cycle_id": cycleID})

	synthesis, err := e.cfg.Lead.Synthesize(ctx, lead.SynthesizeInput{
		TargetClaim: target.Claim,
		TargetDepth: target.Depth,
		Workers:     succeeded,
		Override:    opts.Instruction,
	})
	if err != nil {
		return err
	}
	record.SynthesisReasoning = synthesis.Reasoning
	record.ConsensusFindings = synthesis.Consensus
	record.Contradictions = synthesis.Contradictions
	e.emit(events.SynthesisCompleted, map[string]any{
		"cycle_id":       cycleID,
		"directions":     len(synthesis.Directions),
		"consensus":      len(synthesis.Consensus),
		"contradictions": len(synthesis.Contradictions),
	})

	// MERGING
	*step = StepMerging
	e.emitStep(cycleID, StepMerging)
	mergeResult, err := e.cfg.Merger.Merge(e.cfg.WorkspaceID, synthesis.Directions, target.ID, cycleID)
	if err != nil {
		return err
	}
	record.CreatedIDs = mergeResult.CreatedIDs
	record.UpdatedIDs = mergeResult.UpdatedIDs
	record.SkippedIDs = mergeResult.SkippedIDs
	record.Merge = mergeResult.Stats
	for _, id := range mergeResult.CreatedIDs {
		e.emit(events.NodeCreated, map[string]any{"cycle_id": cycleID, "node_id": id})
	}
	for _, id := range mergeResult.UpdatedIDs {
		e.emit(events.NodeUpdated, map[string]any{"cycle_id": cycleID, "node_id": id})
	}
	e.applyConsensusBoost(synthesis.Consensus, cycleID)

	// REASSESSING
	*step = StepReassessing
	e.emitStep(cycleID, StepReassessing)
	if err := e.reassessTarget(ctx, target.ID, synthesis, cycleID); err != nil {
		return err
	}

	// PERSISTING happens in Run after this returns.
	*step = StepPersisting
	e.emitStep(cycleID, StepPersisting)
	return nil
}

// selectTarget resolves the cycle target, bootstrapping an empty graph
// from the mission's first sentence.
func (e *Executor) selectTarget(ctx context.Context, cycleID int, opts RunOptions) (*types.Direction, *lead.Selection, error) {
	if opts.TargetID != "" {
		target, err := e.cfg.Store.GetNode(opts.TargetID)
		if err != nil {
			return nil, nil, fmt.Errorf("explicit target %s: %w", opts.TargetID, err)
		}
		return target, nil, nil
	}

	active, err := e.cfg.Store.GetActiveNodes(e.cfg.WorkspaceID)
	if err != nil {
		return nil, nil, err
	}
	if len(active) == 0 {
		root, err := e.bootstrapRoot(cycleID)
		if err != nil {
			return nil, nil, err
		}
		return root, nil, nil
	}

	summary, err := graph.SummaryView(e.cfg.Store, e.cfg.WorkspaceID)
	if err != nil {
		summary = ""
	}
	weakest, err := graph.WeakestView(e.cfg.Store, e.cfg.WorkspaceID, 8)
	if err != nil {
		weakest = ""
	}

	now := time.Now()
	candidates := make([]lead.Candidate, 0, len(active))
	for _, n := range active {
		candidates = append(candidates, lead.Candidate{
			ID:         n.ID,
			Claim:      n.Claim,
			Confidence: n.Confidence,
			Importance: n.Importance,
			Depth:      n.Depth,
			Staleness:  n.Staleness(now),
			ChildCount: len(n.Children),
		})
	}

	var lastSelected string
	if prior, err := e.cfg.Store.ListCycleRecords(e.cfg.WorkspaceID, store.CycleFilter{OnlySuccessful: true, Limit: 1}); err == nil && len(prior) > 0 {
		lastSelected = prior[0].TargetClaim
	}

	selection, err := e.cfg.Lead.Select(ctx, lead.SelectInput{
		SummaryView:  summary,
		WeakestView:  weakest,
		Candidates:   candidates,
		LastSelected: lastSelected,
		Override:     opts.Instruction,
	})
	if err != nil {
		return nil, nil, err
	}

	target, err := e.cfg.Store.GetNode(selection.NodeID)
	if err != nil {
		return nil, nil, fmt.Errorf("selected node %s: %w", selection.NodeID, err)
	}
	return target, selection, nil
}

func (e *Executor) bootstrapRoot(cycleID int) (*types.Direction, error) {
	claim := firstSentence(e.cfg.Mission)
	if claim == "" {
		return nil, fmt.Errorf("cannot bootstrap: mission is empty")
	}

	root := &types.Direction{
		ID:             uuid.NewString(),
		WorkspaceID:    e.cfg.WorkspaceID,
		Claim:          claim,
		Description:    e.cfg.Mission,
		Confidence:     0.5,
		Importance:     1.0,
		Status:         types.StatusActive,
		Kind:           types.KindDirection,
		CreatedByCycle: cycleID,
		UpdatedByCycle: cycleID,
	}
	if err := e.cfg.Store.CreateNode(root); err != nil {
		return nil, fmt.Errorf("failed to bootstrap root: %w", err)
	}
	logging.Cycle("Bootstrapped root direction from mission: %s", claim)
	e.emit(events.NodeCreated, map[string]any{"cycle_id": cycleID, "node_id": root.ID, "bootstrap": true})
	return root, nil
}

// dispatchWorkers runs every worker in parallel with all-settled
// semantics: outputs come back in start order, individual failures are
// kept as failed outputs. Only auth errors abort the dispatch.
func (e *Executor) dispatchWorkers(ctx context.Context, target *types.Direction, opts RunOptions) ([]types.WorkerOutput, error) {
	focused, err := graph.FocusedView(e.cfg.Store, target.ID)
	if err != nil {
		return nil, err
	}

	priorContext := ""
	if e.cfg.ContextBuilder != nil {
		if built, err := e.cfg.ContextBuilder.Build(ctx, e.cfg.WorkspaceID); err == nil {
			priorContext = built
		}
	}
	docs, err := e.cfg.Store.ListContextDocuments(e.cfg.WorkspaceID)
	if err != nil {
		docs = nil
	}

	in := worker.RunInput{
		Mission:      e.cfg.Mission,
		FocusedView:  focused,
		PriorContext: priorContext,
		ContextDocs:  docs,
		Override:     opts.Instruction,
	}

	outputs := make([]types.WorkerOutput, len(e.cfg.Workers))
	errs := make([]error, len(e.cfg.Workers))

	var wg sync.WaitGroup
	for i, w := range e.cfg.Workers {
		wg.Add(1)
		go func(i int, w *worker.Worker) {
			defer wg.Done()
			e.emit(events.AgentStarted, map[string]any{"worker": i})
			out, err := w.Run(ctx, in)
			if err != nil {
				errs[i] = err
				return
			}
			outputs[i] = *out
			for _, s := range out.Searches {
				e.emit(events.AgentSearch, map[string]any{"worker": i, "query": s.Query, "engine": s.Engine})
			}
			e.emit(events.AgentCompleted, map[string]any{
				"worker": i, "failed": out.Failed, "tokens": out.TokensTotal, "cost_usd": out.CostUSD,
			})
		}(i, w)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil && llm.IsAuthError(err) {
			return nil, err
		}
	}
	for i, err := range errs {
		if err != nil {
			outputs[i] = types.WorkerOutput{
				AgentName: fmt.Sprintf("worker_%d", i+1),
				Failed:    true,
				Error:     err.Error(),
			}
		}
	}
	return outputs, nil
}

func successfulOutputs(outputs []types.WorkerOutput) []types.WorkerOutput {
	var out []types.WorkerOutput
	for _, o := range outputs {
		if !o.Failed {
			out = append(out, o)
		}
	}
	return out
}

// applyConsensusBoost corroborates graph nodes matching consensus
// findings. Failures here never fail the cycle.
func (e *Executor) applyConsensusBoost(consensus []string, cycleID int) {
	for _, claim := range consensus {
		matches, err := graph.FindSimilar(e.cfg.Store, e.cfg.WorkspaceID, claim, "", graph.DefaultMergeThreshold, 1)
		if err != nil || len(matches) == 0 {
			continue
		}
		if err := graph.BoostConfidence(e.cfg.Store, matches[0].Direction.ID, e.cfg.ConsensusBoost, cycleID); err != nil {
			logging.CycleDebug("Consensus boost failed for %s: %v", matches[0].Direction.ID, err)
		}
	}
}

func (e *Executor) reassessTarget(ctx context.Context, targetID string, synthesis *lead.Synthesis, cycleID int) error {
	target, err := e.cfg.Store.GetNode(targetID)
	if err != nil {
		return err
	}

	reassessment, err := e.cfg.Lead.Reassess(ctx, lead.ReassessInput{
		Target:         target,
		Directions:     synthesis.Directions,
		Consensus:      synthesis.Consensus,
		Contradictions: synthesis.Contradictions,
	})
	if err != nil {
		return err
	}

	target.Confidence = reassessment.Confidence
	target.Importance = reassessment.Importance
	target.Status = reassessment.Status
	target.UpdatedByCycle = cycleID
	if err := e.cfg.Store.UpdateNode(target); err != nil {
		return fmt.Errorf("failed to apply reassessment: %w", err)
	}
	if err := graph.PropagateUpward(e.cfg.Store, target.ID); err != nil {
		logging.CycleDebug("Post-reassessment propagation failed: %v", err)
	}
	e.emit(events.NodeUpdated, map[string]any{"cycle_id": cycleID, "node_id": target.ID, "reassessed": true})
	return nil
}

// writeTranscript saves the raw worker material for auditability.
func (e *Executor) writeTranscript(cycleID int, record *types.CycleRecord) {
	if e.cfg.WorkspaceDir == "" {
		return
	}
	dir := filepath.Join(e.cfg.WorkspaceDir, "raw", time.Now().UTC().Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logging.Get(logging.CategoryCycle).Warn("Failed to create transcript dir: %v", err)
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Cycle %d\n\nTarget: %s\n\n", cycleID, record.TargetClaim)
	for _, w := range record.Workers {
		fmt.Fprintf(&sb, "## %s (%s)\n\n", w.AgentName, w.Model)
		if w.Failed {
			fmt.Fprintf(&sb, "FAILED: %s\n\n", w.Error)
			continue
		}
		fmt.Fprintf(&sb, "%s\n\n", w.RawText)
		if w.Critique != "" {
			fmt.Fprintf(&sb, "### Self-critique\n\n%s\n\n", w.Critique)
		}
		if len(w.Searches) > 0 {
			sb.WriteString("### Searches\n\n")
			for _, s := range w.Searches {
				fmt.Fprintf(&sb, "- %s (%s)\n", s.Query, s.Engine)
			}
			sb.WriteString("\n")
		}
	}

	path := filepath.Join(dir, fmt.Sprintf("cycle_%d.md", cycleID))
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		logging.Get(logging.CategoryCycle).Warn("Failed to write transcript %s: %v", path, err)
	}
}

func (e *Executor) emit(typ events.Type, data map[string]any) {
	if e.cfg.Bus != nil {
		e.cfg.Bus.Emit(e.cfg.WorkspaceID, typ, data)
	}
}

func (e *Executor) emitStep(cycleID int, step Step) {
	e.emit(events.CycleStep, map[string]any{
		"cycle_id": cycleID,
		"step":     string(step),
		"progress": stepProgress[step],
	})
}

// firstSentence returns the first sentence of text, trimmed.
func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			return strings.TrimSpace(text[:i])
		}
	}
	return text
}
