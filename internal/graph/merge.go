package graph

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"winterfox/internal/logging"
	"winterfox/internal/store"
	"winterfox/internal/types"
)

// MergerConfig carries the thresholds applied when synthesized
// directions are folded into the graph.
type MergerConfig struct {
	MergeThreshold     float64 // claim similarity at which a finding updates an existing node
	DedupThreshold     float64 // sibling similarity at which children are consolidated
	ConfidenceDiscount float64 // haircut on LLM-reported confidence
}

// DefaultMergerConfig returns the standard thresholds.
func DefaultMergerConfig() MergerConfig {
	return MergerConfig{
		MergeThreshold:     DefaultMergeThreshold,
		DedupThreshold:     DefaultDedupThreshold,
		ConfidenceDiscount: 0.7,
	}
}

// MergeResult reports what one merge pass did to the graph.
type MergeResult struct {
	Stats      types.MergeStats
	CreatedIDs []string
	UpdatedIDs []string
	SkippedIDs []string
}

// Merger folds Lead-synthesized directions into the graph under a
// target node, then deduplicates the target's children.
type Merger struct {
	store  *store.Store
	config MergerConfig
}

// NewMerger returns a merger over the given store.
func NewMerger(s *store.Store, config MergerConfig) *Merger {
	if config.MergeThreshold == 0 {
		config.MergeThreshold = DefaultMergeThreshold
	}
	if config.DedupThreshold == 0 {
		config.DedupThreshold = DefaultDedupThreshold
	}
	if config.ConfidenceDiscount == 0 {
		config.ConfidenceDiscount = 0.7
	}
	return &Merger{store: s, config: config}
}

// Merge processes synthesized directions in order. A direction whose
// claim matches an existing child of the target (similarity at or above
// the merge threshold) updates that child; otherwise a new child is
// created. A sibling dedup pass runs after all directions are merged.
func (m *Merger) Merge(workspaceID string, directions []types.SynthesizedDirection, targetID string, cycleID int) (*MergeResult, error) {
	timer := logging.StartTimer(logging.CategoryMerge, "Merge")
	defer timer.Stop()

	target, err := m.store.GetNode(targetID)
	if err != nil {
		return nil, fmt.Errorf("merge target: %w", err)
	}

	result := &MergeResult{}
	for _, dir := range directions {
		matches, err := FindSimilar(m.store, workspaceID, dir.Claim, targetID, m.config.MergeThreshold, 1)
		if err != nil {
			return result, err
		}

		if len(matches) > 0 {
			id, err := m.updateExisting(matches[0].Direction, dir, cycleID)
			if err != nil {
				return result, err
			}
			result.UpdatedIDs = append(result.UpdatedIDs, id)
			result.Stats.Updated++
		} else {
			id, err := m.createNew(target, dir, cycleID)
			if err != nil {
				return result, err
			}
			result.CreatedIDs = append(result.CreatedIDs, id)
			result.Stats.Created++
		}
	}

	if _, err := DeduplicateChildren(m.store, targetID, cycleID, m.config.DedupThreshold); err != nil {
		return result, err
	}

	logging.Merge("Merge pass for cycle %d: %d created, %d updated, %d skipped",
		cycleID, result.Stats.Created, result.Stats.Updated, result.Stats.Skipped)
	return result, nil
}

// updateExisting folds a synthesized direction into a matching node.
// The finding is recorded as a synthetic evidence entry attributed to
// the Lead, and the new signal is combined into the node's confidence
// after the discount haircut.
func (m *Merger) updateExisting(existing *types.Direction, dir types.SynthesizedDirection, cycleID int) (string, error) {
	evidence := types.Evidence{
		Text:       dir.EvidenceSummary,
		Source:     fmt.Sprintf("lead_llm_synthesis_cycle_%d", cycleID),
		ObservedAt: time.Now().UTC(),
		VerifiedBy: []string{fmt.Sprintf("lead_llm_cycle_%d", cycleID)},
	}
	existing.Evidence = append(existing.Evidence, evidence)

	discounted := types.Clamp01(dir.Confidence) * m.config.ConfidenceDiscount
	existing.Confidence = CombineConfidence(existing.Confidence, discounted)

	if len(dir.Claim) > len(existing.Claim) {
		existing.Claim = dir.Claim
	}
	if len(dir.Description) > len(existing.Description) {
		existing.Description = dir.Description
	}
	existing.Importance = types.Clamp01(0.7*existing.Importance + 0.3*dir.Importance)
	for _, tag := range dir.Tags {
		existing.AddTag(tag)
	}
	if dir.Outcome == types.OutcomeComplete || dir.Outcome == types.OutcomeClose {
		existing.Status = types.StatusCompleted
	}
	existing.UpdatedByCycle = cycleID

	if err := m.store.UpdateNode(existing); err != nil {
		return "", err
	}
	logging.MergeDebug("Updated %s (conf %.3f): %s", existing.ID, existing.Confidence,
		types.TruncateString(existing.Claim, 80))
	return existing.ID, nil
}

// createNew inserts a synthesized direction as a fresh child of the
// target. LLM-reported confidence is discounted before persistence.
func (m *Merger) createNew(target *types.Direction, dir types.SynthesizedDirection, cycleID int) (string, error) {
	status := types.StatusActive
	if dir.Outcome == types.OutcomeComplete || dir.Outcome == types.OutcomeClose {
		status = types.StatusCompleted
	}

	node := &types.Direction{
		ID:             uuid.NewString(),
		WorkspaceID:    target.WorkspaceID,
		ParentID:       target.ID,
		Claim:          dir.Claim,
		Description:    dir.Description,
		Confidence:     types.Clamp01(dir.Confidence) * m.config.ConfidenceDiscount,
		Importance:     types.Clamp01(dir.Importance),
		Depth:          target.Depth + 1,
		Status:         status,
		Kind:           types.KindDirection,
		Tags:           append([]string(nil), dir.Tags...),
		CreatedByCycle: cycleID,
		UpdatedByCycle: cycleID,
	}
	if dir.EvidenceSummary != "" {
		node.Evidence = append(node.Evidence, types.Evidence{
			Text:       dir.EvidenceSummary,
			Source:     fmt.Sprintf("lead_llm_synthesis_cycle_%d", cycleID),
			ObservedAt: time.Now().UTC(),
			VerifiedBy: []string{fmt.Sprintf("lead_llm_cycle_%d", cycleID)},
		})
	}

	if err := m.store.CreateNode(node); err != nil {
		return "", err
	}
	logging.MergeDebug("Created %s under %s (conf %.3f): %s", node.ID, target.ID,
		node.Confidence, types.TruncateString(node.Claim, 80))
	return node.ID, nil
}
