package graph

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"winterfox/internal/logging"
	"winterfox/internal/store"
	"winterfox/internal/types"
)

// DeduplicateChildren consolidates near-duplicate siblings under one
// parent. Children are scanned in store order; each unvisited child is
// grouped with later siblings whose claims score at or above threshold,
// and every group of two or more is merged. Running the pass twice
// yields the same active children as running it once.
func DeduplicateChildren(s *store.Store, parentID string, cycleID int, threshold float64) (int, error) {
	timer := logging.StartTimer(logging.CategoryMerge, "DeduplicateChildren")
	defer timer.Stop()

	children, err := s.GetChildren(parentID)
	if err != nil {
		return 0, err
	}

	var active []*types.Direction
	for _, c := range children {
		if !c.Status.Terminal() {
			active = append(active, c)
		}
	}

	merged := 0
	visited := make(map[string]bool)
	for i, child := range active {
		if visited[child.ID] {
			continue
		}
		group := []*types.Direction{child}
		for _, sibling := range active[i+1:] {
			if visited[sibling.ID] {
				continue
			}
			if JaccardSimilarity(child.Claim, sibling.Claim) >= threshold {
				group = append(group, sibling)
				visited[sibling.ID] = true
			}
		}
		visited[child.ID] = true
		if len(group) < 2 {
			continue
		}

		ids := make([]string, len(group))
		for j, g := range group {
			ids[j] = g.ID
		}
		if _, err := MergeNodes(s, ids, cycleID); err != nil {
			return merged, fmt.Errorf("dedup merge of %d siblings failed: %w", len(group), err)
		}
		merged++
	}

	if merged > 0 {
		logging.Merge("Deduplicated children of %s: %d group(s) merged", parentID, merged)
	}
	return merged, nil
}

// MergeNodes consolidates the given directions into one new node under
// their common parent. The longest claim wins; evidence and sources are
// unioned and confidence recomputed from the union; importance and
// depth take the group maximum. Children of merged nodes are reparented
// to the new node, and the originals become status merged with a
// merged_into tag.
func MergeNodes(s *store.Store, ids []string, cycleID int) (*types.Direction, error) {
	if len(ids) < 2 {
		return nil, fmt.Errorf("merge requires at least 2 nodes, got %d", len(ids))
	}

	nodes := make([]*types.Direction, 0, len(ids))
	for _, id := range ids {
		d, err := s.GetNode(id)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, d)
	}

	first := nodes[0]
	merged := &types.Direction{
		ID:             uuid.NewString(),
		WorkspaceID:    first.WorkspaceID,
		ParentID:       first.ParentID,
		Claim:          first.Claim,
		Description:    first.Description,
		Status:         types.StatusActive,
		Kind:           types.KindDirection,
		CreatedByCycle: cycleID,
		UpdatedByCycle: cycleID,
	}

	seenEvidence := make(map[string]bool)
	seenSources := make(map[string]bool)
	for _, n := range nodes {
		if len(n.Claim) > len(merged.Claim) {
			merged.Claim = n.Claim
		}
		if len(n.Description) > len(merged.Description) {
			merged.Description = n.Description
		}
		if n.Importance > merged.Importance {
			merged.Importance = n.Importance
		}
		if n.Depth > merged.Depth {
			merged.Depth = n.Depth
		}
		for _, e := range n.Evidence {
			key := e.Source + "|" + e.Text
			if !seenEvidence[key] {
				seenEvidence[key] = true
				merged.Evidence = append(merged.Evidence, e)
			}
		}
		for _, src := range n.Sources {
			if !seenSources[src] {
				seenSources[src] = true
				merged.Sources = append(merged.Sources, src)
			}
		}
		for _, tag := range n.Tags {
			merged.AddTag(tag)
		}
	}
	merged.Confidence = EvidenceConfidence(len(merged.Evidence))

	if err := s.CreateNode(merged); err != nil {
		return nil, err
	}

	// Reparent the originals' children, then retire the originals.
	for _, n := range nodes {
		children, err := s.GetChildren(n.ID)
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			c.ParentID = merged.ID
			c.UpdatedByCycle = cycleID
			if err := s.UpdateNode(c); err != nil {
				return nil, err
			}
			merged.Children = append(merged.Children, c.ID)
		}

		n.Status = types.StatusMerged
		n.AddTag("merged_into:" + merged.ID)
		n.Children = nil
		n.UpdatedByCycle = cycleID
		n.UpdatedAt = time.Now().UTC()
		if err := s.UpdateNode(n); err != nil {
			return nil, err
		}
	}
	if len(merged.Children) > 0 {
		if err := s.UpdateNode(merged); err != nil {
			return nil, err
		}
	}

	// Drop the retired ids from the parent's child projection so it
	// lists only live children plus the new node.
	if merged.ParentID != "" {
		parent, err := s.GetNode(merged.ParentID)
		if err != nil {
			return nil, err
		}
		retired := make(map[string]bool, len(nodes))
		for _, n := range nodes {
			retired[n.ID] = true
		}
		kept := parent.Children[:0]
		for _, id := range parent.Children {
			if !retired[id] {
				kept = append(kept, id)
			}
		}
		parent.Children = kept
		parent.UpdatedByCycle = cycleID
		if err := s.UpdateNode(parent); err != nil {
			return nil, err
		}
	}

	logging.Merge("Merged %d nodes into %s: %s", len(nodes), merged.ID,
		types.TruncateString(merged.Claim, 80))
	return merged, nil
}
