package graph

import (
	"math"
	"sort"
	"strings"

	"winterfox/internal/logging"
	"winterfox/internal/store"
	"winterfox/internal/types"
)

const (
	// evidenceItemConfidence is the per-item signal strength used by the
	// independent-confirmation formula.
	evidenceItemConfidence = 0.7

	// ConfidenceCap is the ceiling for every derived confidence.
	ConfidenceCap = 0.95

	// DefaultConsensusBoost is added when multiple workers independently
	// corroborate a direction.
	DefaultConsensusBoost = 0.15

	// maxPropagationDepth bounds parent/child walks. The graph is a tree
	// by invariant; the bound is a safety net against corrupted links.
	maxPropagationDepth = 10
)

// EvidenceConfidence derives confidence from k independent evidence
// items: 1 - (1-e)^k with e = 0.7, capped at 0.95. Zero evidence gives
// zero confidence.
func EvidenceConfidence(k int) float64 {
	if k <= 0 {
		return 0
	}
	conf := 1 - math.Pow(1-evidenceItemConfidence, float64(k))
	return math.Min(conf, ConfidenceCap)
}

// CombineConfidence folds a new independent signal into an existing
// confidence: 1 - (1-old)(1-new), capped at 0.95.
func CombineConfidence(old, new float64) float64 {
	return math.Min(1-(1-old)*(1-new), ConfidenceCap)
}

// NodeConfidence computes a node's derived confidence from its own
// evidence and its children. Leaves use evidence-confidence directly.
// Internal nodes blend own and child signal with a child weight that
// grows with the number of children, capped at 0.7.
func NodeConfidence(d *types.Direction, children []*types.Direction) float64 {
	own := EvidenceConfidence(len(d.Evidence))

	live := liveChildren(children)
	if len(live) == 0 {
		return own
	}

	if conf, ok := legacyHypothesisConfidence(d, live); ok {
		return conf
	}

	wChild := math.Min(0.7, float64(len(live))/10)
	wOwn := 1 - wChild

	sum := 0.0
	for _, c := range live {
		sum += c.Confidence
	}
	mean := sum / float64(len(live))

	return math.Min(wOwn*own+wChild*mean, ConfidenceCap)
}

// legacyHypothesisConfidence handles migrated hypothesis nodes whose
// children still carry supporting/opposing legacy markers. Confidence
// is the support fraction clamped to [0.05, 0.95]. Returns ok=false
// when no marked children exist, falling back to the default rule.
func legacyHypothesisConfidence(d *types.Direction, children []*types.Direction) (float64, bool) {
	if !d.HasTag("legacy_kind:hypothesis") {
		return 0, false
	}
	support, oppose := 0, 0
	for _, c := range children {
		switch {
		case c.HasTag("legacy_kind:supporting"):
			support++
		case c.HasTag("legacy_kind:opposing"):
			oppose++
		}
	}
	if support+oppose == 0 {
		return 0, false
	}
	conf := float64(support) / float64(support+oppose)
	if conf < 0.05 {
		conf = 0.05
	}
	if conf > ConfidenceCap {
		conf = ConfidenceCap
	}
	return conf, true
}

func liveChildren(children []*types.Direction) []*types.Direction {
	var out []*types.Direction
	for _, c := range children {
		if !c.Status.Terminal() {
			out = append(out, c)
		}
	}
	return out
}

// PropagateUpward recomputes confidence for the node and each ancestor
// up to maxDepth levels, writing only meaningful changes.
func PropagateUpward(s *store.Store, nodeID string) error {
	id := nodeID
	for i := 0; i < maxPropagationDepth && id != ""; i++ {
		d, err := s.GetNode(id)
		if err != nil {
			return err
		}
		if _, err := recomputeNode(s, d); err != nil {
			return err
		}
		id = d.ParentID
	}
	return nil
}

// PropagateDownward recomputes confidence for the node's subtree,
// deepest nodes first so parents see fresh child values. Used after
// bulk edits.
func PropagateDownward(s *store.Store, nodeID string) error {
	var order []*types.Direction
	if err := collectSubtree(s, nodeID, 0, &order); err != nil {
		return err
	}
	// Deepest first.
	sort.SliceStable(order, func(i, j int) bool {
		return order[i].Depth > order[j].Depth
	})
	for _, d := range order {
		if _, err := recomputeNode(s, d); err != nil {
			return err
		}
	}
	return nil
}

func collectSubtree(s *store.Store, id string, depth int, out *[]*types.Direction) error {
	if depth > maxPropagationDepth {
		return nil
	}
	d, err := s.GetNode(id)
	if err != nil {
		return err
	}
	*out = append(*out, d)
	children, err := s.GetChildren(id)
	if err != nil {
		return err
	}
	for _, c := range children {
		if c.Status.Terminal() {
			continue
		}
		if err := collectSubtree(s, c.ID, depth+1, out); err != nil {
			return err
		}
	}
	return nil
}

// RecalculateAll recomputes every active node's confidence, deepest
// first so leaves are finalized before their parents. Writes happen
// only when the change exceeds 0.01.
func RecalculateAll(s *store.Store, workspaceID string) (int, error) {
	timer := logging.StartTimer(logging.CategoryGraph, "RecalculateAll")
	defer timer.Stop()

	nodes, err := s.GetActiveNodes(workspaceID)
	if err != nil {
		return 0, err
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].Depth > nodes[j].Depth
	})

	updated := 0
	for _, d := range nodes {
		changed, err := recomputeNode(s, d)
		if err != nil {
			return updated, err
		}
		if changed {
			updated++
		}
	}
	logging.Graph("Recalculated confidence for %d nodes (%d changed)", len(nodes), updated)
	return updated, nil
}

// recomputeNode derives and persists a node's confidence. Returns
// whether a write happened.
func recomputeNode(s *store.Store, d *types.Direction) (bool, error) {
	children, err := s.GetChildren(d.ID)
	if err != nil {
		return false, err
	}
	conf := NodeConfidence(d, children)
	if math.Abs(conf-d.Confidence) <= 0.01 {
		return false, nil
	}
	logging.GraphDebug("Confidence %s: %.3f -> %.3f", d.ID, d.Confidence, conf)
	d.Confidence = conf
	if err := s.UpdateNode(d); err != nil {
		return false, err
	}
	return true, nil
}

// BoostConfidence raises a node's confidence by boost (capped) and
// propagates the change upward.
func BoostConfidence(s *store.Store, nodeID string, boost float64, cycleID int) error {
	d, err := s.GetNode(nodeID)
	if err != nil {
		return err
	}
	old := d.Confidence
	d.Confidence = math.Min(d.Confidence+boost, ConfidenceCap)
	d.UpdatedByCycle = cycleID
	if err := s.UpdateNode(d); err != nil {
		return err
	}
	logging.Graph("Boosted %s confidence %.3f -> %.3f", nodeID, old, d.Confidence)
	if d.ParentID != "" {
		return PropagateUpward(s, d.ParentID)
	}
	return nil
}

// joinPreview is a small helper shared by views for comma-joined lists.
func joinPreview(items []string, max int) string {
	if len(items) > max {
		items = items[:max]
	}
	return strings.Join(items, ", ")
}
