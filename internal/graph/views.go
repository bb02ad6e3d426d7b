package graph

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"winterfox/internal/store"
	"winterfox/internal/types"
)

// View defaults.
const (
	SummaryMaxDepth = 2
	SummaryMaxNodes = 50
	FocusedMaxDepth = 3

	staleAfter = 72 * time.Hour
)

// confidenceBand renders a coarse indicator for a confidence value.
func confidenceBand(conf float64) string {
	switch {
	case conf >= 0.8:
		return "[####]"
	case conf >= 0.6:
		return "[###.]"
	case conf >= 0.4:
		return "[##..]"
	default:
		return "[#...]"
	}
}

// nodeMarkers returns the status markers shown next to a node in the
// summary view. SHALLOW flags a root that was never refined; DISPUTED
// follows the disputed tag set during synthesis.
func nodeMarkers(d *types.Direction, now time.Time) []string {
	var markers []string
	if d.Confidence < 0.4 {
		markers = append(markers, "LOW-CONF")
	}
	if d.Staleness(now) > staleAfter {
		markers = append(markers, "STALE")
	}
	if d.Depth == 0 && len(d.Children) == 0 {
		markers = append(markers, "SHALLOW")
	}
	if d.HasTag("disputed") {
		markers = append(markers, "DISPUTED")
	}
	return markers
}

// SummaryView renders the top of the tree, one line per node, to
// SummaryMaxDepth and at most SummaryMaxNodes nodes.
func SummaryView(s *store.Store, workspaceID string) (string, error) {
	roots, err := s.GetRoots(workspaceID)
	if err != nil {
		return "", err
	}
	now := time.Now()

	var b strings.Builder
	count := 0
	var render func(d *types.Direction, depth int) error
	render = func(d *types.Direction, depth int) error {
		if depth > SummaryMaxDepth || count >= SummaryMaxNodes {
			return nil
		}
		count++

		indent := strings.Repeat("  ", depth)
		line := fmt.Sprintf("%s- %s %s (d%d, %d children, %s)",
			indent, confidenceBand(d.Confidence),
			types.TruncateString(d.Claim, 90), d.Depth, len(d.Children), d.Status)
		if markers := nodeMarkers(d, now); len(markers) > 0 {
			line += " {" + joinPreview(markers, 4) + "}"
		}
		b.WriteString(line)
		b.WriteString("\n")

		children, err := s.GetChildren(d.ID)
		if err != nil {
			return err
		}
		for _, c := range children {
			if c.Status.Terminal() {
				continue
			}
			if err := render(c, depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	for _, root := range roots {
		if root.Status.Terminal() {
			continue
		}
		if err := render(root, 0); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}

// FocusedView renders the path from root to the target, the target's
// full attributes with an evidence preview, and the subtree below it
// to FocusedMaxDepth.
func FocusedView(s *store.Store, targetID string) (string, error) {
	target, err := s.GetNode(targetID)
	if err != nil {
		return "", err
	}

	// Path to root, rendered root first.
	var path []*types.Direction
	for cur := target; cur.ParentID != ""; {
		parent, err := s.GetNode(cur.ParentID)
		if err != nil {
			break
		}
		path = append([]*types.Direction{parent}, path...)
		cur = parent
	}

	var b strings.Builder
	if len(path) > 0 {
		b.WriteString("## Path\n")
		for i, p := range path {
			b.WriteString(fmt.Sprintf("%s- %s\n", strings.Repeat("  ", i),
				types.TruncateString(p.Claim, 100)))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Target direction\n")
	b.WriteString(fmt.Sprintf("Claim: %s\n", target.Claim))
	if target.Description != "" {
		b.WriteString(fmt.Sprintf("Description: %s\n", target.Description))
	}
	b.WriteString(fmt.Sprintf("Confidence: %.2f | Importance: %.2f | Depth: %d | Status: %s\n",
		target.Confidence, target.Importance, target.Depth, target.Status))
	if len(target.Tags) > 0 {
		b.WriteString(fmt.Sprintf("Tags: %s\n", joinPreview(target.Tags, 8)))
	}
	if len(target.Evidence) > 0 {
		b.WriteString("Evidence:\n")
		for i, e := range target.Evidence {
			if i >= 5 {
				b.WriteString(fmt.Sprintf("  (and %d more)\n", len(target.Evidence)-i))
				break
			}
			b.WriteString(fmt.Sprintf("  - %s (%s)\n",
				types.TruncateString(e.Text, 160), e.Source))
		}
	}
	b.WriteString("\n")

	var renderSubtree func(id string, depth int) error
	renderSubtree = func(id string, depth int) error {
		if depth > FocusedMaxDepth {
			return nil
		}
		children, err := s.GetChildren(id)
		if err != nil {
			return err
		}
		for _, c := range children {
			if c.Status.Terminal() {
				continue
			}
			b.WriteString(fmt.Sprintf("%s- %s %s (conf %.2f)\n",
				strings.Repeat("  ", depth), confidenceBand(c.Confidence),
				types.TruncateString(c.Claim, 90), c.Confidence))
			if err := renderSubtree(c.ID, depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	children, err := s.GetChildren(targetID)
	if err != nil {
		return "", err
	}
	if len(children) > 0 {
		b.WriteString("## Subtree\n")
		if err := renderSubtree(targetID, 0); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}

// WeakNode pairs a direction with its exploration-priority score.
type WeakNode struct {
	Score     float64
	Direction *types.Direction
}

// WeakestNodes ranks active nodes by how much they would benefit from
// more research: low confidence, high importance, and staleness all
// raise the score.
func WeakestNodes(s *store.Store, workspaceID string, n int) ([]WeakNode, error) {
	nodes, err := s.GetActiveNodes(workspaceID)
	if err != nil {
		return nil, err
	}
	now := time.Now()

	scored := make([]WeakNode, 0, len(nodes))
	for _, d := range nodes {
		if d.Status != types.StatusActive && d.Status != types.StatusSpeculative {
			continue
		}
		stalenessHours := d.Staleness(now).Hours()
		bonus := math.Log(1+stalenessHours/24) * 0.2
		score := 0.5*(1-d.Confidence) + 0.3*d.Importance + 0.2*bonus
		scored = append(scored, WeakNode{Score: score, Direction: d})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})
	if n > 0 && len(scored) > n {
		scored = scored[:n]
	}
	return scored, nil
}

// WeakestView renders the weakest-N ranking as text.
func WeakestView(s *store.Store, workspaceID string, n int) (string, error) {
	weak, err := WeakestNodes(s, workspaceID, n)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, w := range weak {
		b.WriteString(fmt.Sprintf("- [%.2f] %s (conf %.2f, imp %.2f)\n",
			w.Score, types.TruncateString(w.Direction.Claim, 90),
			w.Direction.Confidence, w.Direction.Importance))
	}
	return b.String(), nil
}

// TruncateForBudget cuts text to at most budget characters, breaking at
// the last newline past half the budget when one exists, and appends a
// truncation marker.
func TruncateForBudget(text string, budget int) string {
	if budget <= 0 || len(text) <= budget {
		return text
	}
	marker := "\n[...truncated for token budget]"
	cut := budget
	if cut > len(text) {
		cut = len(text)
	}
	head := text[:cut]
	if nl := strings.LastIndex(head, "\n"); nl >= budget/2 {
		head = head[:nl]
	}
	return head + marker
}
