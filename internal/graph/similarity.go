// Package graph implements the direction-graph semantics on top of the
// store: claim similarity, sibling deduplication, merge of synthesized
// directions, confidence propagation, and token-budgeted views.
package graph

import (
	"sort"
	"strings"

	"winterfox/internal/store"
	"winterfox/internal/types"
)

// Default similarity thresholds.
const (
	DefaultMergeThreshold = 0.75
	DefaultDedupThreshold = 0.85
)

// JaccardSimilarity computes token-set Jaccard similarity between two
// claims. Tokens are lowercased whitespace fields. Identical claims
// score 1.0, an empty claim scores 0.0 against anything.
func JaccardSimilarity(a, b string) float64 {
	tokensA := tokenize(a)
	tokensB := tokenize(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}

	intersection := 0
	for tok := range tokensA {
		if _, ok := tokensB[tok]; ok {
			intersection++
		}
	}
	union := len(tokensA) + len(tokensB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func tokenize(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		out[tok] = struct{}{}
	}
	return out
}

// SimilarMatch pairs a direction with its similarity score.
type SimilarMatch struct {
	Score     float64
	Direction *types.Direction
}

// FindSimilar returns up to limit active directions whose claims score
// at or above threshold against claim, descending by score. When
// parentID is non-empty the search is restricted to that node's
// children, otherwise all active workspace nodes are considered.
func FindSimilar(s *store.Store, workspaceID, claim, parentID string, threshold float64, limit int) ([]SimilarMatch, error) {
	var candidates []*types.Direction
	var err error
	if parentID != "" {
		candidates, err = s.GetChildren(parentID)
	} else {
		candidates, err = s.GetActiveNodes(workspaceID)
	}
	if err != nil {
		return nil, err
	}

	var matches []SimilarMatch
	for _, c := range candidates {
		if c.Status.Terminal() {
			continue
		}
		score := JaccardSimilarity(claim, c.Claim)
		if score >= threshold {
			matches = append(matches, SimilarMatch{Score: score, Direction: c})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}
