// Package research assembles the accumulated-knowledge context that
// feeds each cycle, and keeps workspace context documents in sync.
package research

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"winterfox/internal/graph"
	"winterfox/internal/logging"
	"winterfox/internal/store"
	"winterfox/internal/types"
)

// SectionBudgets holds the per-section character budgets. Characters
// approximate tokens at roughly 4 chars per token.
type SectionBudgets struct {
	GraphSummary   int
	CycleSummaries int
	SearchHistory  int
	Contradictions int
	WeakestNodes   int
	OpenQuestions  int
}

// DefaultSectionBudgets returns the standard budgets.
func DefaultSectionBudgets() SectionBudgets {
	return SectionBudgets{
		GraphSummary:   3200,
		CycleSummaries: 4800,
		SearchHistory:  2400,
		Contradictions: 1600,
		WeakestNodes:   1600,
		OpenQuestions:  2400,
	}
}

const (
	cycleSummaryWindow  = 10
	critiqueWindow      = 10
	weakestCount        = 8
	searchHistoryWindow = 100
)

// ContextBuilder renders prior-knowledge context for worker prompts.
type ContextBuilder struct {
	store   *store.Store
	budgets SectionBudgets
}

// NewContextBuilder returns a builder over the given store.
func NewContextBuilder(s *store.Store, budgets SectionBudgets) *ContextBuilder {
	return &ContextBuilder{store: s, budgets: budgets}
}

// Build assembles the six context sections. It returns the empty string
// when no prior successful cycle exists. Sections are built in
// parallel; a section that fails renders empty rather than failing the
// cycle.
func (b *ContextBuilder) Build(ctx context.Context, workspaceID string) (string, error) {
	timer := logging.StartTimer(logging.CategoryContext, "build_context")
	defer timer.Stop()

	prior, err := b.store.ListCycleRecords(workspaceID, store.CycleFilter{OnlySuccessful: true, Limit: cycleSummaryWindow})
	if err != nil {
		return "", fmt.Errorf("failed to list prior cycles: %w", err)
	}
	if len(prior) == 0 {
		logging.ContextDebug("No prior successful cycles for %s, empty context", workspaceID)
		return "", nil
	}

	var sections [6]string
	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error {
		sections[0] = b.section("RESEARCH GRAPH SUMMARY", b.budgets.GraphSummary, func() (string, error) {
			return graph.SummaryView(b.store, workspaceID)
		})
		return nil
	})
	g.Go(func() error {
		sections[1] = b.section("PRIOR CYCLE SUMMARIES", b.budgets.CycleSummaries, func() (string, error) {
			return renderCycleSummaries(prior), nil
		})
		return nil
	})
	g.Go(func() error {
		sections[2] = b.section("SEARCHES ALREADY PERFORMED", b.budgets.SearchHistory, func() (string, error) {
			queries, err := b.store.GetAllSearchQueries(workspaceID, searchHistoryWindow)
			if err != nil {
				return "", err
			}
			return renderSearchHistory(queries), nil
		})
		return nil
	})
	g.Go(func() error {
		sections[3] = b.section("UNRESOLVED CONTRADICTIONS", b.budgets.Contradictions, func() (string, error) {
			return renderContradictions(prior), nil
		})
		return nil
	})
	g.Go(func() error {
		sections[4] = b.section("WEAKEST AREAS OF THE GRAPH", b.budgets.WeakestNodes, func() (string, error) {
			return graph.WeakestView(b.store, workspaceID, weakestCount)
		})
		return nil
	})
	g.Go(func() error {
		sections[5] = b.section("OPEN QUESTIONS FROM PRIOR RESEARCH", b.budgets.OpenQuestions, func() (string, error) {
			critiques, err := b.store.GetRecentCritiques(workspaceID, critiqueWindow)
			if err != nil {
				return "", err
			}
			return renderCritiques(critiques), nil
		})
		return nil
	})
	g.Wait()

	var sb strings.Builder
	for _, s := range sections {
		if s == "" {
			continue
		}
		sb.WriteString(s)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// section renders one titled section, swallowing errors into an empty
// render and truncating to the budget.
func (b *ContextBuilder) section(title string, budget int, render func() (string, error)) string {
	body, err := render()
	if err != nil {
		logging.Context("Context section %q failed: %v", title, err)
		return ""
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return ""
	}
	return fmt.Sprintf("## %s\n\n%s\n", title, graph.TruncateForBudget(body, budget))
}

// renderCycleSummaries emits the prior cycles oldest first so the
// narrative reads chronologically.
func renderCycleSummaries(records []*types.CycleRecord) string {
	var sb strings.Builder
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		fmt.Fprintf(&sb, "### Cycle %d: %s\n", r.CycleID, types.TruncateString(r.TargetClaim, 100))
		fmt.Fprintf(&sb, "Directions: %d created, %d updated.\n", len(r.CreatedIDs), len(r.UpdatedIDs))
		if r.SynthesisReasoning != "" {
			fmt.Fprintf(&sb, "Reasoning: %s\n", types.TruncateString(r.SynthesisReasoning, 300))
		}
		for j, c := range r.ConsensusFindings {
			if j >= 3 {
				break
			}
			fmt.Fprintf(&sb, "- Consensus: %s\n", c)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// renderSearchHistory deduplicates case-insensitively while keeping the
// first-seen original casing.
func renderSearchHistory(queries []string) string {
	seen := make(map[string]bool, len(queries))
	var sb strings.Builder
	for _, q := range queries {
		key := strings.ToLower(strings.TrimSpace(q))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		fmt.Fprintf(&sb, "- %s\n", q)
	}
	return sb.String()
}

func renderContradictions(records []*types.CycleRecord) string {
	var sb strings.Builder
	for i := len(records) - 1; i >= 0; i-- {
		for _, c := range records[i].Contradictions {
			fmt.Fprintf(&sb, "- %s\n", c)
		}
	}
	return sb.String()
}

func renderCritiques(critiques []string) string {
	var sb strings.Builder
	for _, c := range critiques {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		fmt.Fprintf(&sb, "- %s\n", types.TruncateString(c, 300))
	}
	return sb.String()
}
