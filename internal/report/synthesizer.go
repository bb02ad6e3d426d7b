// Package report produces the on-demand narrative Markdown report from
// the research graph and cycle history.
package report

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"winterfox/internal/graph"
	"winterfox/internal/logging"
	"winterfox/internal/store"
	"winterfox/internal/types"
	"winterfox/internal/usage"
)

// Input character budgets (~4 chars per token).
const (
	budgetNodeListing    = 40000
	budgetCycleSummaries = 12000
	budgetContradictions = 4000
	budgetOpenQuestions  = 4000
)

// briefFormThreshold switches low-importance nodes to claim-only
// listing when the graph grows past this size.
const briefFormThreshold = 100

// BusyError is returned when a report generation is already running.
type BusyError struct {
	WorkspaceID string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("report generation already in progress for workspace %s", e.WorkspaceID)
}

// Synthesizer generates reports. At most one generation runs at a time.
type Synthesizer struct {
	store  *store.Store
	client types.LLMClient
	usage  *usage.Tracker

	mu   sync.Mutex
	busy bool
}

// NewSynthesizer returns a synthesizer over the given store and client.
func NewSynthesizer(s *store.Store, client types.LLMClient, tracker *usage.Tracker) *Synthesizer {
	return &Synthesizer{store: s, client: client, usage: tracker}
}

const reportSystemPrompt = `You are the Lead researcher writing a narrative research report from an
accumulated knowledge graph.

Write Markdown with exactly these sections:
# Executive Summary
# Key Findings
# Contradictions and Debates
# Open Questions and Gaps
# Methodology Note

Group Key Findings by theme, not by graph node. Ground every claim in
the evidence provided; flag low-confidence claims as such. The
Methodology Note briefly explains that findings come from iterative
web research cycles with confidence scores.`

// Generate produces the report, persists it, and returns the final
// Markdown including front matter. A second concurrent call fails with
// BusyError; an empty graph fails early.
func (s *Synthesizer) Generate(ctx context.Context, workspaceID string) (string, error) {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return "", &BusyError{WorkspaceID: workspaceID}
	}
	s.busy = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.busy = false
		s.mu.Unlock()
	}()

	timer := logging.StartTimer(logging.CategoryReport, "generate")
	defer timer.StopWithInfo()

	nodes, err := s.store.GetActiveNodes(workspaceID)
	if err != nil {
		return "", err
	}
	if len(nodes) == 0 {
		return "", fmt.Errorf("workspace %s has no active research to report on", workspaceID)
	}

	var listing, cycles, contradictions, questions string
	var g errgroup.Group
	g.Go(func() error {
		listing = graph.TruncateForBudget(renderNodeListing(s.store, nodes), budgetNodeListing)
		return nil
	})
	g.Go(func() error {
		records, err := s.store.ListCycleRecords(workspaceID, store.CycleFilter{OnlySuccessful: true})
		if err != nil {
			return err
		}
		cycles = graph.TruncateForBudget(renderCycleSummaries(records), budgetCycleSummaries)
		contradictions = graph.TruncateForBudget(renderContradictions(records), budgetContradictions)
		questions = graph.TruncateForBudget(renderOpenQuestions(records), budgetOpenQuestions)
		return nil
	})
	if err := g.Wait(); err != nil {
		return "", err
	}

	body, err := s.client.Chat(ctx, reportSystemPrompt,
		[]types.Message{{Role: "user", Content: buildReportPrompt(listing, cycles, contradictions, questions)}}, nil)
	if err != nil {
		return "", fmt.Errorf("report generation failed: %w", err)
	}
	if s.usage != nil {
		s.usage.Track(s.client.Name(), s.client.Model(), "report", body.Usage.InputTokens, body.Usage.OutputTokens)
	}

	cycleCount := 0
	if records, err := s.store.ListCycleRecords(workspaceID, store.CycleFilter{}); err == nil {
		cycleCount = len(records)
	}

	generated := time.Now().UTC()
	markdown := wrapReport(body.Text, generated, len(nodes), cycleCount, averageConfidence(nodes))

	if err := s.store.SaveReportMetadata(&types.ReportMetadata{
		WorkspaceID:     workspaceID,
		LastGeneratedAt: generated,
		Markdown:        markdown,
	}); err != nil {
		return "", fmt.Errorf("failed to persist report: %w", err)
	}

	logging.Report("Generated report for %s: %d nodes, %d cycles", workspaceID, len(nodes), cycleCount)
	return markdown, nil
}

// Latest returns the stored report, or empty when none was generated.
func (s *Synthesizer) Latest(workspaceID string) (string, error) {
	meta, err := s.store.GetReportMetadata(workspaceID)
	if err != nil {
		return "", err
	}
	if meta == nil {
		return "", nil
	}
	return meta.Markdown, nil
}

func buildReportPrompt(listing, cycles, contradictions, questions string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "RESEARCH GRAPH:\n%s\n\n", listing)
	if cycles != "" {
		fmt.Fprintf(&sb, "CYCLE HISTORY:\n%s\n\n", cycles)
	}
	if contradictions != "" {
		fmt.Fprintf(&sb, "CONTRADICTIONS:\n%s\n\n", contradictions)
	}
	if questions != "" {
		fmt.Fprintf(&sb, "OPEN QUESTIONS:\n%s\n\n", questions)
	}
	sb.WriteString("Write the report now.")
	return sb.String()
}

// renderNodeListing walks the graph depth first. Low-importance nodes
// get brief form (claim only) once the graph is large.
func renderNodeListing(s *store.Store, active []*types.Direction) string {
	brief := len(active) > briefFormThreshold

	byParent := make(map[string][]*types.Direction)
	for _, n := range active {
		byParent[n.ParentID] = append(byParent[n.ParentID], n)
	}
	for _, siblings := range byParent {
		sort.Slice(siblings, func(i, j int) bool {
			return siblings[i].Importance > siblings[j].Importance
		})
	}

	var sb strings.Builder
	var walk func(parentID string, indent int)
	walk = func(parentID string, indent int) {
		for _, n := range byParent[parentID] {
			pad := strings.Repeat("  ", indent)
			fmt.Fprintf(&sb, "%s- %s (conf %.2f, imp %.2f)\n", pad, n.Claim, n.Confidence, n.Importance)
			if !(brief && n.Importance < 0.4) {
				for i, e := range n.Evidence {
					if i >= 2 {
						break
					}
					fmt.Fprintf(&sb, "%s  * %s [%s]\n", pad, types.TruncateString(e.Text, 160), e.Source)
				}
			}
			walk(n.ID, indent+1)
		}
	}
	walk("", 0)
	return sb.String()
}

func renderCycleSummaries(records []*types.CycleRecord) string {
	var sb strings.Builder
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		fmt.Fprintf(&sb, "Cycle %d: %s (%d created, %d updated)\n",
			r.CycleID, types.TruncateString(r.TargetClaim, 100), len(r.CreatedIDs), len(r.UpdatedIDs))
	}
	return sb.String()
}

func renderContradictions(records []*types.CycleRecord) string {
	var sb strings.Builder
	for _, r := range records {
		for _, c := range r.Contradictions {
			fmt.Fprintf(&sb, "- %s\n", c)
		}
	}
	return sb.String()
}

func renderOpenQuestions(records []*types.CycleRecord) string {
	var sb strings.Builder
	count := 0
	for _, r := range records {
		for _, w := range r.Workers {
			if w.Critique == "" || count >= 10 {
				continue
			}
			fmt.Fprintf(&sb, "- %s\n", types.TruncateString(w.Critique, 300))
			count++
		}
	}
	return sb.String()
}

func averageConfidence(nodes []*types.Direction) float64 {
	if len(nodes) == 0 {
		return 0
	}
	sum := 0.0
	for _, n := range nodes {
		sum += n.Confidence
	}
	return sum / float64(len(nodes))
}

func wrapReport(body string, generated time.Time, nodes, cycles int, avgConfidence float64) string {
	var sb strings.Builder
	sb.WriteString("---\n")
	fmt.Fprintf(&sb, "generated: %s\n", generated.Format(time.RFC3339))
	fmt.Fprintf(&sb, "nodes: %d\n", nodes)
	fmt.Fprintf(&sb, "cycles: %d\n", cycles)
	fmt.Fprintf(&sb, "avg_confidence: %.3f\n", avgConfidence)
	sb.WriteString("---\n\n")
	sb.WriteString(strings.TrimSpace(body))
	sb.WriteString("\n\n---\n*This report is regenerated from the research graph; run more cycles and regenerate for updated findings.*\n")
	return sb.String()
}
