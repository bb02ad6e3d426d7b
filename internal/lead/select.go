package lead

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"winterfox/internal/logging"
	"winterfox/internal/types"
	"winterfox/internal/usage"
)

// Lead drives the three protocol interactions against one LLM client.
type Lead struct {
	client  types.LLMClient
	prompts *Prompts
	usage   *usage.Tracker

	mu   sync.Mutex
	cost float64
}

// New returns a Lead using the given client and prompts. Nil prompts
// fall back to the built-ins.
func New(client types.LLMClient, prompts *Prompts) *Lead {
	if prompts == nil {
		prompts = DefaultPrompts()
	}
	return &Lead{client: client, prompts: prompts}
}

// WithUsage attaches a usage tracker for persistent cost accounting.
func (l *Lead) WithUsage(tr *usage.Tracker) *Lead {
	l.usage = tr
	return l
}

// complete runs one tool-less model turn and accounts its cost.
func (l *Lead) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := l.client.Chat(ctx, system, []types.Message{{Role: "user", Content: user}}, nil)
	if err != nil {
		return "", err
	}
	l.mu.Lock()
	if l.usage != nil {
		l.cost += l.usage.Track(l.client.Name(), l.client.Model(), "lead", resp.Usage.InputTokens, resp.Usage.OutputTokens)
	} else {
		l.cost += usage.Cost(l.client.Model(), resp.Usage.InputTokens, resp.Usage.OutputTokens)
	}
	l.mu.Unlock()
	return resp.Text, nil
}

// TakeCost returns the cost accumulated since the last call and resets
// the counter. The executor drains it once per cycle.
func (l *Lead) TakeCost() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := l.cost
	l.cost = 0
	return c
}

// Candidate is one selectable direction presented to the Lead.
type Candidate struct {
	ID         string
	Claim      string
	Confidence float64
	Importance float64
	Depth      int
	Staleness  time.Duration
	ChildCount int
}

// SelectInput carries everything the selection prompt sees.
type SelectInput struct {
	SummaryView   string
	WeakestView   string
	Candidates    []Candidate
	ReportExcerpt string
	LastSelected  string
	Excluded      map[string]bool
	Override      string
}

// Selection is the outcome of one selection call.
type Selection struct {
	NodeID    string
	Reasoning string
	Fallback  bool
}

const maxSelectCandidates = 30

// idPrefixLen is how much of each node id is shown to the model.
const idPrefixLen = 8

// Select asks the Lead to pick the next target direction. Parse
// failures, unknown ids, and excluded ids all take the fallback: the
// first non-excluded candidate.
func (l *Lead) Select(ctx context.Context, in SelectInput) (*Selection, error) {
	if len(in.Candidates) == 0 {
		return nil, fmt.Errorf("no candidate directions to select from")
	}

	timer := logging.StartTimer(logging.CategoryLead, "select")
	defer timer.Stop()

	candidates := in.Candidates
	if len(candidates) > maxSelectCandidates {
		candidates = candidates[:maxSelectCandidates]
	}

	resp, err := l.complete(ctx, l.prompts.Select, buildSelectUserPrompt(in, candidates))
	if err != nil {
		// LLM transport errors propagate; only contract violations fall back.
		return nil, fmt.Errorf("selection call failed: %w", err)
	}

	var parsed struct {
		SelectedNodeID string `json:"selected_node_id"`
		Reasoning      string `json:"reasoning"`
	}
	raw := types.ExtractJSONObject(resp)
	if raw == "" || json.Unmarshal([]byte(raw), &parsed) != nil || parsed.SelectedNodeID == "" {
		logging.Lead("Selection response unparseable, falling back")
		return fallbackSelection(candidates, in.Excluded), nil
	}

	resolved := resolveNodeID(parsed.SelectedNodeID, candidates)
	if resolved == "" || in.Excluded[resolved] {
		logging.Lead("Selection id %q invalid or excluded, falling back", parsed.SelectedNodeID)
		return fallbackSelection(candidates, in.Excluded), nil
	}

	logging.LeadDebug("Selected %s: %s", resolved, types.TruncateString(parsed.Reasoning, 120))
	return &Selection{NodeID: resolved, Reasoning: parsed.Reasoning}, nil
}

func buildSelectUserPrompt(in SelectInput, candidates []Candidate) string {
	var sb strings.Builder

	if in.Override != "" {
		fmt.Fprintf(&sb, "CYCLE INSTRUCTION (honor first): %s\n\n", in.Override)
	}
	if in.SummaryView != "" {
		fmt.Fprintf(&sb, "RESEARCH GRAPH:\n%s\n\n", in.SummaryView)
	}
	if in.WeakestView != "" {
		fmt.Fprintf(&sb, "WEAKEST AREAS:\n%s\n\n", in.WeakestView)
	}
	if in.ReportExcerpt != "" {
		fmt.Fprintf(&sb, "LATEST REPORT EXCERPT:\n%s\n\n", in.ReportExcerpt)
	}
	if in.LastSelected != "" {
		fmt.Fprintf(&sb, "Last cycle's target: %s\n\n", in.LastSelected)
	}

	sb.WriteString("CANDIDATE DIRECTIONS:\n")
	for _, c := range candidates {
		marker := ""
		if in.Excluded[c.ID] {
			marker = " [EXCLUDED]"
		}
		fmt.Fprintf(&sb, "- %s: %s (conf %.2f, imp %.2f, depth %d, stale %dh, children %d)%s\n",
			idPrefix(c.ID), types.TruncateString(c.Claim, 100),
			c.Confidence, c.Importance, c.Depth,
			int(c.Staleness.Hours()), c.ChildCount, marker)
	}
	sb.WriteString("\nPick one direction and respond with the JSON contract.")
	return sb.String()
}

func idPrefix(id string) string {
	if len(id) <= idPrefixLen {
		return id
	}
	return id[:idPrefixLen]
}

// resolveNodeID accepts a full id or a unique prefix over the
// candidate set. Ambiguous prefixes resolve to nothing.
func resolveNodeID(raw string, candidates []Candidate) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	for _, c := range candidates {
		if c.ID == raw {
			return c.ID
		}
	}
	var match string
	for _, c := range candidates {
		if strings.HasPrefix(c.ID, raw) {
			if match != "" {
				return ""
			}
			match = c.ID
		}
	}
	return match
}

func fallbackSelection(candidates []Candidate, excluded map[string]bool) *Selection {
	for _, c := range candidates {
		if excluded[c.ID] {
			continue
		}
		return &Selection{
			NodeID:    c.ID,
			Reasoning: fmt.Sprintf("Fallback selection: %s", types.TruncateString(c.Claim, 100)),
			Fallback:  true,
		}
	}
	// Everything excluded: take the first candidate anyway.
	c := candidates[0]
	return &Selection{
		NodeID:    c.ID,
		Reasoning: fmt.Sprintf("Fallback selection: %s", types.TruncateString(c.Claim, 100)),
		Fallback:  true,
	}
}
