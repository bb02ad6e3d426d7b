package lead

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"winterfox/internal/logging"
	"winterfox/internal/types"
)

// Reassessment actions.
const (
	ActionDiverge = "diverge"
	ActionDeepen  = "deepen"
	ActionClose   = "close"
)

// ReassessInput carries the post-merge state of the target direction.
type ReassessInput struct {
	Target         *types.Direction
	Directions     []types.SynthesizedDirection
	Consensus      []string
	Contradictions []string
}

// Reassessment is the validated outcome of one reassessment call.
type Reassessment struct {
	Action     string
	Confidence float64
	Importance float64
	Status     types.Status
	Reasoning  string
	Fallback   bool
}

// Reassess re-scores the target direction after a cycle of evidence.
// A parse failure retains the previous scores and status.
func (l *Lead) Reassess(ctx context.Context, in ReassessInput) (*Reassessment, error) {
	timer := logging.StartTimer(logging.CategoryLead, "reassess")
	defer timer.Stop()

	resp, err := l.complete(ctx, l.prompts.Reassess, buildReassessUserPrompt(in))
	if err != nil {
		return nil, fmt.Errorf("reassessment call failed: %w", err)
	}

	var parsed struct {
		Action     string  `json:"action"`
		Confidence float64 `json:"confidence"`
		Importance float64 `json:"importance"`
		Status     string  `json:"status"`
		Reasoning  string  `json:"reasoning"`
	}
	raw := types.ExtractJSONObject(resp)
	if raw == "" || json.Unmarshal([]byte(raw), &parsed) != nil || !validAction(parsed.Action) {
		logging.Lead("Reassessment response unparseable, retaining previous scores")
		return fallbackReassessment(in.Target), nil
	}

	out := &Reassessment{
		Action:     parsed.Action,
		Confidence: types.Clamp01(parsed.Confidence),
		Importance: types.Clamp01(parsed.Importance),
		Reasoning:  parsed.Reasoning,
	}

	switch types.Status(parsed.Status) {
	case types.StatusActive, types.StatusCompleted, types.StatusClosed:
		out.Status = types.Status(parsed.Status)
	default:
		out.Status = in.Target.Status
	}
	if out.Action == ActionClose {
		out.Status = types.StatusCompleted
	}

	logging.LeadDebug("Reassessed %s: action=%s conf=%.2f imp=%.2f status=%s",
		in.Target.ID, out.Action, out.Confidence, out.Importance, out.Status)
	return out, nil
}

func validAction(a string) bool {
	switch a {
	case ActionDiverge, ActionDeepen, ActionClose:
		return true
	}
	return false
}

func buildReassessUserPrompt(in ReassessInput) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "TARGET DIRECTION: %s\n", in.Target.Claim)
	fmt.Fprintf(&sb, "Previous confidence %.2f, importance %.2f, status %s.\n\n",
		in.Target.Confidence, in.Target.Importance, in.Target.Status)

	if len(in.Directions) > 0 {
		sb.WriteString("DIRECTIONS SYNTHESIZED THIS CYCLE:\n")
		for _, d := range in.Directions {
			fmt.Fprintf(&sb, "- [%s/%s] %s (conf %.2f)\n", d.Stance, d.Outcome, d.Claim, d.Confidence)
			if d.EvidenceSummary != "" {
				fmt.Fprintf(&sb, "  Evidence: %s\n", types.TruncateString(d.EvidenceSummary, 200))
			}
		}
		sb.WriteString("\n")
	}
	if len(in.Consensus) > 0 {
		sb.WriteString("CONSENSUS FINDINGS:\n")
		for _, c := range in.Consensus {
			fmt.Fprintf(&sb, "- %s\n", c)
		}
		sb.WriteString("\n")
	}
	if len(in.Contradictions) > 0 {
		sb.WriteString("CONTRADICTIONS:\n")
		for _, c := range in.Contradictions {
			fmt.Fprintf(&sb, "- %s\n", c)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Reassess the target direction per the JSON contract.")
	return sb.String()
}

func fallbackReassessment(target *types.Direction) *Reassessment {
	return &Reassessment{
		Action:     ActionDeepen,
		Confidence: target.Confidence,
		Importance: target.Importance,
		Status:     target.Status,
		Reasoning:  "Reassessment parse failed",
		Fallback:   true,
	}
}
