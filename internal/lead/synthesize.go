package lead

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"winterfox/internal/logging"
	"winterfox/internal/types"
)

// SynthesizeInput carries the raw worker material for one synthesis.
type SynthesizeInput struct {
	TargetClaim string
	TargetDepth int
	Workers     []types.WorkerOutput
	Override    string
}

// Synthesis is the validated outcome of one synthesis call.
type Synthesis struct {
	Directions     []types.SynthesizedDirection
	Reasoning      string
	Consensus      []string
	Contradictions []string
	Fallback       bool
}

const maxClaimLength = 120

// Synthesize turns worker outputs into validated directions. A parse
// failure yields the single fallback direction, never an error.
func (l *Lead) Synthesize(ctx context.Context, in SynthesizeInput) (*Synthesis, error) {
	timer := logging.StartTimer(logging.CategoryLead, "synthesize")
	defer timer.Stop()

	resp, err := l.complete(ctx, l.prompts.Synthesize, buildSynthesizeUserPrompt(in))
	if err != nil {
		return nil, fmt.Errorf("synthesis call failed: %w", err)
	}

	var parsed struct {
		Directions          []types.SynthesizedDirection `json:"directions"`
		SynthesisReasoning  string                       `json:"synthesis_reasoning"`
		ConsensusDirections []string                     `json:"consensus_directions"`
		Contradictions      []string                     `json:"contradictions"`
	}
	raw := types.ExtractJSONObject(resp)
	if raw == "" || json.Unmarshal([]byte(raw), &parsed) != nil || len(parsed.Directions) == 0 {
		logging.Lead("Synthesis response unparseable, producing fallback direction")
		return fallbackSynthesis(in.TargetClaim), nil
	}

	directions := make([]types.SynthesizedDirection, 0, len(parsed.Directions))
	for _, d := range parsed.Directions {
		if strings.TrimSpace(d.Description) == "" {
			logging.LeadDebug("Dropping synthesized direction with empty description: %s", d.Claim)
			continue
		}
		directions = append(directions, normalizeDirection(d))
	}
	if len(directions) == 0 {
		logging.Lead("All synthesized directions rejected, producing fallback direction")
		return fallbackSynthesis(in.TargetClaim), nil
	}

	logging.LeadDebug("Synthesis produced %d directions, %d consensus, %d contradictions",
		len(directions), len(parsed.ConsensusDirections), len(parsed.Contradictions))
	return &Synthesis{
		Directions:     directions,
		Reasoning:      parsed.SynthesisReasoning,
		Consensus:      parsed.ConsensusDirections,
		Contradictions: parsed.Contradictions,
	}, nil
}

func normalizeDirection(d types.SynthesizedDirection) types.SynthesizedDirection {
	d.Claim = types.TruncateString(strings.TrimSpace(d.Claim), maxClaimLength)
	d.Confidence = types.Clamp01(d.Confidence)
	d.Importance = types.Clamp01(d.Importance)

	switch d.Stance {
	case types.StanceSupport, types.StanceMixed, types.StanceDisconfirm:
	default:
		d.Stance = types.StanceMixed
	}

	switch d.Outcome {
	case types.OutcomePursue, types.OutcomeComplete, types.OutcomeClose:
	case "":
		if d.Stance == types.StanceDisconfirm {
			d.Outcome = types.OutcomeComplete
		} else {
			d.Outcome = types.OutcomePursue
		}
	default:
		d.Outcome = types.OutcomePursue
	}
	return d
}

func buildSynthesizeUserPrompt(in SynthesizeInput) string {
	var sb strings.Builder

	if in.Override != "" {
		fmt.Fprintf(&sb, "CYCLE INSTRUCTION: %s\n\n", in.Override)
	}
	fmt.Fprintf(&sb, "TARGET DIRECTION (depth %d): %s\n\n", in.TargetDepth, in.TargetClaim)

	for i, w := range in.Workers {
		name := w.AgentName
		if name == "" {
			name = fmt.Sprintf("worker_%d", i+1)
		}
		fmt.Fprintf(&sb, "=== FINDINGS FROM %s ===\n%s\n\n", strings.ToUpper(name), w.RawText)
		if w.Critique != "" {
			fmt.Fprintf(&sb, "SELF-CRITIQUE (%s): %s\n\n", name, w.Critique)
		}
	}
	sb.WriteString("Synthesize these findings into directions per the JSON contract.")
	return sb.String()
}

func fallbackSynthesis(targetClaim string) *Synthesis {
	claim := types.TruncateString("Continue investigating: "+targetClaim, maxClaimLength)
	return &Synthesis{
		Directions: []types.SynthesizedDirection{{
			Claim:       claim,
			Description: "Synthesis of this cycle's findings could not be parsed. The target direction needs another research pass: re-run the searches, gather the strongest sources, and resolve any contradictions found so far.",
			Stance:      types.StanceMixed,
			Outcome:     types.OutcomePursue,
			Confidence:  0.5,
			Importance:  0.7,
		}},
		Reasoning: "Synthesis parse failed; emitting continuation direction.",
		Fallback:  true,
	}
}
