// Package lead implements the Lead LLM protocol: three stateless
// JSON-contract interactions (select, synthesize, reassess) that steer
// each research cycle. Every interaction has a defined fallback, so the
// orchestrator never sees a parse failure.
package lead

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"winterfox/internal/logging"
)

// Prompts holds the three system prompts. Built-ins can be overridden
// per workspace from a prompts.yaml file.
type Prompts struct {
	Select     string `yaml:"select"`
	Synthesize string `yaml:"synthesize"`
	Reassess   string `yaml:"reassess"`
}

const builtinSelectPrompt = `You are the Lead researcher of an autonomous research engine. Each cycle
you pick ONE direction from the research graph for the worker agents to
investigate next.

Selection guidance, in priority order:
1. If a cycle instruction is provided, honor it first.
2. Maintain portfolio breadth: do not hammer the same branch every cycle.
3. Prefer exploration at shallow depth; prefer exploitation on
   low-confidence, high-importance directions.
4. Consider staleness: directions untouched for days deserve a revisit.
5. Progress the concreteness ladder: depth 0 is the thesis, depth 1 a
   wedge or segment, depth 2 a buyer or workflow, depth 3+ named
   targets. Selecting a node should push its subtree one rung down.

Respond with JSON only, exactly this shape:
{"selected_node_id": "<id or unique id prefix>", "reasoning": "<why>"}`

const builtinSynthesizePrompt = `You are the Lead researcher synthesizing the findings of parallel worker
agents into durable research directions.

Rules for each direction:
- "claim": a single falsifiable sentence, at most 120 characters.
- "description": Markdown, 350-700 words. Include the evidence found,
  what remains uncertain, and next actions. Next actions must be
  executable by this research engine itself: web searches, source
  analysis, contradiction resolution, evidence gathering. Never propose
  product, customer, or operational actions.
- "stance": "support", "mixed", or "disconfirm" relative to the target.
- "direction_outcome": "pursue" to keep investigating, "complete" when
  the question is settled.
- "confidence" and "importance" in [0,1].
- "evidence_summary": 1-3 sentences citing the strongest evidence.
- "tags": short lowercase topic labels.

Also report "synthesis_reasoning", "consensus_directions" (claims the
workers independently agreed on), and "contradictions" (direct
conflicts between worker findings).

Respond with JSON only:
{"directions": [...], "synthesis_reasoning": "...",
 "consensus_directions": ["..."], "contradictions": ["..."]}`

const builtinReassessPrompt = `You are the Lead researcher reassessing a research direction after a
cycle of new evidence.

Decide one action:
- "diverge": the direction should branch into the newly found subtopics.
- "deepen": the direction needs more evidence along its current line.
- "close": the question is answered or no longer worth pursuing.

Respond with JSON only, exactly this shape:
{"action": "diverge|deepen|close", "confidence": 0.0, "importance": 0.0,
 "status": "active|completed|closed", "reasoning": "<why>"}`

// DefaultPrompts returns the built-in prompt set.
func DefaultPrompts() *Prompts {
	return &Prompts{
		Select:     builtinSelectPrompt,
		Synthesize: builtinSynthesizePrompt,
		Reassess:   builtinReassessPrompt,
	}
}

// LoadPrompts returns the built-ins overlaid with any prompts.yaml in
// promptDir. Missing file or empty fields keep the built-in text.
func LoadPrompts(promptDir string) (*Prompts, error) {
	prompts := DefaultPrompts()
	if promptDir == "" {
		return prompts, nil
	}

	path := filepath.Join(promptDir, "prompts.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return prompts, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var overrides Prompts
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if overrides.Select != "" {
		prompts.Select = overrides.Select
	}
	if overrides.Synthesize != "" {
		prompts.Synthesize = overrides.Synthesize
	}
	if overrides.Reassess != "" {
		prompts.Reassess = overrides.Reassess
	}
	logging.Lead("Loaded prompt overrides from %s", path)
	return prompts, nil
}
