// Package types defines the core domain records shared across Winterfox:
// research directions, evidence, cycle records, worker outputs, and the
// LLM adapter contracts. Validation lives next to the types so every
// component receives already-checked values.
package types

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a research direction.
type Status string

const (
	StatusActive      Status = "active"
	StatusCompleted   Status = "completed"
	StatusClosed      Status = "closed"
	StatusKilled      Status = "killed"
	StatusMerged      Status = "merged"
	StatusSpeculative Status = "speculative"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusCompleted, StatusClosed, StatusKilled, StatusMerged, StatusSpeculative:
		return true
	}
	return false
}

// Terminal reports whether s is a terminal state. Terminal nodes are never
// returned by active listings and are never re-activated.
func (s Status) Terminal() bool {
	return s == StatusKilled || s == StatusMerged
}

// KindDirection is the only node kind in the current model. Legacy kinds
// (question, hypothesis, supporting, opposing) are migrated to it on open.
const KindDirection = "direction"

// Stance classifies how a synthesized direction relates to the target claim.
type Stance string

const (
	StanceSupport    Stance = "support"
	StanceMixed      Stance = "mixed"
	StanceDisconfirm Stance = "disconfirm"
)

// Evidence is a single observation attached to a direction.
type Evidence struct {
	Text       string    `json:"text"`
	Source     string    `json:"source"`
	ObservedAt time.Time `json:"observed_at"`
	VerifiedBy []string  `json:"verified_by,omitempty"`
}

// Direction is a node in the research graph: a claim under investigation
// with derived confidence and accumulated evidence.
type Direction struct {
	ID          string   `json:"id"`
	WorkspaceID string   `json:"workspace_id"`
	ParentID    string   `json:"parent_id,omitempty"`
	Claim       string   `json:"claim"`
	Description string   `json:"description,omitempty"`
	Confidence  float64  `json:"confidence"`
	Importance  float64  `json:"importance"`
	Depth       int      `json:"depth"`
	Status      Status   `json:"status"`
	Kind        string   `json:"kind"`
	Children    []string `json:"children,omitempty"`
	Tags        []string `json:"tags,omitempty"`

	Evidence []Evidence `json:"evidence,omitempty"`
	Sources  []string   `json:"sources,omitempty"`

	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	CreatedByCycle int       `json:"created_by_cycle"`
	UpdatedByCycle int       `json:"updated_by_cycle"`
}

// Validate checks the direction invariants that every write path relies on.
func (d *Direction) Validate() error {
	if strings.TrimSpace(d.Claim) == "" {
		return fmt.Errorf("direction claim must be non-empty")
	}
	if d.WorkspaceID == "" {
		return fmt.Errorf("direction %q has no workspace id", d.Claim)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("direction %q confidence %.3f out of [0,1]", d.Claim, d.Confidence)
	}
	if d.Importance < 0 || d.Importance > 1 {
		return fmt.Errorf("direction %q importance %.3f out of [0,1]", d.Claim, d.Importance)
	}
	if d.Depth < 0 {
		return fmt.Errorf("direction %q depth %d is negative", d.Claim, d.Depth)
	}
	if !d.Status.Valid() {
		return fmt.Errorf("direction %q has unknown status %q", d.Claim, d.Status)
	}
	return nil
}

// Staleness returns how long ago the direction was last updated.
func (d *Direction) Staleness(now time.Time) time.Duration {
	if d.UpdatedAt.IsZero() {
		return 0
	}
	return now.Sub(d.UpdatedAt)
}

// HasTag reports whether the direction carries the given tag.
func (d *Direction) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AddTag appends a tag if not already present.
func (d *Direction) AddTag(tag string) {
	if !d.HasTag(tag) {
		d.Tags = append(d.Tags, tag)
	}
}

// SearchRecord captures one web search performed by a worker.
type SearchRecord struct {
	Query     string    `json:"query"`
	Engine    string    `json:"engine"`
	Timestamp time.Time `json:"timestamp"`
	Summary   string    `json:"summary,omitempty"`
	URLs      []string  `json:"urls,omitempty"`
}

// WorkerOutput is the opaque result of one research worker run. The Lead
// consumes it as a read-only value; workers share no mutable state.
type WorkerOutput struct {
	AgentName string `json:"agent_name"`
	Model     string `json:"model"`
	Role      string `json:"role,omitempty"`

	RawText  string         `json:"raw_text"`
	Critique string         `json:"critique,omitempty"`
	Searches []SearchRecord `json:"searches,omitempty"`

	CostUSD      float64       `json:"cost_usd"`
	Duration     time.Duration `json:"duration"`
	TokensTotal  int           `json:"tokens_total"`
	TokensInput  int           `json:"tokens_input"`
	TokensOutput int           `json:"tokens_output"`

	Failed bool   `json:"failed,omitempty"`
	Error  string `json:"error,omitempty"`
}

// SynthesizedDirection is one direction proposed by Lead synthesis before
// it is merged into the graph.
type SynthesizedDirection struct {
	Claim           string   `json:"claim"`
	Description     string   `json:"description"`
	Stance          Stance   `json:"stance"`
	Outcome         string   `json:"direction_outcome"`
	Confidence      float64  `json:"confidence"`
	Importance      float64  `json:"importance"`
	Reasoning       string   `json:"reasoning,omitempty"`
	EvidenceSummary string   `json:"evidence_summary,omitempty"`
	Tags            []string `json:"tags,omitempty"`
}

// Direction outcomes emitted by Lead synthesis.
const (
	OutcomePursue   = "pursue"
	OutcomeComplete = "complete"
	OutcomeClose    = "close"
)

// MergeStats summarizes one merge pass.
type MergeStats struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// CycleRecord is the persisted outcome of one research cycle.
type CycleRecord struct {
	CycleID     int    `json:"cycle_id"`
	WorkspaceID string `json:"workspace_id"`

	TargetNodeID string `json:"target_node_id"`
	TargetClaim  string `json:"target_claim"`

	SynthesisReasoning string   `json:"synthesis_reasoning,omitempty"`
	ConsensusFindings  []string `json:"consensus_findings,omitempty"`
	Contradictions     []string `json:"contradictions,omitempty"`

	CreatedIDs []string   `json:"created_ids,omitempty"`
	UpdatedIDs []string   `json:"updated_ids,omitempty"`
	SkippedIDs []string   `json:"skipped_ids,omitempty"`
	Merge      MergeStats `json:"merge"`

	Workers []WorkerOutput `json:"agent_outputs,omitempty"`

	TotalCostUSD  float64       `json:"total_cost_usd"`
	LeadCostUSD   float64       `json:"lead_llm_cost_usd"`
	WorkerCostUSD float64       `json:"research_agents_cost_usd"`
	Duration      time.Duration `json:"duration"`

	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`

	SelectionStrategy  string `json:"selection_strategy,omitempty"`
	SelectionReasoning string `json:"selection_reasoning,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// ContextDocument is a curated note attached to a workspace and injected
// into worker prompts.
type ContextDocument struct {
	Filename  string    `json:"filename"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReportMetadata tracks per-workspace report regeneration state.
type ReportMetadata struct {
	WorkspaceID          string        `json:"workspace_id"`
	RegenerationInterval time.Duration `json:"regeneration_interval"`
	LastGeneratedAt      time.Time     `json:"last_generated_at,omitempty"`
	Markdown             string        `json:"markdown,omitempty"`
}

// Clamp01 clamps v into [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
