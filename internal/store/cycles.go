package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"winterfox/internal/logging"
	"winterfox/internal/types"
)

// CycleFilter narrows ListCycleRecords results. Zero values mean no
// constraint.
type CycleFilter struct {
	OnlySuccessful bool
	OnlyFailed     bool

	// TargetID matches cycles that researched this node.
	TargetID string

	// MinCost and MaxCost bound total_cost_usd.
	MinCost float64
	MaxCost float64

	// CreatedAfter and CreatedBefore bound created_at (inclusive).
	CreatedAfter  time.Time
	CreatedBefore time.Time

	// ReasoningContains is a substring match over synthesis reasoning.
	ReasoningContains string

	Limit int
}

// SaveCycleRecord persists one cycle outcome. Records are written for
// failed cycles too, so partial progress is never lost.
func (s *Store) SaveCycleRecord(r *types.CycleRecord) error {
	timer := logging.StartTimer(logging.CategoryStore, "SaveCycleRecord")
	defer timer.Stop()

	if r.WorkspaceID == "" {
		return &InvariantError{Op: "SaveCycleRecord", Reason: "workspace id is empty"}
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	consensus, err := json.Marshal(emptyIfNil(r.ConsensusFindings))
	if err != nil {
		return fmt.Errorf("failed to marshal consensus findings: %w", err)
	}
	contradictions, err := json.Marshal(emptyIfNil(r.Contradictions))
	if err != nil {
		return fmt.Errorf("failed to marshal contradictions: %w", err)
	}
	createdIDs, _ := json.Marshal(emptyIfNil(r.CreatedIDs))
	updatedIDs, _ := json.Marshal(emptyIfNil(r.UpdatedIDs))
	skippedIDs, _ := json.Marshal(emptyIfNil(r.SkippedIDs))
	workers, err := json.Marshal(r.Workers)
	if err != nil {
		return fmt.Errorf("failed to marshal worker outputs: %w", err)
	}

	var errMsg interface{}
	if r.ErrorMessage != "" {
		errMsg = r.ErrorMessage
	}

	_, err = s.db.Exec(`
		INSERT INTO cycle_outputs (cycle_id, workspace_id, target_node_id, target_claim,
			synthesis_reasoning, consensus_findings_json, contradictions_json,
			created_ids_json, updated_ids_json, skipped_ids_json, agent_outputs_json,
			selection_strategy, selection_reasoning,
			total_cost_usd, lead_llm_cost_usd, research_agents_cost_usd,
			duration_seconds, success, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(workspace_id, cycle_id) DO UPDATE SET
			target_node_id = excluded.target_node_id,
			target_claim = excluded.target_claim,
			synthesis_reasoning = excluded.synthesis_reasoning,
			consensus_findings_json = excluded.consensus_findings_json,
			contradictions_json = excluded.contradictions_json,
			created_ids_json = excluded.created_ids_json,
			updated_ids_json = excluded.updated_ids_json,
			skipped_ids_json = excluded.skipped_ids_json,
			agent_outputs_json = excluded.agent_outputs_json,
			selection_strategy = excluded.selection_strategy,
			selection_reasoning = excluded.selection_reasoning,
			total_cost_usd = excluded.total_cost_usd,
			lead_llm_cost_usd = excluded.lead_llm_cost_usd,
			research_agents_cost_usd = excluded.research_agents_cost_usd,
			duration_seconds = excluded.duration_seconds,
			success = excluded.success,
			error_message = excluded.error_message`,
		r.CycleID, r.WorkspaceID, r.TargetNodeID, r.TargetClaim,
		r.SynthesisReasoning, string(consensus), string(contradictions),
		string(createdIDs), string(updatedIDs), string(skippedIDs), string(workers),
		r.SelectionStrategy, r.SelectionReasoning,
		r.TotalCostUSD, r.LeadCostUSD, r.WorkerCostUSD,
		r.Duration.Seconds(), boolToInt(r.Success), errMsg, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save cycle %d: %w", r.CycleID, err)
	}

	logging.Store("Saved cycle %d record (success=%v, cost=$%.4f)", r.CycleID, r.Success, r.TotalCostUSD)
	return nil
}

// GetCycleRecord loads one cycle record.
func (s *Store) GetCycleRecord(workspaceID string, cycleID int) (*types.CycleRecord, error) {
	row := s.db.QueryRow(cycleSelect+` WHERE workspace_id = ? AND cycle_id = ?`,
		workspaceID, cycleID)
	r, err := scanCycle(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("cycle %d: %w", cycleID, ErrNotFound)
	}
	return r, err
}

// ListCycleRecords returns cycle records newest first.
func (s *Store) ListCycleRecords(workspaceID string, filter CycleFilter) ([]*types.CycleRecord, error) {
	query := cycleSelect + ` WHERE workspace_id = ?`
	args := []interface{}{workspaceID}
	if filter.OnlySuccessful {
		query += ` AND success = 1`
	}
	if filter.OnlyFailed {
		query += ` AND success = 0`
	}
	if filter.TargetID != "" {
		query += ` AND target_node_id = ?`
		args = append(args, filter.TargetID)
	}
	if filter.MinCost > 0 {
		query += ` AND total_cost_usd >= ?`
		args = append(args, filter.MinCost)
	}
	if filter.MaxCost > 0 {
		query += ` AND total_cost_usd <= ?`
		args = append(args, filter.MaxCost)
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.CreatedAfter.UTC())
	}
	if !filter.CreatedBefore.IsZero() {
		query += ` AND created_at <= ?`
		args = append(args, filter.CreatedBefore.UTC())
	}
	if filter.ReasoningContains != "" {
		query += ` AND synthesis_reasoning LIKE ?`
		args = append(args, "%"+filter.ReasoningContains+"%")
	}
	query += ` ORDER BY cycle_id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list cycles: %w", err)
	}
	defer rows.Close()

	var out []*types.CycleRecord
	for rows.Next() {
		r, err := scanCycle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteCycle removes one cycle record and the audit rows it wrote.
// Graph changes made by the cycle are intentionally left in place.
func (s *Store) DeleteCycle(workspaceID string, cycleID int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin delete of cycle %d: %w", cycleID, err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`DELETE FROM cycle_outputs WHERE workspace_id = ? AND cycle_id = ?`,
		workspaceID, cycleID)
	if err != nil {
		return fmt.Errorf("failed to delete cycle %d: %w", cycleID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("delete cycle %d: %w", cycleID, ErrNotFound)
	}
	if _, err := tx.Exec(
		`DELETE FROM graph_operations WHERE workspace_id = ? AND cycle_id = ?`,
		workspaceID, cycleID); err != nil {
		return fmt.Errorf("failed to delete cycle %d audit rows: %w", cycleID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete of cycle %d: %w", cycleID, err)
	}
	logging.Store("Deleted cycle %d record and audit rows", cycleID)
	return nil
}

// GetAllSearchQueries returns search queries recorded across a
// workspace's cycles, newest cycle first, capped at limit (0 = all).
// Used to steer workers away from repeating searches.
func (s *Store) GetAllSearchQueries(workspaceID string, limit int) ([]string, error) {
	records, err := s.ListCycleRecords(workspaceID, CycleFilter{})
	if err != nil {
		return nil, err
	}
	var queries []string
	for _, r := range records {
		for _, w := range r.Workers {
			for _, sr := range w.Searches {
				if limit > 0 && len(queries) >= limit {
					return queries, nil
				}
				queries = append(queries, sr.Query)
			}
		}
	}
	return queries, nil
}

// GetRecentCritiques returns worker self-critiques from the most recent
// cycles, newest first.
func (s *Store) GetRecentCritiques(workspaceID string, limit int) ([]string, error) {
	records, err := s.ListCycleRecords(workspaceID, CycleFilter{Limit: limit})
	if err != nil {
		return nil, err
	}
	var critiques []string
	for _, r := range records {
		for _, w := range r.Workers {
			if w.Critique != "" {
				critiques = append(critiques, w.Critique)
			}
		}
	}
	return critiques, nil
}

const cycleSelect = `
	SELECT cycle_id, workspace_id, target_node_id, target_claim,
		synthesis_reasoning, consensus_findings_json, contradictions_json,
		created_ids_json, updated_ids_json, skipped_ids_json, agent_outputs_json,
		selection_strategy, selection_reasoning,
		total_cost_usd, lead_llm_cost_usd, research_agents_cost_usd,
		duration_seconds, success, error_message, created_at
	FROM cycle_outputs`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCycle(row rowScanner) (*types.CycleRecord, error) {
	var r types.CycleRecord
	var consensus, contradictions, createdIDs, updatedIDs, skippedIDs, workers string
	var durationSeconds float64
	var success int
	var errMsg sql.NullString

	err := row.Scan(&r.CycleID, &r.WorkspaceID, &r.TargetNodeID, &r.TargetClaim,
		&r.SynthesisReasoning, &consensus, &contradictions,
		&createdIDs, &updatedIDs, &skippedIDs, &workers,
		&r.SelectionStrategy, &r.SelectionReasoning,
		&r.TotalCostUSD, &r.LeadCostUSD, &r.WorkerCostUSD,
		&durationSeconds, &success, &errMsg, &r.CreatedAt)
	if err != nil {
		return nil, err
	}

	r.Duration = time.Duration(durationSeconds * float64(time.Second))
	r.Success = success != 0
	if errMsg.Valid {
		r.ErrorMessage = errMsg.String
	}
	if err := json.Unmarshal([]byte(consensus), &r.ConsensusFindings); err != nil {
		return nil, fmt.Errorf("cycle %d: bad consensus json: %w", r.CycleID, err)
	}
	if err := json.Unmarshal([]byte(contradictions), &r.Contradictions); err != nil {
		return nil, fmt.Errorf("cycle %d: bad contradictions json: %w", r.CycleID, err)
	}
	json.Unmarshal([]byte(createdIDs), &r.CreatedIDs)
	json.Unmarshal([]byte(updatedIDs), &r.UpdatedIDs)
	json.Unmarshal([]byte(skippedIDs), &r.SkippedIDs)
	if err := json.Unmarshal([]byte(workers), &r.Workers); err != nil {
		return nil, fmt.Errorf("cycle %d: bad agent outputs json: %w", r.CycleID, err)
	}
	r.Merge = types.MergeStats{
		Created: len(r.CreatedIDs),
		Updated: len(r.UpdatedIDs),
		Skipped: len(r.SkippedIDs),
	}
	return &r, nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
