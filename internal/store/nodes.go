package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"winterfox/internal/logging"
	"winterfox/internal/types"
)

// marshalDirection serializes a direction into the data_json column.
func marshalDirection(d *types.Direction) (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to marshal direction %s: %w", d.ID, err)
	}
	return string(data), nil
}

func unmarshalDirection(data string) (*types.Direction, error) {
	var d types.Direction
	if err := json.Unmarshal([]byte(data), &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal direction: %w", err)
	}
	return &d, nil
}

// rewriteLegacyData converts a legacy node payload to the direction
// kind. Hypothesis nodes derive confidence from their support/oppose
// counters; every legacy node keeps its old kind as a legacy_kind tag.
func rewriteLegacyData(data, legacyKind string) (string, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return "", fmt.Errorf("failed to parse legacy payload: %w", err)
	}

	payload["kind"] = types.KindDirection

	if legacyKind == "hypothesis" {
		support, _ := payload["support_count"].(float64)
		oppose, _ := payload["oppose_count"].(float64)
		if support+oppose > 0 {
			conf := support / (support + oppose)
			if conf < 0.05 {
				conf = 0.05
			}
			if conf > 0.95 {
				conf = 0.95
			}
			payload["confidence"] = conf
		}
	}

	tag := "legacy_kind:" + legacyKind
	tags, _ := payload["tags"].([]interface{})
	found := false
	for _, t := range tags {
		if s, ok := t.(string); ok && s == tag {
			found = true
			break
		}
	}
	if !found {
		payload["tags"] = append(tags, tag)
	}

	out, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// CreateNode inserts a direction, registers it with its parent, and
// audits the operation. Validation failures surface as InvariantError.
func (s *Store) CreateNode(d *types.Direction) error {
	if err := d.Validate(); err != nil {
		return &InvariantError{Op: "CreateNode", NodeID: d.ID, Reason: err.Error()}
	}
	if d.ID == "" {
		return &InvariantError{Op: "CreateNode", Reason: "node id is empty"}
	}

	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	if d.Kind == "" {
		d.Kind = types.KindDirection
	}

	data, err := marshalDirection(d)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin CreateNode: %w", err)
	}
	defer tx.Rollback()

	var parentID interface{}
	if d.ParentID != "" {
		parentID = d.ParentID
	}
	_, err = tx.Exec(`
		INSERT INTO nodes (id, workspace_id, parent_id, claim, confidence, importance,
			depth, status, node_type, data_json, created_at, updated_at,
			created_by_cycle, updated_by_cycle)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.WorkspaceID, parentID, d.Claim, d.Confidence, d.Importance,
		d.Depth, string(d.Status), d.Kind, data, d.CreatedAt, d.UpdatedAt,
		d.CreatedByCycle, d.UpdatedByCycle)
	if err != nil {
		return fmt.Errorf("failed to insert node %s: %w", d.ID, err)
	}

	if d.ParentID != "" {
		if err := s.appendChildTx(tx, d.ParentID, d.ID); err != nil {
			return err
		}
	}

	s.auditOperation(tx, d.WorkspaceID, d.CreatedByCycle, "create", d.ID,
		fmt.Sprintf(`{"claim":%q}`, types.TruncateString(d.Claim, 120)))

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit CreateNode: %w", err)
	}

	logging.StoreDebug("Created node %s (depth %d): %s", d.ID, d.Depth, types.TruncateString(d.Claim, 80))
	return nil
}

// appendChildTx adds childID to the parent's children list inside tx.
func (s *Store) appendChildTx(tx *sql.Tx, parentID, childID string) error {
	var data string
	err := tx.QueryRow(`SELECT data_json FROM nodes WHERE id = ?`, parentID).Scan(&data)
	if err == sql.ErrNoRows {
		return &InvariantError{Op: "CreateNode", NodeID: childID,
			Reason: fmt.Sprintf("parent %s does not exist", parentID)}
	}
	if err != nil {
		return fmt.Errorf("failed to load parent %s: %w", parentID, err)
	}

	parent, err := unmarshalDirection(data)
	if err != nil {
		return err
	}
	for _, c := range parent.Children {
		if c == childID {
			return nil
		}
	}
	parent.Children = append(parent.Children, childID)
	parent.UpdatedAt = time.Now().UTC()

	newData, err := marshalDirection(parent)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`UPDATE nodes SET data_json = ?, updated_at = ? WHERE id = ?`,
		newData, parent.UpdatedAt, parentID)
	if err != nil {
		return fmt.Errorf("failed to update parent children: %w", err)
	}
	return nil
}

// UpdateNode persists a changed direction. The projected scalar columns
// are refreshed from the struct.
func (s *Store) UpdateNode(d *types.Direction) error {
	if err := d.Validate(); err != nil {
		return &InvariantError{Op: "UpdateNode", NodeID: d.ID, Reason: err.Error()}
	}
	d.UpdatedAt = time.Now().UTC()

	data, err := marshalDirection(d)
	if err != nil {
		return err
	}

	var parentID interface{}
	if d.ParentID != "" {
		parentID = d.ParentID
	}
	res, err := s.db.Exec(`
		UPDATE nodes SET workspace_id = ?, parent_id = ?, claim = ?, confidence = ?,
			importance = ?, depth = ?, status = ?, node_type = ?, data_json = ?,
			updated_at = ?, updated_by_cycle = ?
		WHERE id = ?`,
		d.WorkspaceID, parentID, d.Claim, d.Confidence, d.Importance,
		d.Depth, string(d.Status), d.Kind, data, d.UpdatedAt, d.UpdatedByCycle, d.ID)
	if err != nil {
		return fmt.Errorf("failed to update node %s: %w", d.ID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("update node %s: %w", d.ID, ErrNotFound)
	}
	return nil
}

// KillNode marks a node killed and records the reason as a tag.
// Killed nodes are terminal and excluded from active listings.
func (s *Store) KillNode(id, reason string, cycleID int) error {
	d, err := s.GetNode(id)
	if err != nil {
		return err
	}
	d.Status = types.StatusKilled
	d.AddTag("killed:" + reason)
	d.UpdatedByCycle = cycleID
	if err := s.UpdateNode(d); err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin KillNode audit: %w", err)
	}
	s.auditOperation(tx, d.WorkspaceID, cycleID, "kill", id, fmt.Sprintf(`{"reason":%q}`, reason))
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit KillNode audit: %w", err)
	}

	logging.Store("Killed node %s: %s", id, reason)
	return nil
}

// GetNode loads one direction by id.
func (s *Store) GetNode(id string) (*types.Direction, error) {
	var data string
	err := s.db.QueryRow(`SELECT data_json FROM nodes WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("get node %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get node %s: %w", id, err)
	}
	return unmarshalDirection(data)
}

// GetChildren returns the direct children of a node, any status.
func (s *Store) GetChildren(parentID string) ([]*types.Direction, error) {
	return s.queryNodes(`SELECT data_json FROM nodes WHERE parent_id = ? ORDER BY created_at`, parentID)
}

// GetRoots returns depth-0 nodes of a workspace.
func (s *Store) GetRoots(workspaceID string) ([]*types.Direction, error) {
	return s.queryNodes(`
		SELECT data_json FROM nodes
		WHERE workspace_id = ? AND depth = 0
		ORDER BY created_at`, workspaceID)
}

// GetActiveNodes returns all non-terminal nodes of a workspace. Killed
// and merged nodes are never included.
func (s *Store) GetActiveNodes(workspaceID string) ([]*types.Direction, error) {
	return s.queryNodes(`
		SELECT data_json FROM nodes
		WHERE workspace_id = ? AND status NOT IN ('killed', 'merged')
		ORDER BY depth, created_at`, workspaceID)
}

// GetNodesByStatus returns workspace nodes with the given status.
func (s *Store) GetNodesByStatus(workspaceID string, status types.Status) ([]*types.Direction, error) {
	return s.queryNodes(`
		SELECT data_json FROM nodes
		WHERE workspace_id = ? AND status = ?
		ORDER BY depth, created_at`, workspaceID, string(status))
}

// CountActiveNodes counts the non-terminal nodes of a workspace.
func (s *Store) CountActiveNodes(workspaceID string) (int, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM nodes
		WHERE workspace_id = ? AND status NOT IN ('killed', 'merged')`,
		workspaceID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active nodes: %w", err)
	}
	return count, nil
}

// SearchByText runs an FTS5 match over claims, scoped to the workspace,
// ranked by relevance.
func (s *Store) SearchByText(workspaceID, query string, limit int) ([]*types.Direction, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.queryNodes(`
		SELECT n.data_json FROM nodes n
		JOIN nodes_fts f ON n.rowid = f.rowid
		WHERE nodes_fts MATCH ? AND n.workspace_id = ?
		ORDER BY rank
		LIMIT ?`, ftsQuote(query), workspaceID, limit)
}

// ftsQuote wraps each term in double quotes so user text cannot inject
// FTS5 query syntax.
func ftsQuote(query string) string {
	quoted := ""
	for _, field := range splitFields(query) {
		if quoted != "" {
			quoted += " "
		}
		quoted += `"` + field + `"`
	}
	return quoted
}

func splitFields(s string) []string {
	var out []string
	cur := ""
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '"' {
			if cur != "" {
				out = append(out, cur)
				cur = ""
			}
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

func (s *Store) queryNodes(query string, args ...interface{}) ([]*types.Direction, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("node query failed: %w", err)
	}
	defer rows.Close()

	var out []*types.Direction
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("node scan failed: %w", err)
		}
		d, err := unmarshalDirection(data)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
