package store

import (
	"database/sql"
	"fmt"
	"time"

	"winterfox/internal/logging"
	"winterfox/internal/types"
)

// UpsertContextDocument stores or refreshes a curated note for a
// workspace. Documents are injected into worker prompts.
func (s *Store) UpsertContextDocument(workspaceID, filename, content string) error {
	if filename == "" {
		return &InvariantError{Op: "UpsertContextDocument", Reason: "filename is empty"}
	}
	_, err := s.db.Exec(`
		INSERT INTO context_documents (workspace_id, filename, content, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(workspace_id, filename) DO UPDATE SET
			content = excluded.content,
			updated_at = excluded.updated_at`,
		workspaceID, filename, content, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert context document %s: %w", filename, err)
	}
	logging.StoreDebug("Upserted context document %s (%d bytes)", filename, len(content))
	return nil
}

// DeleteContextDocument removes a curated note.
func (s *Store) DeleteContextDocument(workspaceID, filename string) error {
	_, err := s.db.Exec(
		`DELETE FROM context_documents WHERE workspace_id = ? AND filename = ?`,
		workspaceID, filename)
	if err != nil {
		return fmt.Errorf("failed to delete context document %s: %w", filename, err)
	}
	return nil
}

// ListContextDocuments returns the workspace's curated notes, oldest
// update first.
func (s *Store) ListContextDocuments(workspaceID string) ([]types.ContextDocument, error) {
	rows, err := s.db.Query(`
		SELECT filename, content, updated_at FROM context_documents
		WHERE workspace_id = ?
		ORDER BY updated_at`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list context documents: %w", err)
	}
	defer rows.Close()

	var out []types.ContextDocument
	for rows.Next() {
		var d types.ContextDocument
		if err := rows.Scan(&d.Filename, &d.Content, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("context document scan failed: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// SaveReportMetadata stores per-workspace report state, including the
// generated markdown.
func (s *Store) SaveReportMetadata(m *types.ReportMetadata) error {
	if m.WorkspaceID == "" {
		return &InvariantError{Op: "SaveReportMetadata", Reason: "workspace id is empty"}
	}
	var last interface{}
	if !m.LastGeneratedAt.IsZero() {
		last = m.LastGeneratedAt.UTC()
	}
	var markdown interface{}
	if m.Markdown != "" {
		markdown = m.Markdown
	}
	_, err := s.db.Exec(`
		INSERT INTO report_metadata (workspace_id, regeneration_interval, last_generated_at, markdown)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(workspace_id) DO UPDATE SET
			regeneration_interval = excluded.regeneration_interval,
			last_generated_at = excluded.last_generated_at,
			markdown = excluded.markdown`,
		m.WorkspaceID, int64(m.RegenerationInterval.Seconds()), last, markdown)
	if err != nil {
		return fmt.Errorf("failed to save report metadata: %w", err)
	}
	return nil
}

// GetReportMetadata loads per-workspace report state. Returns nil when
// no report has been generated yet.
func (s *Store) GetReportMetadata(workspaceID string) (*types.ReportMetadata, error) {
	var m types.ReportMetadata
	var intervalSeconds int64
	var last sql.NullTime
	var markdown sql.NullString

	err := s.db.QueryRow(`
		SELECT workspace_id, regeneration_interval, last_generated_at, markdown
		FROM report_metadata WHERE workspace_id = ?`, workspaceID).
		Scan(&m.WorkspaceID, &intervalSeconds, &last, &markdown)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report metadata: %w", err)
	}

	m.RegenerationInterval = time.Duration(intervalSeconds) * time.Second
	if last.Valid {
		m.LastGeneratedAt = last.Time
	}
	if markdown.Valid {
		m.Markdown = markdown.String
	}
	return &m, nil
}
