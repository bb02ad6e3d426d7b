package store

import (
	"database/sql"
	"fmt"
	"time"

	"winterfox/internal/logging"
)

// migration is a named schema script. Names are recorded in the
// migrations table; a script runs exactly once per database, so
// re-running the sequence is a no-op.
type migration struct {
	name   string
	script string
	// fn runs instead of script when set, for data migrations that
	// need Go-side logic.
	fn func(tx *sql.Tx) error
}

var migrations = []migration{
	{
		name: "001_init",
		script: `
CREATE TABLE IF NOT EXISTS workspaces (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL DEFAULT '',
	owner         TEXT NOT NULL DEFAULT '',
	tier          TEXT NOT NULL DEFAULT 'default',
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL,
	settings_json TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS nodes (
	id               TEXT PRIMARY KEY,
	workspace_id     TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
	parent_id        TEXT,
	claim            TEXT NOT NULL,
	confidence       REAL NOT NULL CHECK (confidence >= 0 AND confidence <= 1),
	importance       REAL NOT NULL CHECK (importance >= 0 AND importance <= 1),
	depth            INTEGER NOT NULL CHECK (depth >= 0),
	status           TEXT NOT NULL,
	node_type        TEXT NOT NULL DEFAULT 'direction',
	data_json        TEXT NOT NULL,
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL,
	created_by_cycle INTEGER NOT NULL DEFAULT 0,
	updated_by_cycle INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS graph_operations (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
	timestamp    DATETIME NOT NULL,
	cycle_id     INTEGER NOT NULL DEFAULT 0,
	operation    TEXT NOT NULL,
	node_id      TEXT NOT NULL DEFAULT '',
	details_json TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS cycle_outputs (
	cycle_id                 INTEGER NOT NULL,
	workspace_id             TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
	target_node_id           TEXT NOT NULL DEFAULT '',
	target_claim             TEXT NOT NULL DEFAULT '',
	synthesis_reasoning      TEXT NOT NULL DEFAULT '',
	consensus_findings_json  TEXT NOT NULL DEFAULT '[]',
	contradictions_json      TEXT NOT NULL DEFAULT '[]',
	created_ids_json         TEXT NOT NULL DEFAULT '[]',
	updated_ids_json         TEXT NOT NULL DEFAULT '[]',
	skipped_ids_json         TEXT NOT NULL DEFAULT '[]',
	agent_outputs_json       TEXT NOT NULL DEFAULT '[]',
	selection_strategy       TEXT NOT NULL DEFAULT '',
	selection_reasoning      TEXT NOT NULL DEFAULT '',
	total_cost_usd           REAL NOT NULL DEFAULT 0,
	lead_llm_cost_usd        REAL NOT NULL DEFAULT 0,
	research_agents_cost_usd REAL NOT NULL DEFAULT 0,
	duration_seconds         REAL NOT NULL DEFAULT 0,
	success                  INTEGER NOT NULL DEFAULT 0,
	error_message            TEXT,
	created_at               DATETIME NOT NULL,
	PRIMARY KEY (workspace_id, cycle_id)
);

CREATE TABLE IF NOT EXISTS context_documents (
	workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
	filename     TEXT NOT NULL,
	content      TEXT NOT NULL DEFAULT '',
	updated_at   DATETIME NOT NULL,
	PRIMARY KEY (workspace_id, filename)
);

CREATE TABLE IF NOT EXISTS report_metadata (
	workspace_id          TEXT NOT NULL UNIQUE REFERENCES workspaces(id) ON DELETE CASCADE,
	regeneration_interval INTEGER NOT NULL DEFAULT 0,
	last_generated_at     DATETIME,
	markdown              TEXT
);

CREATE INDEX IF NOT EXISTS idx_nodes_workspace_parent
	ON nodes (workspace_id, parent_id);
CREATE INDEX IF NOT EXISTS idx_nodes_ranking
	ON nodes (workspace_id, confidence, importance, updated_at);
CREATE INDEX IF NOT EXISTS idx_nodes_status
	ON nodes (workspace_id, status);
`,
	},
	{
		name: "002_fts",
		script: `
CREATE VIRTUAL TABLE IF NOT EXISTS nodes_fts USING fts5(
	claim,
	content='nodes',
	content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS nodes_fts_ai AFTER INSERT ON nodes BEGIN
	INSERT INTO nodes_fts(rowid, claim) VALUES (new.rowid, new.claim);
END;

CREATE TRIGGER IF NOT EXISTS nodes_fts_ad AFTER DELETE ON nodes BEGIN
	INSERT INTO nodes_fts(nodes_fts, rowid, claim) VALUES ('delete', old.rowid, old.claim);
END;

CREATE TRIGGER IF NOT EXISTS nodes_fts_au AFTER UPDATE OF claim ON nodes BEGIN
	INSERT INTO nodes_fts(nodes_fts, rowid, claim) VALUES ('delete', old.rowid, old.claim);
	INSERT INTO nodes_fts(rowid, claim) VALUES (new.rowid, new.claim);
END;
`,
	},
	{
		name: "003_legacy_kinds",
		fn:   migrateLegacyKinds,
	},
}

// Migrate applies all pending migrations in order. Already-applied
// scripts are skipped, so calling Migrate repeatedly is safe.
func (s *Store) Migrate() error {
	timer := logging.StartTimer(logging.CategoryStore, "Migrate")
	defer timer.Stop()

	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			name       TEXT NOT NULL UNIQUE,
			applied_at DATETIME NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied := 0
	for _, m := range migrations {
		var count int
		if err := s.db.QueryRow(
			`SELECT COUNT(*) FROM migrations WHERE name = ?`, m.name).Scan(&count); err != nil {
			return fmt.Errorf("failed to check migration %s: %w", m.name, err)
		}
		if count > 0 {
			logging.StoreDebug("Migration already applied: %s", m.name)
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %s: %w", m.name, err)
		}
		if m.fn != nil {
			err = m.fn(tx)
		} else {
			_, err = tx.Exec(m.script)
		}
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %s failed: %w", m.name, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO migrations (name, applied_at) VALUES (?, ?)`,
			m.name, time.Now().UTC()); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", m.name, err)
		}
		logging.Store("Migration applied: %s", m.name)
		applied++
	}

	if applied > 0 {
		logging.Store("Applied %d migration(s)", applied)
	}
	return nil
}

// migrateLegacyKinds folds the old four-kind node model (question,
// hypothesis, supporting, opposing) into the single direction kind.
// The original kind is preserved as a legacy_kind tag inside data_json
// so nothing is lost.
func migrateLegacyKinds(tx *sql.Tx) error {
	rows, err := tx.Query(`
		SELECT id, node_type, data_json FROM nodes
		WHERE node_type IN ('question', 'hypothesis', 'supporting', 'opposing')`)
	if err != nil {
		return err
	}
	type legacyRow struct {
		id, kind, data string
	}
	var legacy []legacyRow
	for rows.Next() {
		var r legacyRow
		if err := rows.Scan(&r.id, &r.kind, &r.data); err != nil {
			rows.Close()
			return err
		}
		legacy = append(legacy, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, r := range legacy {
		data, err := rewriteLegacyData(r.data, r.kind)
		if err != nil {
			return fmt.Errorf("node %s: %w", r.id, err)
		}
		if _, err := tx.Exec(
			`UPDATE nodes SET node_type = 'direction', data_json = ? WHERE id = ?`,
			data, r.id); err != nil {
			return err
		}
	}
	if len(legacy) > 0 {
		logging.Store("Migrated %d legacy nodes to direction kind", len(legacy))
	}
	return nil
}
