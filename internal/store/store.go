// Package store persists the research graph in SQLite. It is the only
// shared persistent state in Winterfox; every write goes through a
// validated operation here. The driver is modernc.org/sqlite (pure Go,
// no cgo), with an FTS5 index over direction claims.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"winterfox/internal/logging"
)

// Store wraps the SQLite database holding workspaces, nodes, cycle
// outputs, context documents, and report metadata.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the database at path and applies migrations.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	// The pragma rides the DSN so every pooled connection enforces
	// foreign keys, not just the one a PRAGMA statement ran on.
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("Opened store at %s", path)
	return s, nil
}

// OpenMemory opens an in-memory database, used by tests. A single
// connection is enforced so the memory database is not recreated per
// pooled connection.
func OpenMemory() (*Store, error) {
	db, err := sql.Open("sqlite", "file::memory:?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, path: ":memory:"}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	if _, err := s.db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		// WAL is unavailable for in-memory databases; not fatal.
		logging.StoreDebug("WAL not enabled: %v", err)
	}
	if err := s.Migrate(); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the raw handle for components that need custom queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EnsureWorkspace creates the workspace row if it does not exist.
func (s *Store) EnsureWorkspace(id, name string) error {
	if id == "" {
		return &InvariantError{Op: "EnsureWorkspace", Reason: "workspace id is empty"}
	}
	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO workspaces (id, name, owner, tier, created_at, updated_at, settings_json)
		VALUES (?, ?, '', 'default', ?, ?, '{}')
		ON CONFLICT(id) DO NOTHING`,
		id, name, now, now)
	if err != nil {
		return fmt.Errorf("failed to ensure workspace %s: %w", id, err)
	}
	return nil
}

// NextCycleID returns 1 + the highest cycle id recorded for the workspace.
func (s *Store) NextCycleID(workspaceID string) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRow(
		`SELECT MAX(cycle_id) FROM cycle_outputs WHERE workspace_id = ?`,
		workspaceID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("failed to read max cycle id: %w", err)
	}
	if !max.Valid {
		return 1, nil
	}
	return int(max.Int64) + 1, nil
}

// auditOperation appends one row to the graph_operations audit log.
// Audit failures are logged but never fail the parent operation.
func (s *Store) auditOperation(tx *sql.Tx, workspaceID string, cycleID int, operation, nodeID, details string) {
	_, err := tx.Exec(`
		INSERT INTO graph_operations (workspace_id, timestamp, cycle_id, operation, node_id, details_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
		workspaceID, time.Now().UTC(), cycleID, operation, nodeID, details)
	if err != nil {
		logging.Get(logging.CategoryStore).Warn("audit write failed for %s on %s: %v", operation, nodeID, err)
	}
}
