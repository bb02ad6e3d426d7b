package store

import (
	"errors"
	"fmt"
)

// InvariantError reports a violated storage constraint. It is fatal for
// the operation and surfaced to the caller unchanged.
type InvariantError struct {
	Op     string
	NodeID string
	Reason string
}

func (e *InvariantError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("store invariant violated in %s (node %s): %s", e.Op, e.NodeID, e.Reason)
	}
	return fmt.Sprintf("store invariant violated in %s: %s", e.Op, e.Reason)
}

// IsInvariantError reports whether err wraps an InvariantError.
func IsInvariantError(err error) bool {
	var ie *InvariantError
	return errors.As(err, &ie)
}

// ErrNotFound is returned when a requested node does not exist.
var ErrNotFound = errors.New("node not found")
