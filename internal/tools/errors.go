package tools

import "errors"

var (
	// ErrToolNameEmpty means a tool was registered without a name.
	ErrToolNameEmpty = errors.New("tool name is empty")

	// ErrToolExecuteNil means a tool was registered without an Execute func.
	ErrToolExecuteNil = errors.New("tool execute function is nil")

	// ErrToolAlreadyRegistered means a duplicate registration was attempted.
	ErrToolAlreadyRegistered = errors.New("tool already registered")

	// ErrToolNotFound means Execute was called with an unknown tool name.
	ErrToolNotFound = errors.New("tool not found")
)
