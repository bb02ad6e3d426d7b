// Package llm provides provider adapters implementing types.LLMClient:
// OpenAI-compatible, Anthropic, and Gemini, each a hand-rolled HTTP
// client with shared retry and error classification.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// AuthError means the adapter's credentials are invalid. Terminal:
// cycle pre-flight fails fast, no retry.
type AuthError struct {
	Provider string
	Message  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s authentication failed: %s", e.Provider, e.Message)
}

// TransientError covers connection failures, timeouts, rate limits,
// and 5xx responses. Retried per backoff policy.
type TransientError struct {
	Provider string
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s transient error: %v", e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError covers non-auth 4xx responses. Not retried.
type PermanentError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s permanent error (HTTP %d): %s", e.Provider, e.StatusCode, e.Message)
}

// IsAuthError reports whether err wraps an AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// classifyStatus converts an HTTP status into a typed error. 2xx is
// never passed here.
func classifyStatus(provider string, status int, body string) error {
	switch {
	case status == 401 || status == 403:
		return &AuthError{Provider: provider, Message: truncateBody(body)}
	case status == 429 || status >= 500:
		return &TransientError{Provider: provider,
			Err: fmt.Errorf("HTTP %d: %s", status, truncateBody(body))}
	default:
		return &PermanentError{Provider: provider, StatusCode: status, Message: truncateBody(body)}
	}
}

func truncateBody(body string) string {
	if len(body) > 300 {
		return body[:300] + "..."
	}
	return body
}
