package api

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthFail indicates an authorization failure. Callers are expected
	// to take the integration offline until credentials change.
	ErrAuthFail = errors.New("authorization failed")

	// ErrMissingCredentials indicates a configuration problem (missing
	// pin, refresh token or device id). Never retried.
	ErrMissingCredentials = errors.New("missing credentials")

	// ErrMustRetry indicates a temporary error that should be retried
	ErrMustRetry = errors.New("must retry")

	// ErrNotAvailable indicates that the backing api client is not available
	ErrNotAvailable = errors.New("api not available")

	// ErrTimeout indicates that a command result did not resolve within
	// its deadline
	ErrTimeout = errors.New("timeout")
)

// CommandError indicates that the backend explicitly rejected or failed a
// dispatched vehicle command. Distinct from transport errors.
type CommandError struct {
	Action     string
	StatusCode int
	Reason     string
}

func (e *CommandError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("command %s failed: %s", e.Action, e.Reason)
	}

	return fmt.Sprintf("command %s failed: status %d", e.Action, e.StatusCode)
}
