package session

import (
	"errors"
	"fmt"
)

// Sentinel errors for registry operations
var (
	// ErrSessionExists indicates a launch for a session id that is live or being launched
	ErrSessionExists = errors.New("session exists")

	// ErrSessionNotFound indicates the requested session does not exist
	ErrSessionNotFound = errors.New("session not found")

	// ErrPageNotFound indicates the requested page does not exist in its session
	ErrPageNotFound = errors.New("page not found")

	// ErrSessionLimit indicates the configured maximum number of sessions is reached
	ErrSessionLimit = errors.New("session limit reached")
)

// NotFoundError reports a missing session or page.
type NotFoundError struct {
	SessionID string
	PageID    string
}

func (e *NotFoundError) Error() string {
	if e.PageID != "" {
		return fmt.Sprintf("page %q not found in session %q", e.PageID, e.SessionID)
	}
	return fmt.Sprintf("session %q not found", e.SessionID)
}

func (e *NotFoundError) Is(target error) bool {
	if e.PageID != "" {
		return target == ErrPageNotFound
	}
	return target == ErrSessionNotFound
}

// IsNotFound reports whether err means a session or page does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrPageNotFound)
}
