package browser

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionDead is returned once a Session has failed to recover. A dead
	// Session never comes back; build a new one.
	ErrSessionDead = errors.New("browser: session is dead")

	// ErrSessionClosed is returned by operations on a closed Session.
	ErrSessionClosed = errors.New("browser: session is closed")

	// ErrWaitTimeout marks a readiness wait that ran out of time.
	ErrWaitTimeout = errors.New("browser: wait timed out")

	// ErrNotConnected is returned when no page is open.
	ErrNotConnected = errors.New("browser: not connected")
)

// AuthError reports that the login sequence failed on every attempt.
type AuthError struct {
	Attempts int
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("browser: login failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// RefreshError reports that a refresh could not produce a ready page.
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("browser: refresh failed: %v", e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }
