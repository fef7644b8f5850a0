package session

import "errors"

// Errors returned by the session engine.
var (
	// ErrNotFound is returned when a session id is unknown or belongs to
	// another user.
	ErrNotFound = errors.New("session not found")

	// ErrInvalidTransition is returned when a command is illegal for the
	// session's current status. The session is left unchanged.
	ErrInvalidTransition = errors.New("invalid session transition")

	// ErrAlreadyRunning is returned when starting a session that already
	// exists, or a task that already has an active session.
	ErrAlreadyRunning = errors.New("session already running")

	// ErrPersistenceFailure is returned when the session store rejected a
	// write after all retries. For non-terminal transitions the in-memory
	// state still reflects the command.
	ErrPersistenceFailure = errors.New("session persistence failed")

	// ErrInternalRace marks anomalies such as stale ticks. It is logged and
	// counted, never returned to callers.
	ErrInternalRace = errors.New("internal race detected")

	// ErrEngineClosed is returned for commands submitted during or after shutdown.
	ErrEngineClosed = errors.New("session engine is shutting down")
)
