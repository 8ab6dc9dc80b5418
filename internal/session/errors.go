// internal/session/errors.go
//
// Error taxonomy surfaced by the engine. The HTTP layer maps these to
// status codes; everything else (store/cache failures) is wrapped and
// treated as opaque server errors.

package session

import "errors"

var (
	// ErrNoSession means the user has no active session document.
	ErrNoSession = errors.New("no active session")

	// ErrInvalidInput means the guess coordinates are malformed or out of
	// range. The session document is never mutated in this case.
	ErrInvalidInput = errors.New("invalid guess coordinates")

	// ErrSessionComplete means the session has already played all of its
	// rounds.
	ErrSessionComplete = errors.New("session already complete")

	// ErrRoundNotOpen means a guess arrived for a round whose durable rows
	// do not exist yet (the client skipped the advance step).
	ErrRoundNotOpen = errors.New("current round is not open")

	// ErrEmptyPool means no locations exist to draw rounds from.
	ErrEmptyPool = errors.New("location pool is empty")
)
