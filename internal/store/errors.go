package store

import "errors"

// Validation failures surfaced to the caller as inline refusals. They are
// detected against a freshly fetched row, never a local cache, and never
// reach the remote store as writes.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("row not found")

	// ErrCellTaken indicates the scorecard cell is already filled.
	ErrCellTaken = errors.New("cell already filled")

	// ErrNotYourTurn indicates the writer is not the current turn owner.
	ErrNotYourTurn = errors.New("not the turn owner")

	// ErrSessionFull indicates the session already holds six players.
	ErrSessionFull = errors.New("session is full")

	// ErrSessionStarted indicates a join attempt on an in-progress game.
	ErrSessionStarted = errors.New("session already started")

	// ErrAlreadyCompleted indicates a completion write raced another
	// client's; the first write wins and this one is a no-op.
	ErrAlreadyCompleted = errors.New("session already completed")
)
