package domain

import "errors"

// Store error taxonomy. Every mutating operation either fully commits or
// reports one of these; all are recoverable by the caller.
var (
	// ErrNotFound: the referenced challenge, game or group does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateChallenge: the ordered pair already has a pending
	// challenge, or an active game supersedes it, in that group.
	ErrDuplicateChallenge = errors.New("challenge already exists")

	// ErrDuplicateGame: a game already exists for the ordered color
	// assignment in that group.
	ErrDuplicateGame = errors.New("game already exists")

	// ErrUnknownGroup: the group reference is invalid.
	ErrUnknownGroup = errors.New("unknown group")

	// ErrTurnConflict: a concurrent move advanced the game past the state
	// the caller observed. Reload and retry.
	ErrTurnConflict = errors.New("turn conflict")

	// ErrConstraintViolation: malformed PawnMove or Moved value, rejected
	// before commit.
	ErrConstraintViolation = errors.New("constraint violation")
)
