// Package gamestore defines the persistence contract for challenges and
// games. Implementations exist for PostgreSQL (pgstore), embedded SQLite
// (litestore), Redis (redistore) and process memory (memstore); all enforce
// the same invariants so callers can swap engines freely.
package gamestore

import (
	"context"

	"github.com/cheddarbot/gamestore/internal/domain"
)

// Store is the full persistence surface. Mutating operations are atomic at
// the granularity of a single challenge or game key; AcceptChallenge is
// atomic across its delete+insert pair. The store is the sole arbiter of
// consistency: no in-process locking is assumed across calls.
//
// Every successful game mutation stamps UpdatedAt with the current time in
// the store's own write path. Callers never set it and cannot suppress it.
type Store interface {
	// EnsureGroup registers a group id so challenges and games may
	// reference it. Idempotent.
	EnsureGroup(ctx context.Context, groupID int64) error

	// DeleteGroup removes a group and, atomically, every challenge and
	// game that references it. Other groups are untouched.
	DeleteGroup(ctx context.Context, groupID int64) error

	// CreateChallenge inserts a pending challenge. Fails with
	// ErrDuplicateChallenge when the ordered pair already has a pending
	// challenge or an active game in the group, and with ErrUnknownGroup
	// when the group does not exist.
	CreateChallenge(ctx context.Context, groupID, challenger, challenged int64) error

	// WithdrawChallenge deletes a pending challenge. ErrNotFound when
	// absent.
	WithdrawChallenge(ctx context.Context, groupID, challenger, challenged int64) error

	// AcceptChallenge atomically deletes the challenge and inserts the
	// seeded game with Turn=true (White moves first), no pawn-move square
	// and no draw offer. Either both happen or neither does. ErrNotFound
	// when the challenge is gone (raced with a withdrawal),
	// ErrDuplicateGame when the seeded color assignment already has a
	// game.
	AcceptChallenge(ctx context.Context, groupID, challenger, challenged int64, seed domain.GameSeed) (*domain.Game, error)

	// ListChallenges returns the group's challenges where the player is
	// challenger or challenged, ordered by creation time ascending. A
	// point-in-time snapshot.
	ListChallenges(ctx context.Context, groupID, playerID int64) ([]*domain.Challenge, error)

	// CreateGame inserts a game directly, bypassing the challenge flow.
	// ErrDuplicateGame when the key exists, ErrUnknownGroup when the
	// group does not.
	CreateGame(ctx context.Context, groupID int64, seed domain.GameSeed) (*domain.Game, error)

	// GetGame returns the current row or ErrNotFound.
	GetGame(ctx context.Context, groupID, whiteID, blackID int64) (*domain.Game, error)

	// ApplyMove commits one half-move: replaces Board, PawnMove and
	// Moved, flips Turn, clears a declined-draw flag and stamps
	// UpdatedAt. The move itself was validated by the chess layer; only
	// syntactic constraints are checked here (ErrConstraintViolation).
	// ErrTurnConflict when upd.FromTurn no longer matches the row, i.e.
	// a concurrent move won the race. ErrNotFound when the game is gone.
	ApplyMove(ctx context.Context, groupID, whiteID, blackID int64, upd domain.MoveUpdate) (*domain.Game, error)

	// SetDraw records a draw-offer transition: accept=true marks the
	// game drawn (terminal; the caller then archives and deletes),
	// accept=false records a declined offer, cleared by the next move.
	SetDraw(ctx context.Context, groupID, whiteID, blackID int64, accept bool) error

	// Rename updates one side's display name independent of move state.
	Rename(ctx context.Context, groupID, whiteID, blackID int64, color domain.Color, name string) error

	// DeleteGame removes a game (resignation, completion, abandonment).
	// ErrNotFound when absent.
	DeleteGame(ctx context.Context, groupID, whiteID, blackID int64) error

	// ListGamesByGroup returns the group's games ordered by
	// (WhiteID, BlackID).
	ListGamesByGroup(ctx context.Context, groupID int64) ([]*domain.Game, error)

	// ListGamesByPlayer returns every game across groups where the
	// player holds either color, ordered by (GroupID, WhiteID, BlackID).
	ListGamesByPlayer(ctx context.Context, playerID int64) ([]*domain.Game, error)

	// ArchiveGame records a completed match. Idempotent on rec.ID.
	ArchiveGame(ctx context.Context, rec *domain.FinishedGame) error

	// RecentFinished returns a player's archived games, most recent
	// first.
	RecentFinished(ctx context.Context, playerID int64, limit int) ([]*domain.FinishedGame, error)

	Close() error
}
