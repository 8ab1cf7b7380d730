package domain

import (
	"regexp"
	"time"
)

// Color identifies a chess side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// StartingBoard is the serialized opening position. The encoding is owned by
// the chess layer; this package stores and returns it verbatim.
const StartingBoard = "R1 N1 B1 Q1 K1 B1 N1 R1;P1 P1 P1 P1 P1 P1 P1 P1;-- -- -- -- -- -- -- --;-- -- -- -- -- -- -- --;" +
	"-- -- -- -- -- -- -- --;-- -- -- -- -- -- -- --;P0 P0 P0 P0 P0 P0 P0 P0;R0 N0 B0 Q0 K0 B0 N0 R0"

// AllUnmoved is the castling flag vector for a fresh game: one flag per
// first-move-sensitive piece (both kings, both kingside rooks, both
// queenside rooks), none of which has moved yet.
const AllUnmoved = "000000"

// MovedWidth is the fixed width of the castling flag vector.
const MovedWidth = 6

var squareRe = regexp.MustCompile(`^[a-h][1-8]$`)

// ValidSquare reports whether s is a syntactically valid board square
// designator such as "e4". Used for en-passant eligibility values.
func ValidSquare(s string) bool {
	return squareRe.MatchString(s)
}

// ValidMoved reports whether s is a well-formed castling flag vector.
func ValidMoved(s string) bool {
	return len(s) == MovedWidth
}

// Challenge is a pending game request from Challenger to Challenged inside a
// group. At most one may exist per ordered pair per group, and never
// alongside a game for the same ordered color assignment.
type Challenge struct {
	GroupID    int64
	Challenger int64
	Challenged int64
	CreatedAt  time.Time
}

// Game is one active match, keyed by (GroupID, WhiteID, BlackID). Board and
// Moved are opaque to this layer. Turn is true when White is to move.
// PawnMove is the en-passant eligibility square, nil when none. Draw is nil
// when no offer is pending, true when a draw was accepted (terminal), false
// when the last offer was declined (cleared by the next committed move).
type Game struct {
	GroupID   int64
	WhiteID   int64
	BlackID   int64
	Board     string
	Turn      bool
	PawnMove  *string
	Draw      *bool
	Moved     string
	WhiteName string
	BlackName string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// GameSeed carries the initial state for a game created from an accepted
// challenge. The caller has already decided the color assignment.
type GameSeed struct {
	WhiteID   int64
	BlackID   int64
	Board     string
	Moved     string
	WhiteName string
	BlackName string
}

// NewSeed builds a seed for a standard opening position.
func NewSeed(whiteID, blackID int64, whiteName, blackName string) GameSeed {
	return GameSeed{
		WhiteID:   whiteID,
		BlackID:   blackID,
		Board:     StartingBoard,
		Moved:     AllUnmoved,
		WhiteName: whiteName,
		BlackName: blackName,
	}
}

// MoveUpdate is the replacement state for one committed half-move. FromTurn
// is the Turn value the caller observed when it read the game; a store
// rejects the update with ErrTurnConflict when the row has moved on.
type MoveUpdate struct {
	Board    string
	PawnMove *string
	Moved    string
	FromTurn bool
}

// Validate checks the syntactic constraints a store enforces before commit.
func (u MoveUpdate) Validate() error {
	if u.PawnMove != nil && !ValidSquare(*u.PawnMove) {
		return ErrConstraintViolation
	}
	if !ValidMoved(u.Moved) {
		return ErrConstraintViolation
	}
	return nil
}

// FinishedGame is the archived record of a completed match. ID is assigned
// by the caller (a UUID); Result is "white", "black" or "draw"; Method names
// how the game ended (checkmate, resign, draw-accept, abandon).
type FinishedGame struct {
	ID         string
	GroupID    int64
	WhiteID    int64
	BlackID    int64
	WhiteName  string
	BlackName  string
	Board      string
	Result     string
	Method     string
	CreatedAt  time.Time
	FinishedAt time.Time
}
