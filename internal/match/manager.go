// Package match implements the game flow the bot layer drives: issuing and
// resolving challenges, committing moves, the draw negotiation and ending
// games. Chess legality is decided by the caller; this package only
// sequences store operations.
package match

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cheddarbot/gamestore/internal/domain"
	"github.com/cheddarbot/gamestore/internal/gamestore"
)

var (
	ErrSelfChallenge  = errors.New("cannot challenge yourself")
	ErrGameInProgress = errors.New("unresolved game between these players already")
)

// ColorChoice is the challenger's color preference.
type ColorChoice string

const (
	ColorWhite  ColorChoice = "white"
	ColorBlack  ColorChoice = "black"
	ColorRandom ColorChoice = "random"
)

func ParseColorChoice(s string) ColorChoice {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "white", "w":
		return ColorWhite
	case "black", "b":
		return ColorBlack
	default:
		return ColorRandom
	}
}

type Manager struct {
	store  gamestore.Store
	logger *zap.Logger
}

func New(store gamestore.Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, logger: logger}
}

// Challenge issues a challenge from challenger to opponent. When the
// opponent already has a reciprocal challenge pending, both players clearly
// want the game, so it is accepted on the spot with random colors and the
// new game is returned. Otherwise the returned game is nil and a challenge
// now awaits the opponent.
func (m *Manager) Challenge(ctx context.Context, groupID, challenger, opponent int64, challengerName, opponentName string) (*domain.Game, error) {
	if challenger == opponent {
		return nil, ErrSelfChallenge
	}
	if m.gameExists(ctx, groupID, challenger, opponent) {
		return nil, ErrGameInProgress
	}

	pending, err := m.store.ListChallenges(ctx, groupID, challenger)
	if err != nil {
		return nil, fmt.Errorf("list challenges: %w", err)
	}
	for _, c := range pending {
		if c.Challenger == opponent && c.Challenged == challenger {
			// reciprocal challenge: treat as an acceptance
			return m.Accept(ctx, groupID, opponent, challenger, ColorRandom, opponentName, challengerName)
		}
	}

	if err := m.store.CreateChallenge(ctx, groupID, challenger, opponent); err != nil {
		return nil, err
	}
	m.logger.Info("challenge issued",
		zap.Int64("group", groupID),
		zap.Int64("challenger", challenger),
		zap.Int64("challenged", opponent))
	return nil, nil
}

// Accept promotes a pending challenge into a game. choice is the
// challenger's color preference; ColorRandom flips a coin.
func (m *Manager) Accept(ctx context.Context, groupID, challenger, challenged int64, choice ColorChoice, challengerName, challengedName string) (*domain.Game, error) {
	whiteID, whiteName := challenger, challengerName
	blackID, blackName := challenged, challengedName
	switch choice {
	case ColorWhite:
	case ColorBlack:
		whiteID, whiteName, blackID, blackName = challenged, challengedName, challenger, challengerName
	default:
		if n, _ := rand.Int(rand.Reader, big.NewInt(2)); n != nil && n.Int64() == 0 {
			whiteID, whiteName, blackID, blackName = challenged, challengedName, challenger, challengerName
		}
	}

	seed := domain.NewSeed(whiteID, blackID, whiteName, blackName)
	g, err := m.store.AcceptChallenge(ctx, groupID, challenger, challenged, seed)
	if err != nil {
		return nil, err
	}
	m.logger.Info("challenge accepted",
		zap.Int64("group", groupID),
		zap.Int64("white", g.WhiteID),
		zap.Int64("black", g.BlackID))
	return g, nil
}

// Withdraw removes a pending challenge (withdrawal by the challenger or
// rejection by the challenged, the store does not care which).
func (m *Manager) Withdraw(ctx context.Context, groupID, challenger, challenged int64) error {
	return m.store.WithdrawChallenge(ctx, groupID, challenger, challenged)
}

// Move commits an externally validated half-move.
func (m *Manager) Move(ctx context.Context, groupID, whiteID, blackID int64, upd domain.MoveUpdate) (*domain.Game, error) {
	g, err := m.store.ApplyMove(ctx, groupID, whiteID, blackID, upd)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("move committed",
		zap.Int64("group", groupID),
		zap.Int64("white", whiteID),
		zap.Int64("black", blackID),
		zap.Bool("white_to_move", g.Turn))
	return g, nil
}

// OfferDraw records a pending draw offer.
func (m *Manager) OfferDraw(ctx context.Context, groupID, whiteID, blackID int64) error {
	return m.store.SetDraw(ctx, groupID, whiteID, blackID, true)
}

// DeclineDraw records a declined offer; the flag clears on the next
// committed move.
func (m *Manager) DeclineDraw(ctx context.Context, groupID, whiteID, blackID int64) error {
	return m.store.SetDraw(ctx, groupID, whiteID, blackID, false)
}

// AcceptDraw ends the game as a draw: the final position is archived and the
// live row removed.
func (m *Manager) AcceptDraw(ctx context.Context, groupID, whiteID, blackID int64) (*domain.FinishedGame, error) {
	return m.Finish(ctx, groupID, whiteID, blackID, "draw", "draw-accept")
}

// Resign ends the game in the opponent's favor.
func (m *Manager) Resign(ctx context.Context, groupID, whiteID, blackID, resigning int64) (*domain.FinishedGame, error) {
	result := string(domain.White)
	if resigning == whiteID {
		result = string(domain.Black)
	}
	return m.Finish(ctx, groupID, whiteID, blackID, result, "resign")
}

// Finish archives the game's final state under result/method and deletes the
// live row. result is "white", "black" or "draw"; method names the ending
// (checkmate, stalemate, resign, draw-accept, abandon).
func (m *Manager) Finish(ctx context.Context, groupID, whiteID, blackID int64, result, method string) (*domain.FinishedGame, error) {
	g, err := m.store.GetGame(ctx, groupID, whiteID, blackID)
	if err != nil {
		return nil, err
	}
	rec := &domain.FinishedGame{
		ID:         archiveID(g),
		GroupID:    groupID,
		WhiteID:    whiteID,
		BlackID:    blackID,
		WhiteName:  g.WhiteName,
		BlackName:  g.BlackName,
		Board:      g.Board,
		Result:     result,
		Method:     method,
		CreatedAt:  g.CreatedAt,
		FinishedAt: time.Now().UTC(),
	}
	if err := m.store.ArchiveGame(ctx, rec); err != nil {
		return nil, fmt.Errorf("archive game: %w", err)
	}
	if err := m.store.DeleteGame(ctx, groupID, whiteID, blackID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	m.logger.Info("game finished",
		zap.Int64("group", groupID),
		zap.Int64("white", whiteID),
		zap.Int64("black", blackID),
		zap.String("result", result),
		zap.String("method", method))
	return rec, nil
}

// archiveID is stable for a given game, so a Finish retried after a partial
// failure lands on the same archive row instead of minting a second one.
func archiveID(g *domain.Game) string {
	key := fmt.Sprintf("%d:%d:%d:%d", g.GroupID, g.WhiteID, g.BlackID, g.CreatedAt.UnixNano())
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

// Rename updates one side's display name.
func (m *Manager) Rename(ctx context.Context, groupID, whiteID, blackID int64, color domain.Color, name string) error {
	return m.store.Rename(ctx, groupID, whiteID, blackID, color, name)
}

// gameExists reports an unresolved game between the two players in either
// color order.
func (m *Manager) gameExists(ctx context.Context, groupID, p1, p2 int64) bool {
	if _, err := m.store.GetGame(ctx, groupID, p1, p2); err == nil {
		return true
	}
	if _, err := m.store.GetGame(ctx, groupID, p2, p1); err == nil {
		return true
	}
	return false
}
