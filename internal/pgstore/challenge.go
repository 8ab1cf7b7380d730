package pgstore

import (
	"context"
	"fmt"

	"github.com/cheddarbot/gamestore/internal/domain"
)

func (s *Store) CreateChallenge(ctx context.Context, groupID, challenger, challenged int64) error {
	// An active game for the ordered pair supersedes a challenge, so the
	// insert is gated on its absence in the same statement.
	const query = `
		INSERT INTO Challenges (GroupId, Challenger, Challenged)
		SELECT $1, $2, $3
		WHERE NOT EXISTS (
			SELECT 1 FROM Games
			WHERE GroupId = $1 AND WhiteId = $2 AND BlackId = $3
		)`

	res, err := s.db.ExecContext(ctx, query, groupID, challenger, challenged)
	if err != nil {
		return mapError(err, domain.ErrDuplicateChallenge)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrDuplicateChallenge
	}
	return nil
}

func (s *Store) WithdrawChallenge(ctx context.Context, groupID, challenger, challenged int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM Challenges WHERE GroupId = $1 AND Challenger = $2 AND Challenged = $3`,
		groupID, challenger, challenged)
	if err != nil {
		return fmt.Errorf("withdraw challenge: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) AcceptChallenge(ctx context.Context, groupID, challenger, challenged int64, seed domain.GameSeed) (*domain.Game, error) {
	if !domain.ValidMoved(seed.Moved) {
		return nil, domain.ErrConstraintViolation
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin accept: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM Challenges WHERE GroupId = $1 AND Challenger = $2 AND Challenged = $3`,
		groupID, challenger, challenged)
	if err != nil {
		return nil, fmt.Errorf("accept: delete challenge: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// raced with a withdrawal
		return nil, domain.ErrNotFound
	}

	g := &domain.Game{
		GroupID:   groupID,
		WhiteID:   seed.WhiteID,
		BlackID:   seed.BlackID,
		Board:     seed.Board,
		Turn:      true,
		Moved:     seed.Moved,
		WhiteName: seed.WhiteName,
		BlackName: seed.BlackName,
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO Games (GroupId, WhiteId, BlackId, Board, Turn, PawnMove, Draw, Moved, WName, BName)
		VALUES ($1, $2, $3, $4, TRUE, NULL, NULL, $5, $6, $7)
		RETURNING CreatedAt, UpdatedAt`,
		groupID, seed.WhiteID, seed.BlackID, seed.Board, seed.Moved, seed.WhiteName, seed.BlackName,
	).Scan(&g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, mapError(err, domain.ErrDuplicateGame)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit accept: %w", err)
	}
	return g, nil
}

func (s *Store) ListChallenges(ctx context.Context, groupID, playerID int64) ([]*domain.Challenge, error) {
	const query = `
		SELECT GroupId, Challenger, Challenged, CreatedAt
		FROM Challenges
		WHERE GroupId = $1 AND (Challenger = $2 OR Challenged = $2)
		ORDER BY CreatedAt ASC`

	rows, err := s.db.QueryContext(ctx, query, groupID, playerID)
	if err != nil {
		return nil, fmt.Errorf("select challenges: %w", err)
	}
	defer rows.Close()

	out := []*domain.Challenge{}
	for rows.Next() {
		var c domain.Challenge
		if err := rows.Scan(&c.GroupID, &c.Challenger, &c.Challenged, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan challenge: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
