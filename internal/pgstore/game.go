package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cheddarbot/gamestore/internal/domain"
)

const gameColumns = `GroupId, WhiteId, BlackId, Board, Turn, PawnMove, Draw, Moved, WName, BName, CreatedAt, UpdatedAt`

func scanGame(row interface{ Scan(...any) error }) (*domain.Game, error) {
	var (
		g        domain.Game
		pawnMove sql.NullString
		draw     sql.NullBool
	)
	err := row.Scan(
		&g.GroupID, &g.WhiteID, &g.BlackID,
		&g.Board, &g.Turn, &pawnMove, &draw, &g.Moved,
		&g.WhiteName, &g.BlackName, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if pawnMove.Valid {
		sq := pawnMove.String
		g.PawnMove = &sq
	}
	if draw.Valid {
		v := draw.Bool
		g.Draw = &v
	}
	return &g, nil
}

func (s *Store) CreateGame(ctx context.Context, groupID int64, seed domain.GameSeed) (*domain.Game, error) {
	if !domain.ValidMoved(seed.Moved) {
		return nil, domain.ErrConstraintViolation
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
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO Games (GroupId, WhiteId, BlackId, Board, Turn, PawnMove, Draw, Moved, WName, BName)
		VALUES ($1, $2, $3, $4, TRUE, NULL, NULL, $5, $6, $7)
		RETURNING CreatedAt, UpdatedAt`,
		groupID, seed.WhiteID, seed.BlackID, seed.Board, seed.Moved, seed.WhiteName, seed.BlackName,
	).Scan(&g.CreatedAt, &g.UpdatedAt)
	if err != nil {
		return nil, mapError(err, domain.ErrDuplicateGame)
	}
	return g, nil
}

func (s *Store) GetGame(ctx context.Context, groupID, whiteID, blackID int64) (*domain.Game, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+gameColumns+`
		FROM Games
		WHERE GroupId = $1 AND WhiteId = $2 AND BlackId = $3`,
		groupID, whiteID, blackID)
	g, err := scanGame(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select game: %w", err)
	}
	return g, nil
}

func (s *Store) ApplyMove(ctx context.Context, groupID, whiteID, blackID int64, upd domain.MoveUpdate) (*domain.Game, error) {
	if err := upd.Validate(); err != nil {
		return nil, err
	}

	// One conditional UPDATE carries the optimistic check: it only matches
	// while the row still shows the turn the caller observed. A declined
	// draw offer does not survive a committed move.
	row := s.db.QueryRowContext(ctx, `
		UPDATE Games
		SET Board = $4,
			PawnMove = $5,
			Moved = $6,
			Turn = NOT Turn,
			Draw = CASE WHEN Draw = FALSE THEN NULL ELSE Draw END,
			UpdatedAt = NOW()
		WHERE GroupId = $1 AND WhiteId = $2 AND BlackId = $3 AND Turn = $7
		RETURNING `+gameColumns,
		groupID, whiteID, blackID, upd.Board, upd.PawnMove, upd.Moved, upd.FromTurn)

	g, err := scanGame(row)
	if errors.Is(err, sql.ErrNoRows) {
		// either the game is gone or a concurrent move advanced it
		var one int
		probe := s.db.QueryRowContext(ctx,
			`SELECT 1 FROM Games WHERE GroupId = $1 AND WhiteId = $2 AND BlackId = $3`,
			groupID, whiteID, blackID).Scan(&one)
		if errors.Is(probe, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		if probe != nil {
			return nil, fmt.Errorf("probe game: %w", probe)
		}
		return nil, domain.ErrTurnConflict
	}
	if err != nil {
		return nil, mapError(err, domain.ErrDuplicateGame)
	}
	return g, nil
}

func (s *Store) SetDraw(ctx context.Context, groupID, whiteID, blackID int64, accept bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE Games SET Draw = $4, UpdatedAt = NOW()
		WHERE GroupId = $1 AND WhiteId = $2 AND BlackId = $3`,
		groupID, whiteID, blackID, accept)
	if err != nil {
		return fmt.Errorf("set draw: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) Rename(ctx context.Context, groupID, whiteID, blackID int64, color domain.Color, name string) error {
	column := "WName"
	switch color {
	case domain.White:
	case domain.Black:
		column = "BName"
	default:
		return fmt.Errorf("unknown color %q", color)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE Games SET `+column+` = $4, UpdatedAt = NOW()
		WHERE GroupId = $1 AND WhiteId = $2 AND BlackId = $3`,
		groupID, whiteID, blackID, name)
	if err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteGame(ctx context.Context, groupID, whiteID, blackID int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM Games WHERE GroupId = $1 AND WhiteId = $2 AND BlackId = $3`,
		groupID, whiteID, blackID)
	if err != nil {
		return fmt.Errorf("delete game: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) ListGamesByGroup(ctx context.Context, groupID int64) ([]*domain.Game, error) {
	return s.listGames(ctx, `
		SELECT `+gameColumns+`
		FROM Games
		WHERE GroupId = $1
		ORDER BY WhiteId, BlackId`, groupID)
}

func (s *Store) ListGamesByPlayer(ctx context.Context, playerID int64) ([]*domain.Game, error) {
	return s.listGames(ctx, `
		SELECT `+gameColumns+`
		FROM Games
		WHERE WhiteId = $1 OR BlackId = $1
		ORDER BY GroupId, WhiteId, BlackId`, playerID)
}

func (s *Store) listGames(ctx context.Context, query string, arg int64) ([]*domain.Game, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("select games: %w", err)
	}
	defer rows.Close()

	out := []*domain.Game{}
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Store) ArchiveGame(ctx context.Context, rec *domain.FinishedGame) error {
	if rec == nil || rec.ID == "" {
		return domain.ErrConstraintViolation
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO FinishedGames (Id, GroupId, WhiteId, BlackId, WName, BName, Board, Result, Method, CreatedAt, FinishedAt)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (Id) DO NOTHING`,
		rec.ID, rec.GroupID, rec.WhiteID, rec.BlackID,
		rec.WhiteName, rec.BlackName, rec.Board, rec.Result, rec.Method,
		rec.CreatedAt, rec.FinishedAt)
	if err != nil {
		return fmt.Errorf("archive game: %w", err)
	}
	return nil
}

func (s *Store) RecentFinished(ctx context.Context, playerID int64, limit int) ([]*domain.FinishedGame, error) {
	if limit <= 0 {
		limit = 10
	}
	const query = `
		SELECT Id, GroupId, WhiteId, BlackId, WName, BName, Board, Result, Method, CreatedAt, FinishedAt
		FROM FinishedGames
		WHERE WhiteId = $1 OR BlackId = $1
		ORDER BY FinishedAt DESC
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("select finished games: %w", err)
	}
	defer rows.Close()

	out := []*domain.FinishedGame{}
	for rows.Next() {
		var r domain.FinishedGame
		if err := rows.Scan(
			&r.ID, &r.GroupID, &r.WhiteID, &r.BlackID,
			&r.WhiteName, &r.BlackName, &r.Board, &r.Result, &r.Method,
			&r.CreatedAt, &r.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan finished game: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}
