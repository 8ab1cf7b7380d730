// Package litestore is an embedded SQLite gamestore.Store for single-node
// deployments that do not run a database server. Timestamps are stamped from
// the process clock inside the write path since SQLite's CURRENT_TIMESTAMP
// only carries second resolution.
package litestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/cheddarbot/gamestore/internal/domain"
	"github.com/cheddarbot/gamestore/internal/gamestore"
)

// Schema is the SQLite DDL, mirroring the PostgreSQL schema.
const Schema = `
CREATE TABLE IF NOT EXISTS Groups (
	GroupId INTEGER PRIMARY KEY,
	CreatedAt TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS Challenges (
	GroupId INTEGER NOT NULL,
	Challenger INTEGER NOT NULL,
	Challenged INTEGER NOT NULL,
	CreatedAt TIMESTAMP NOT NULL,
	PRIMARY KEY (GroupId, Challenger, Challenged),
	FOREIGN KEY (GroupId) REFERENCES Groups(GroupId) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_challenges_group ON Challenges(GroupId);
CREATE INDEX IF NOT EXISTS idx_challenges_players ON Challenges(Challenger, Challenged);

CREATE TABLE IF NOT EXISTS Games (
	GroupId INTEGER NOT NULL,
	WhiteId INTEGER NOT NULL,
	BlackId INTEGER NOT NULL,
	Board TEXT NOT NULL,
	Turn INTEGER NOT NULL DEFAULT 1,
	PawnMove TEXT CHECK (PawnMove IS NULL OR PawnMove GLOB '[a-h][1-8]'),
	Draw INTEGER,
	Moved TEXT NOT NULL CHECK (length(Moved) = 6),
	WName TEXT NOT NULL DEFAULT '',
	BName TEXT NOT NULL DEFAULT '',
	CreatedAt TIMESTAMP NOT NULL,
	UpdatedAt TIMESTAMP NOT NULL,
	PRIMARY KEY (GroupId, WhiteId, BlackId),
	FOREIGN KEY (GroupId) REFERENCES Groups(GroupId) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_games_group ON Games(GroupId);
CREATE INDEX IF NOT EXISTS idx_games_players ON Games(WhiteId, BlackId);
CREATE INDEX IF NOT EXISTS idx_games_black ON Games(BlackId);

CREATE TABLE IF NOT EXISTS FinishedGames (
	Id TEXT PRIMARY KEY,
	GroupId INTEGER NOT NULL,
	WhiteId INTEGER NOT NULL,
	BlackId INTEGER NOT NULL,
	WName TEXT NOT NULL DEFAULT '',
	BName TEXT NOT NULL DEFAULT '',
	Board TEXT NOT NULL DEFAULT '',
	Result TEXT NOT NULL,
	Method TEXT NOT NULL DEFAULT '',
	CreatedAt TIMESTAMP NOT NULL,
	FinishedAt TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_finished_white ON FinishedGames(WhiteId, FinishedAt DESC);
CREATE INDEX IF NOT EXISTS idx_finished_black ON FinishedGames(BlackId, FinishedAt DESC);
`

type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ gamestore.Store = (*Store)(nil)

// Open opens (and creates, if needed) a SQLite database at dsn and applies
// the schema. A single connection keeps every operation serialized, which is
// what gives SQLite its atomicity here.
func Open(dsn string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", fkDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// fkDSN adds _foreign_keys=on to the DSN. The pragma is per-connection, so
// it has to ride the DSN: a connection replaced after a driver error would
// otherwise come up with foreign keys off and DeleteGroup would stop
// cascading.
func fkDSN(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys=") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_foreign_keys=on"
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func now() time.Time { return time.Now().UTC() }

func mapError(err error, dup error) error {
	var sErr sqlite3.Error
	if errors.As(err, &sErr) {
		switch sErr.ExtendedCode {
		case sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique:
			return dup
		case sqlite3.ErrConstraintForeignKey:
			return domain.ErrUnknownGroup
		case sqlite3.ErrConstraintCheck:
			return domain.ErrConstraintViolation
		}
	}
	return err
}

func (s *Store) EnsureGroup(ctx context.Context, groupID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO Groups (GroupId, CreatedAt) VALUES (?, ?)`, groupID, now())
	if err != nil {
		return fmt.Errorf("ensure group: %w", err)
	}
	return nil
}

func (s *Store) DeleteGroup(ctx context.Context, groupID int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM Groups WHERE GroupId = ?`, groupID)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Store) CreateChallenge(ctx context.Context, groupID, challenger, challenged int64) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO Challenges (GroupId, Challenger, Challenged, CreatedAt)
		SELECT ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM Games WHERE GroupId = ?1 AND WhiteId = ?2 AND BlackId = ?3
		)`,
		groupID, challenger, challenged, now())
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
		`DELETE FROM Challenges WHERE GroupId = ? AND Challenger = ? AND Challenged = ?`,
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
		`DELETE FROM Challenges WHERE GroupId = ? AND Challenger = ? AND Challenged = ?`,
		groupID, challenger, challenged)
	if err != nil {
		return nil, fmt.Errorf("accept: delete challenge: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, domain.ErrNotFound
	}

	ts := now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO Games (GroupId, WhiteId, BlackId, Board, Turn, PawnMove, Draw, Moved, WName, BName, CreatedAt, UpdatedAt)
		VALUES (?, ?, ?, ?, 1, NULL, NULL, ?, ?, ?, ?, ?)`,
		groupID, seed.WhiteID, seed.BlackID, seed.Board, seed.Moved,
		seed.WhiteName, seed.BlackName, ts, ts)
	if err != nil {
		return nil, mapError(err, domain.ErrDuplicateGame)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit accept: %w", err)
	}

	return &domain.Game{
		GroupID:   groupID,
		WhiteID:   seed.WhiteID,
		BlackID:   seed.BlackID,
		Board:     seed.Board,
		Turn:      true,
		Moved:     seed.Moved,
		WhiteName: seed.WhiteName,
		BlackName: seed.BlackName,
		CreatedAt: ts,
		UpdatedAt: ts,
	}, nil
}

func (s *Store) ListChallenges(ctx context.Context, groupID, playerID int64) ([]*domain.Challenge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT GroupId, Challenger, Challenged, CreatedAt
		FROM Challenges
		WHERE GroupId = ? AND (Challenger = ?2 OR Challenged = ?2)
		ORDER BY CreatedAt ASC`,
		groupID, playerID)
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
	ts := now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO Games (GroupId, WhiteId, BlackId, Board, Turn, PawnMove, Draw, Moved, WName, BName, CreatedAt, UpdatedAt)
		VALUES (?, ?, ?, ?, 1, NULL, NULL, ?, ?, ?, ?, ?)`,
		groupID, seed.WhiteID, seed.BlackID, seed.Board, seed.Moved,
		seed.WhiteName, seed.BlackName, ts, ts)
	if err != nil {
		return nil, mapError(err, domain.ErrDuplicateGame)
	}
	return &domain.Game{
		GroupID:   groupID,
		WhiteID:   seed.WhiteID,
		BlackID:   seed.BlackID,
		Board:     seed.Board,
		Turn:      true,
		Moved:     seed.Moved,
		WhiteName: seed.WhiteName,
		BlackName: seed.BlackName,
		CreatedAt: ts,
		UpdatedAt: ts,
	}, nil
}

func (s *Store) GetGame(ctx context.Context, groupID, whiteID, blackID int64) (*domain.Game, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+gameColumns+` FROM Games
		WHERE GroupId = ? AND WhiteId = ? AND BlackId = ?`,
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

	res, err := s.db.ExecContext(ctx, `
		UPDATE Games
		SET Board = ?4,
			PawnMove = ?5,
			Moved = ?6,
			Turn = NOT Turn,
			Draw = CASE WHEN Draw = 0 THEN NULL ELSE Draw END,
			UpdatedAt = ?7
		WHERE GroupId = ?1 AND WhiteId = ?2 AND BlackId = ?3 AND Turn = ?8`,
		groupID, whiteID, blackID, upd.Board, upd.PawnMove, upd.Moved, now(), upd.FromTurn)
	if err != nil {
		return nil, mapError(err, domain.ErrDuplicateGame)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var one int
		probe := s.db.QueryRowContext(ctx,
			`SELECT 1 FROM Games WHERE GroupId = ? AND WhiteId = ? AND BlackId = ?`,
			groupID, whiteID, blackID).Scan(&one)
		if errors.Is(probe, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		if probe != nil {
			return nil, fmt.Errorf("probe game: %w", probe)
		}
		return nil, domain.ErrTurnConflict
	}
	return s.GetGame(ctx, groupID, whiteID, blackID)
}

func (s *Store) SetDraw(ctx context.Context, groupID, whiteID, blackID int64, accept bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE Games SET Draw = ?, UpdatedAt = ?
		WHERE GroupId = ? AND WhiteId = ? AND BlackId = ?`,
		accept, now(), groupID, whiteID, blackID)
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
		UPDATE Games SET `+column+` = ?, UpdatedAt = ?
		WHERE GroupId = ? AND WhiteId = ? AND BlackId = ?`,
		name, now(), groupID, whiteID, blackID)
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
		`DELETE FROM Games WHERE GroupId = ? AND WhiteId = ? AND BlackId = ?`,
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
		SELECT `+gameColumns+` FROM Games
		WHERE GroupId = ?
		ORDER BY WhiteId, BlackId`, groupID)
}

func (s *Store) ListGamesByPlayer(ctx context.Context, playerID int64) ([]*domain.Game, error) {
	return s.listGames(ctx, `
		SELECT `+gameColumns+` FROM Games
		WHERE WhiteId = ?1 OR BlackId = ?1
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
		INSERT OR IGNORE INTO FinishedGames (Id, GroupId, WhiteId, BlackId, WName, BName, Board, Result, Method, CreatedAt, FinishedAt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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
	rows, err := s.db.QueryContext(ctx, `
		SELECT Id, GroupId, WhiteId, BlackId, WName, BName, Board, Result, Method, CreatedAt, FinishedAt
		FROM FinishedGames
		WHERE WhiteId = ?1 OR BlackId = ?1
		ORDER BY FinishedAt DESC
		LIMIT ?2`,
		playerID, limit)
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
