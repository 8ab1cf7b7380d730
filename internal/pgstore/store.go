// Package pgstore is the PostgreSQL gamestore.Store, the primary production
// backend.
package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/cheddarbot/gamestore/internal/domain"
	"github.com/cheddarbot/gamestore/internal/gamestore"
)

type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

var _ gamestore.Store = (*Store)(nil)

func New(databaseURL string, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("database connection string is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping reports connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureSchema applies the DDL. Idempotent; called at startup or by
// chessdb-init.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	s.logger.Info("database schema ensured")
	return nil
}

// EnsureDatabase connects to the maintenance database of the same server and
// creates dbName when it does not exist. Requires CREATEDB permission.
func EnsureDatabase(ctx context.Context, adminURL, dbName string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("postgres", adminURL)
	if err != nil {
		return err
	}
	defer db.Close()

	var one int
	err = db.QueryRowContext(ctx, `SELECT 1 FROM pg_database WHERE datname = $1`, dbName).Scan(&one)
	if err == nil {
		logger.Info("database already exists", zap.String("name", dbName))
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check database: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(`CREATE DATABASE %s`, pq.QuoteIdentifier(dbName))); err != nil {
		return fmt.Errorf("create database %q: %w", dbName, err)
	}
	logger.Info("database created", zap.String("name", dbName))
	return nil
}

func (s *Store) EnsureGroup(ctx context.Context, groupID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO Groups (GroupId) VALUES ($1) ON CONFLICT (GroupId) DO NOTHING`, groupID)
	if err != nil {
		return fmt.Errorf("ensure group: %w", err)
	}
	return nil
}

func (s *Store) DeleteGroup(ctx context.Context, groupID int64) error {
	// ON DELETE CASCADE removes the group's challenges and games in the
	// same statement.
	res, err := s.db.ExecContext(ctx, `DELETE FROM Groups WHERE GroupId = $1`, groupID)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// postgres error classes used by the mapping below.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
)

// mapError translates driver errors into the store taxonomy. dup is the
// uniqueness error the calling operation raises.
func mapError(err error, dup error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case codeUniqueViolation:
			return dup
		case codeForeignKeyViolation:
			return domain.ErrUnknownGroup
		case codeCheckViolation:
			return domain.ErrConstraintViolation
		}
	}
	return err
}
