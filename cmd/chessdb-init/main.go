// chessdb-init creates the configured database (when missing) and applies
// the game store schema. Safe to run repeatedly.
package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cheddarbot/gamestore/internal/config"
	"github.com/cheddarbot/gamestore/internal/logx"
	"github.com/cheddarbot/gamestore/internal/pgstore"
)

func main() {
	if err := logx.InitFromEnv(); err != nil {
		panic(err)
	}
	logger := logx.L()
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if cfg.Backend != config.BackendPostgres {
		logger.Fatal("chessdb-init only applies to the postgres backend",
			zap.String("backend", string(cfg.Backend)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Database creation needs the parts, not a raw conn string. Skip it
	// when only CHESSDB_CONN_STR is set; the schema pass still runs.
	if cfg.Name != "" {
		adminDSN, err := cfg.AdminDSN()
		if err != nil {
			logger.Fatal("admin dsn", zap.Error(err))
		}
		if err := pgstore.EnsureDatabase(ctx, adminDSN, cfg.Name, logger); err != nil {
			logger.Fatal("ensure database", zap.Error(err))
		}
	}

	dsn, err := cfg.DSN()
	if err != nil {
		logger.Fatal("dsn", zap.Error(err))
	}
	store, err := pgstore.New(dsn, logger)
	if err != nil {
		logger.Fatal("connect", zap.Error(err))
	}
	defer func() { _ = store.Close() }()

	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatal("ensure schema", zap.Error(err))
	}
	logger.Info("schema ready", zap.String("database", cfg.Name))
}
