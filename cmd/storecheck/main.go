// storecheck opens the configured backend and runs a small write/read
// cycle against a probe group, reporting how long each step takes.
package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cheddarbot/gamestore/internal/config"
	"github.com/cheddarbot/gamestore/internal/gamestore"
	"github.com/cheddarbot/gamestore/internal/litestore"
	"github.com/cheddarbot/gamestore/internal/logx"
	"github.com/cheddarbot/gamestore/internal/memstore"
	"github.com/cheddarbot/gamestore/internal/pgstore"
	"github.com/cheddarbot/gamestore/internal/redistore"
)

// probeGroup is far outside the chat platform's id range.
const probeGroup int64 = -973451

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

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	start := time.Now()
	store, err := open(cfg, logger)
	if err != nil {
		logger.Fatal("open store", zap.String("backend", string(cfg.Backend)), zap.Error(err))
	}
	defer func() { _ = store.Close() }()
	logger.Info("connected",
		zap.String("backend", string(cfg.Backend)),
		zap.Duration("took", time.Since(start)))

	start = time.Now()
	if err := store.EnsureGroup(ctx, probeGroup); err != nil {
		logger.Fatal("ensure probe group", zap.Error(err))
	}
	if _, err := store.ListChallenges(ctx, probeGroup, 0); err != nil {
		logger.Fatal("list challenges", zap.Error(err))
	}
	if _, err := store.ListGamesByGroup(ctx, probeGroup); err != nil {
		logger.Fatal("list games", zap.Error(err))
	}
	if err := store.DeleteGroup(ctx, probeGroup); err != nil {
		logger.Fatal("delete probe group", zap.Error(err))
	}
	logger.Info("round trip ok", zap.Duration("took", time.Since(start)))
}

func open(cfg *config.Config, logger *zap.Logger) (gamestore.Store, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		dsn, err := cfg.DSN()
		if err != nil {
			return nil, err
		}
		return pgstore.New(dsn, logger)
	case config.BackendSQLite:
		return litestore.Open(cfg.SQLitePath, logger)
	case config.BackendRedis:
		return redistore.New(cfg.RedisURL, logger)
	case config.BackendMemory:
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
