package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/devicewatch/internal/config"
	"github.com/hamed0406/devicewatch/internal/notify"
	"github.com/hamed0406/devicewatch/internal/store"
	"github.com/hamed0406/devicewatch/internal/store/memory"
	"github.com/hamed0406/devicewatch/internal/store/postgres"
	"github.com/hamed0406/devicewatch/internal/store/sqlite"
)

// Swapped out in tests.
var (
	openPostgres = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Backend, func(), error) {
		pg, err := postgres.New(ctx, cfg.DatabaseURL, cfg.DeviceName, logger)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	}
	openSQLite = func(ctx context.Context, path string) (store.Backend, func(), error) {
		db, err := sqlite.Open(ctx, path)
		if err != nil {
			return nil, nil, err
		}
		return db, func() { _ = db.Close() }, nil
	}
)

// openStore picks Postgres when DATABASE_URL is set, the in-memory store
// when asked for, and the on-device SQLite file otherwise. A backend that
// fails to open falls through to the next one (Postgres, SQLite, memory),
// so a backend is always returned; the error lists what was skipped.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Backend, func(), error) {
	if cfg.MemoryStore && cfg.DatabaseURL == "" {
		logger.Warn("store_memory", zap.String("note", "boot counter does not survive restarts"))
		return memory.New(), func() {}, nil
	}

	var errs error
	if cfg.DatabaseURL != "" {
		b, closeFn, err := openPostgres(ctx, cfg, logger)
		if err == nil {
			logger.Info("store_postgres")
			return b, closeFn, nil
		}
		logger.Error("store_postgres_failed", zap.Error(err))
		errs = multierr.Append(errs, fmt.Errorf("postgres: %w", err))
	}

	path := filepath.Join(cfg.DataDir, "devicewatch.db")
	b, closeFn, err := openSQLite(ctx, path)
	if err == nil {
		logger.Info("store_sqlite", zap.String("path", path))
		return b, closeFn, errs
	}
	logger.Error("store_sqlite_failed", zap.String("path", path), zap.Error(err))
	errs = multierr.Append(errs, fmt.Errorf("sqlite %s: %w", path, err))

	logger.Warn("store_memory_fallback")
	return memory.New(), func() {}, errs
}

func warnStoreDegraded(ctx context.Context, n notify.Notifier, cfg config.Config, cause error, logger *zap.Logger) {
	timeout := cfg.NotifyTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := n.Send(sendCtx,
		fmt.Sprintf("Storage degraded - %s", cfg.DeviceName),
		fmt.Sprintf("Persistent storage could not be opened (%v). Running on a fallback store; boot failure counts may not survive restarts.", cause),
		notify.SeverityWarning)
	if err != nil {
		logger.Warn("store_degraded_notify_failed", zap.Error(err))
	}
}
