package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/manaplus/manaplus-net/internal/config"
	"go.uber.org/zap"
)

// ErrNoDSN is returned by OpenDiag when the diagnostics store is disabled.
var ErrNoDSN = errors.New("database.dsn is not set")

// pingTimeout bounds the startup connectivity check.
const pingTimeout = 5 * time.Second

// DB is the diagnostics store connection. It only holds desync records and
// unhandled-opcode counters, so a small pool is enough.
type DB struct {
	Pool *pgxpool.Pool
	log  *zap.Logger
}

// NewDB connects to the diagnostics database described by cfg.
func NewDB(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (*DB, error) {
	if cfg.DSN == "" {
		return nil, ErrNoDSN
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open diagnostics pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping diagnostics db %s: %w", poolCfg.ConnConfig.Host, err)
	}

	log.Info("診斷資料庫已連線",
		zap.String("host", poolCfg.ConnConfig.Host),
		zap.String("database", poolCfg.ConnConfig.Database),
		zap.Int32("max_conns", poolCfg.MaxConns),
	)
	return &DB{Pool: pool, log: log}, nil
}

// OpenDiag connects, brings the diagnostics schema up to date and returns
// the repository on top of it. The caller closes the DB.
func OpenDiag(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (*DB, *DiagRepo, error) {
	db, err := NewDB(ctx, cfg, log)
	if err != nil {
		return nil, nil, err
	}
	if err := RunMigrations(ctx, db.Pool, log); err != nil {
		db.Close()
		return nil, nil, err
	}
	return db, NewDiagRepo(db), nil
}

func (db *DB) Close() {
	db.Pool.Close()
}
