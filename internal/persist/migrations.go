package persist

import (
	"context"
	"embed"
	"fmt"
	"io/fs"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

// migrations holds the diagnostics schema: desync_events (one row per
// dropped connection, with the head-of-buffer dump) and unhandled_packets
// (per variant and opcode counters, upserted on every flush).
//
//go:embed migrations/*.sql
var migrations embed.FS

// RunMigrations applies pending diagnostics migrations. It uses a goose
// Provider so concurrent sessions do not share goose's package state.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, log *zap.Logger) error {
	sqlFS, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, sqlFS)
	if err != nil {
		return fmt.Errorf("diagnostics migrations: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("diagnostics migrations: %w", err)
	}
	for _, r := range results {
		log.Info("診斷資料表遷移完成",
			zap.Int64("version", r.Source.Version),
			zap.String("file", r.Source.Path),
			zap.Duration("took", r.Duration),
		)
	}
	return nil
}
