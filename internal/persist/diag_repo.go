package persist

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
)

// DesyncRecord is one protocol desynchronization.
type DesyncRecord struct {
	Server  string
	Variant string
	Opcode  uint16
	Length  int
	Dump    []byte
	At      time.Time
}

// UnhandledCount is how often an opcode arrived without a handler.
type UnhandledCount struct {
	Opcode uint16
	Seen   int64
	Bytes  int64
}

// DiagBatch is everything collected since the last flush.
type DiagBatch struct {
	Variant   string
	Desyncs   []DesyncRecord
	Unhandled map[uint16]UnhandledCount
}

// Empty reports whether there is nothing to write.
func (b DiagBatch) Empty() bool {
	return len(b.Desyncs) == 0 && len(b.Unhandled) == 0
}

type DiagRepo struct {
	db *DB
}

func NewDiagRepo(db *DB) *DiagRepo {
	return &DiagRepo{db: db}
}

// Flush writes a whole batch in one transaction.
func (r *DiagRepo) Flush(ctx context.Context, b DiagBatch) error {
	if b.Empty() {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("diag begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, rec := range b.Desyncs {
		if _, err := tx.Exec(ctx, insertDesync,
			rec.Server, rec.Variant, int32(rec.Opcode), int32(rec.Length), rec.Dump, at(rec.At),
		); err != nil {
			return fmt.Errorf("insert desync: %w", err)
		}
	}

	ops := make([]uint16, 0, len(b.Unhandled))
	for op := range b.Unhandled {
		ops = append(ops, op)
	}
	// stable lock order across concurrent writers
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	for _, op := range ops {
		c := b.Unhandled[op]
		if _, err := tx.Exec(ctx, upsertUnhandled, b.Variant, int32(op), c.Seen, c.Bytes); err != nil {
			return fmt.Errorf("upsert unhandled 0x%04x: %w", op, err)
		}
	}

	return tx.Commit(ctx)
}

// TopUnhandled returns the most frequent unhandled opcodes of a variant.
func (r *DiagRepo) TopUnhandled(ctx context.Context, variant string, limit int) ([]UnhandledCount, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT opcode, seen, bytes FROM unhandled_packets
		 WHERE variant = $1 ORDER BY seen DESC, opcode LIMIT $2`, variant, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query unhandled: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (UnhandledCount, error) {
		var op int32
		var c UnhandledCount
		err := row.Scan(&op, &c.Seen, &c.Bytes)
		c.Opcode = uint16(op)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan unhandled: %w", err)
	}
	return out, nil
}

// LastDesync returns the newest desync of a server, or nil if there is none.
func (r *DiagRepo) LastDesync(ctx context.Context, server string) (*DesyncRecord, error) {
	rec := &DesyncRecord{Server: server}
	var op, length int32
	err := r.db.Pool.QueryRow(ctx,
		`SELECT variant, opcode, length, dump, created_at FROM desync_events
		 WHERE server = $1 ORDER BY created_at DESC LIMIT 1`, server,
	).Scan(&rec.Variant, &op, &length, &rec.Dump, &rec.At)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.Opcode, rec.Length = uint16(op), int(length)
	return rec, nil
}

const insertDesync = `INSERT INTO desync_events (server, variant, opcode, length, dump, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)`

const upsertUnhandled = `INSERT INTO unhandled_packets (variant, opcode, seen, bytes, last_seen)
	VALUES ($1, $2, $3, $4, now())
	ON CONFLICT (variant, opcode) DO UPDATE SET
		seen = unhandled_packets.seen + EXCLUDED.seen,
		bytes = unhandled_packets.bytes + EXCLUDED.bytes,
		last_seen = now()`

func at(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
