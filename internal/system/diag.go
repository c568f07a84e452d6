package system

import (
	"context"
	"time"

	coresys "github.com/manaplus/manaplus-net/internal/core/system"
	"github.com/manaplus/manaplus-net/internal/net"
	"github.com/manaplus/manaplus-net/internal/net/packet"
	"github.com/manaplus/manaplus-net/internal/persist"
	"go.uber.org/zap"
)

// DiagStore persists diagnostics batches. *persist.DiagRepo implements it.
type DiagStore interface {
	Flush(ctx context.Context, b persist.DiagBatch) error
}

// DiagSystem collects unhandled opcodes and desyncs from the dispatcher and
// writes them to the diagnostics store every interval. Phase 5 (Persist).
// It is a net.Observer; the dispatcher calls it from the tick goroutine.
type DiagSystem struct {
	store    DiagStore
	server   string
	variant  string
	interval time.Duration
	elapsed  time.Duration
	batch    persist.DiagBatch
	log      *zap.Logger
}

func NewDiagSystem(store DiagStore, server, variant string, interval time.Duration, log *zap.Logger) *DiagSystem {
	s := &DiagSystem{
		store:    store,
		server:   server,
		variant:  variant,
		interval: interval,
		log:      log,
	}
	s.reset()
	return s
}

func (s *DiagSystem) reset() {
	s.batch = persist.DiagBatch{
		Variant:   s.variant,
		Unhandled: make(map[uint16]persist.UnhandledCount),
	}
}

func (s *DiagSystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *DiagSystem) Update(dt time.Duration) {
	s.elapsed += dt
	if s.elapsed < s.interval {
		return
	}
	s.elapsed = 0
	s.Flush()
}

// Flush writes the pending batch now. Called on the interval and at shutdown.
func (s *DiagSystem) Flush() {
	if s.batch.Empty() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.store.Flush(ctx, s.batch); err != nil {
		s.log.Error("寫入診斷資料失敗",
			zap.Int("desyncs", len(s.batch.Desyncs)),
			zap.Int("unhandled", len(s.batch.Unhandled)),
			zap.Error(err),
		)
		return
	}
	s.reset()
}

// Pending returns the batch not yet written.
func (s *DiagSystem) Pending() persist.DiagBatch { return s.batch }

func (s *DiagSystem) MessageDispatched(packet.Opcode, int) {}

func (s *DiagSystem) MessageUnhandled(op packet.Opcode, length int) {
	c := s.batch.Unhandled[op]
	c.Opcode = op
	c.Seen++
	c.Bytes += int64(length)
	s.batch.Unhandled[op] = c
}

func (s *DiagSystem) HandlerPanicked(packet.Opcode, any) {}

func (s *DiagSystem) Desynced(err *net.DesyncError) {
	s.batch.Desyncs = append(s.batch.Desyncs, persist.DesyncRecord{
		Server:  s.server,
		Variant: s.variant,
		Opcode:  err.Opcode,
		Length:  err.Length,
		Dump:    err.Dump,
		At:      time.Now(),
	})
	// the connection is about to close; do not wait for the interval
	s.Flush()
}
