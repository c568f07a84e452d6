package system

import (
	"time"

	coresys "github.com/manaplus/manaplus-net/internal/core/system"
	"github.com/manaplus/manaplus-net/internal/net"
	"go.uber.org/zap"
)

// FlushSystem writes everything queued this tick. Phase 4 (Output).
type FlushSystem struct {
	conn *net.Conn
	log  *zap.Logger
}

func NewFlushSystem(conn *net.Conn, log *zap.Logger) *FlushSystem {
	return &FlushSystem{conn: conn, log: log}
}

func (s *FlushSystem) Phase() coresys.Phase { return coresys.PhaseOutput }

func (s *FlushSystem) Update(_ time.Duration) {
	if err := s.conn.Flush(); err != nil {
		s.log.Warn("送出封包失敗", zap.Error(err))
	}
}
