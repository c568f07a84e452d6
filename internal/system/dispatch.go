package system

import (
	"errors"
	"time"

	coresys "github.com/manaplus/manaplus-net/internal/core/system"
	"github.com/manaplus/manaplus-net/internal/net"
	"go.uber.org/zap"
)

// DispatchSystem drains the receive buffer through the dispatcher once per
// tick. A desync closes the connection; the dispatcher's observers record it.
// Phase 0 (Input).
type DispatchSystem struct {
	disp       *net.Dispatcher
	conn       *net.Conn
	maxPerTick int
	log        *zap.Logger

	desync *net.DesyncError
}

func NewDispatchSystem(disp *net.Dispatcher, conn *net.Conn, maxPerTick int, log *zap.Logger) *DispatchSystem {
	return &DispatchSystem{
		disp:       disp,
		conn:       conn,
		maxPerTick: maxPerTick,
		log:        log,
	}
}

func (s *DispatchSystem) Phase() coresys.Phase { return coresys.PhaseInput }

func (s *DispatchSystem) Update(_ time.Duration) {
	if s.desync != nil {
		return
	}
	n, err := s.disp.DispatchN(s.maxPerTick)
	if err == nil {
		if n > 0 {
			s.log.Debug("本輪分派", zap.Int("messages", n))
		}
		return
	}

	var de *net.DesyncError
	if errors.As(err, &de) {
		s.desync = de
	}
	s.log.Error("封包流失去同步，關閉連線", zap.Error(err))
	s.conn.Close()
}

// Desync returns the error that stopped dispatch, if any.
func (s *DispatchSystem) Desync() *net.DesyncError { return s.desync }
