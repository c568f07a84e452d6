package system

import (
	"time"

	coresys "github.com/manaplus/manaplus-net/internal/core/system"
	"github.com/manaplus/manaplus-net/internal/handler"
)

// PingSystem sends a client ping every interval. Phase 2 (Update).
type PingSystem struct {
	deps     *handler.Deps
	interval time.Duration
	elapsed  time.Duration
}

func NewPingSystem(deps *handler.Deps, interval time.Duration) *PingSystem {
	return &PingSystem{deps: deps, interval: interval}
}

func (s *PingSystem) Phase() coresys.Phase { return coresys.PhaseUpdate }

func (s *PingSystem) Update(dt time.Duration) {
	if s.interval <= 0 {
		return
	}
	s.elapsed += dt
	if s.elapsed < s.interval {
		return
	}
	s.elapsed = 0
	handler.SendClientPing(s.deps, time.Now())
}
