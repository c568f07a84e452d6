package system

import (
	"time"

	"github.com/manaplus/manaplus-net/internal/core/event"
	coresys "github.com/manaplus/manaplus-net/internal/core/system"
	"github.com/manaplus/manaplus-net/internal/handler"
	"go.uber.org/zap"
)

// MapSystem completes map changes announced by the warp and map login
// handlers: it moves the local player, tells the server the map is loaded and
// resumes dispatch. Phase 2 (Update).
type MapSystem struct {
	deps    *handler.Deps
	pending *event.MapChanged
}

func NewMapSystem(deps *handler.Deps) *MapSystem {
	s := &MapSystem{deps: deps}
	event.Subscribe(deps.Bus, func(ev event.MapChanged) {
		s.pending = &ev
	})
	return s
}

func (s *MapSystem) Phase() coresys.Phase { return coresys.PhaseUpdate }

func (s *MapSystem) Update(_ time.Duration) {
	if s.pending == nil {
		return
	}
	ev := s.pending
	s.pending = nil

	st := s.deps.State
	st.ChangeMap(ev.MapName, ev.X, ev.Y)
	st.MapLoading = false
	handler.SendMapLoaded(s.deps)
	s.deps.Dispatch.Resume()
	s.deps.Log.Info("地圖載入完成",
		zap.String("map", st.Player.MapName),
		zap.Uint16("x", ev.X),
		zap.Uint16("y", ev.Y),
	)
}
