package system

import (
	"time"

	"github.com/manaplus/manaplus-net/internal/core/event"
	coresys "github.com/manaplus/manaplus-net/internal/core/system"
)

// EventSystem swaps the event bus and delivers what handlers emitted during
// dispatch. Phase 1 (PreUpdate).
type EventSystem struct {
	bus *event.Bus
}

func NewEventSystem(bus *event.Bus) *EventSystem {
	return &EventSystem{bus: bus}
}

func (s *EventSystem) Phase() coresys.Phase { return coresys.PhasePreUpdate }

func (s *EventSystem) Update(_ time.Duration) {
	s.bus.SwapBuffers()
	s.bus.DispatchAll()
}
