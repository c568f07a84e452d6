package system

import "time"

// Phase defines execution ordering within a single tick.
type Phase int

const (
	PhaseInput      Phase = iota // 0: dispatch received messages
	PhasePreUpdate               // 1: deliver events emitted by handlers
	PhaseUpdate                  // 2: apply state changes (map loads, pings)
	PhasePostUpdate              // 3: reserved
	PhaseOutput                  // 4: flush outgoing messages
	PhasePersist                 // 5: diagnostics writes
	PhaseCleanup                 // 6: tear down closed connections
)

var phaseNames = [...]string{"input", "pre_update", "update", "post_update", "output", "persist", "cleanup"}

func (p Phase) String() string {
	if p >= 0 && int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "unknown"
}

// System is the interface every tick system implements.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}
