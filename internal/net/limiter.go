package net

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// PacketKind groups outgoing messages that share a send rate limit.
type PacketKind int

const (
	PacketChat PacketKind = iota
	PacketPickup
	PacketDrop
	PacketNpcNext
	PacketNpcInput
	PacketNpcTalk
	PacketEmote
	PacketSit
	PacketDirection
	PacketAttack
	PacketStopAttack
	PacketOnlineList
	PacketWhisper
	packetKindCount
)

var packetKindNames = [packetKindCount]string{
	"chat", "pickup", "drop", "npc_next", "npc_input", "npc_talk", "emote",
	"sit", "direction", "attack", "stop_attack", "online_list", "whisper",
}

func (k PacketKind) String() string {
	if k >= 0 && k < packetKindCount {
		return packetKindNames[k]
	}
	return fmt.Sprintf("Unknown(%d)", int(k))
}

// ParsePacketKind maps a config key to a PacketKind.
func ParsePacketKind(s string) (PacketKind, error) {
	for i, n := range packetKindNames {
		if n == s {
			return PacketKind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown packet kind %q", s)
}

// DefaultIntervals are the minimum gaps between two sends of one kind that
// legacy servers tolerate before kicking for flooding. Zero means unlimited.
var DefaultIntervals = map[PacketKind]time.Duration{
	PacketChat:       150 * time.Millisecond,
	PacketPickup:     150 * time.Millisecond,
	PacketDrop:       50 * time.Millisecond,
	PacketNpcNext:    0,
	PacketNpcInput:   time.Second,
	PacketNpcTalk:    600 * time.Millisecond,
	PacketEmote:      150 * time.Millisecond,
	PacketSit:        time.Second,
	PacketDirection:  500 * time.Millisecond,
	PacketAttack:     120 * time.Millisecond,
	PacketStopAttack: 120 * time.Millisecond,
	PacketOnlineList: 18 * time.Second,
	PacketWhisper:    350 * time.Millisecond,
}

// Limiter throttles outgoing messages per kind, allowing one message per
// interval.
type Limiter struct {
	limits  [packetKindCount]*rate.Limiter
	enabled bool
}

// NewLimiter builds a limiter from DefaultIntervals with overrides applied.
// A disabled limiter allows everything.
func NewLimiter(enabled bool, overrides map[PacketKind]time.Duration) *Limiter {
	l := &Limiter{enabled: enabled}
	for k := PacketKind(0); k < packetKindCount; k++ {
		every := DefaultIntervals[k]
		if d, ok := overrides[k]; ok {
			every = d
		}
		if every <= 0 {
			l.limits[k] = rate.NewLimiter(rate.Inf, 1)
		} else {
			l.limits[k] = rate.NewLimiter(rate.Every(every), 1)
		}
	}
	return l
}

// Allow reports whether a message of kind k may be sent now and, if so,
// charges it against the limit.
func (l *Limiter) Allow(k PacketKind) bool {
	return l.AllowAt(k, time.Now())
}

// AllowAt is Allow at an explicit time.
func (l *Limiter) AllowAt(k PacketKind, now time.Time) bool {
	if !l.enabled {
		return true
	}
	if k < 0 || k >= packetKindCount {
		return false
	}
	return l.limits[k].AllowN(now, 1)
}
