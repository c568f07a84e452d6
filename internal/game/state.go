package game

import (
	"strings"
	"time"

	"github.com/manaplus/manaplus-net/internal/net/packet"
)

// Stat ids carried by SMSG_PLAYER_STAT_UPDATE_1/2.
const (
	StatSpeed       = 0x0000
	StatExp         = 0x0001
	StatJobExp      = 0x0002
	StatKarma       = 0x0003
	StatManner      = 0x0004
	StatHP          = 0x0005
	StatMaxHP       = 0x0006
	StatMP          = 0x0007
	StatMaxMP       = 0x0008
	StatPoints      = 0x0009
	StatLevel       = 0x000b
	StatSkillPts    = 0x000c
	StatMoney       = 0x0014
	StatExpNeeded   = 0x0016
	StatJobNeeded   = 0x0017
	StatTotalWeight = 0x0018
	StatMaxWeight   = 0x0019
	StatAttackSpd   = 0x0035
	StatJobLevel    = 0x0037
)

// ChatLine is one received chat message.
type ChatLine struct {
	Channel string // "", "gm", "whisper", "being"
	From    string
	Text    string
	At      time.Time
}

// LocalPlayer is the account the client is logged in with.
type LocalPlayer struct {
	ID      packet.BeingID
	CharID  int32
	Name    string
	MapName string
	X, Y    uint16
	Dir     packet.Direction
	Stats   map[int]int32
}

// Being is a remote actor the client knows the name of.
type Being struct {
	ID   packet.BeingID
	Name string
	Dir  packet.Direction
	X, Y uint16
}

// State holds everything the handlers of one session write. It replaces
// the process-wide singletons of the UI client: created at session start,
// reset at session end.
// Accessed only from the tick goroutine, so there are no locks.
type State struct {
	Player        LocalPlayer
	Beings        map[packet.BeingID]*Being
	Chat          []ChatLine
	ChatLimit     int
	ServerVersion int
	ServerOptions uint8
	PacketVersion int
	LastPingTick  uint32
	PingSentAt    time.Time
	MapLoading    bool
	MapServer     string   // "ip:port" announced by the char server
	Problem       int      // last connection problem code, -1 = none
	SentWhispers  []string // recipients awaiting a whisper response, oldest first
}

// DefaultChatLimit bounds the chat log kept in memory.
const DefaultChatLimit = 500

func NewState() *State {
	s := &State{ChatLimit: DefaultChatLimit}
	s.Reset()
	return s
}

// Reset clears all session data, keeping the chat limit.
func (s *State) Reset() {
	s.Player = LocalPlayer{Stats: make(map[int]int32)}
	s.Beings = make(map[packet.BeingID]*Being)
	s.Chat = s.Chat[:0]
	s.ServerVersion = 0
	s.ServerOptions = 0
	s.PacketVersion = 0
	s.LastPingTick = 0
	s.PingSentAt = time.Time{}
	s.MapLoading = false
	s.MapServer = ""
	s.Problem = -1
	s.SentWhispers = nil
}

// PushWhisper remembers the recipient of an outgoing whisper.
func (s *State) PushWhisper(nick string) {
	s.SentWhispers = append(s.SentWhispers, nick)
}

// PopWhisper returns the oldest recipient still waiting for a response, or
// "user" when none is known.
func (s *State) PopWhisper() string {
	if len(s.SentWhispers) == 0 {
		return "user"
	}
	nick := s.SentWhispers[0]
	s.SentWhispers = s.SentWhispers[1:]
	return nick
}

// AddChat appends a line, dropping the oldest once ChatLimit is reached.
func (s *State) AddChat(line ChatLine) {
	if line.At.IsZero() {
		line.At = time.Now()
	}
	s.Chat = append(s.Chat, line)
	if s.ChatLimit > 0 && len(s.Chat) > s.ChatLimit {
		drop := len(s.Chat) - s.ChatLimit
		s.Chat = append(s.Chat[:0], s.Chat[drop:]...)
	}
}

// Being returns the being with id, creating it if unknown.
func (s *State) Being(id packet.BeingID) *Being {
	b, ok := s.Beings[id]
	if !ok {
		b = &Being{ID: id}
		s.Beings[id] = b
	}
	return b
}

// BeingName returns the known name of id, or "".
func (s *State) BeingName(id packet.BeingID) string {
	if id == s.Player.ID && s.Player.Name != "" {
		return s.Player.Name
	}
	if b, ok := s.Beings[id]; ok {
		return b.Name
	}
	return ""
}

// RemoveBeing forgets a being.
func (s *State) RemoveBeing(id packet.BeingID) {
	delete(s.Beings, id)
}

// SetStat stores a local player stat.
func (s *State) SetStat(id int, value int32) {
	s.Player.Stats[id] = value
}

// Stat returns a local player stat, 0 if never received.
func (s *State) Stat(id int) int32 {
	return s.Player.Stats[id]
}

// ChangeMap moves the local player and forgets every being of the old map.
func (s *State) ChangeMap(mapName string, x, y uint16) {
	s.Player.MapName = strings.TrimSuffix(mapName, ".gat")
	s.Player.X, s.Player.Y = x, y
	s.Beings = make(map[packet.BeingID]*Being)
}
