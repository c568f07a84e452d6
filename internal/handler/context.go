package handler

import (
	"fmt"

	"github.com/manaplus/manaplus-net/internal/config"
	"github.com/manaplus/manaplus-net/internal/core/event"
	"github.com/manaplus/manaplus-net/internal/game"
	"github.com/manaplus/manaplus-net/internal/net"
	"github.com/manaplus/manaplus-net/internal/net/packet"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
)

// Pauser holds dispatch back until the current state change completes.
// *net.Dispatcher implements it.
type Pauser interface {
	Pause()
	Resume()
}

// Sender queues outgoing messages. *net.Conn implements it.
type Sender interface {
	Send(data []byte)
}

// LimitObserver is told about outgoing messages the limiter dropped.
type LimitObserver interface {
	MessageLimited(kind net.PacketKind)
	MessageSent(op packet.Opcode, length int)
}

// Deps holds the per-session dependencies injected into all packet handlers.
type Deps struct {
	Variant  packet.Variant
	Config   *config.Config
	Log      *zap.Logger
	State    *game.State
	Bus      *event.Bus
	Dispatch Pauser
	Conn     Sender
	Limiter  *net.Limiter
	Charset  encoding.Encoding
	Observer LimitObserver
}

// binding ties one opcode to its handler.
type binding struct {
	op packet.Opcode
	fn func(r *packet.Reader, deps *Deps)
}

var bindings = []binding{
	// General
	{packet.SMSG_SERVER_VERSION_RESPONSE, HandleServerVersion},
	{packet.SMSG_CONNECTION_PROBLEM, HandleConnectionProblem},
	{packet.SMSG_SERVER_PING, HandleServerPing},
	{packet.SMSG_CHAR_MAP_INFO, HandleCharMapInfo},
	{packet.SMSG_MAP_LOGIN_SUCCESS, HandleMapLoginSuccess},

	// Chat
	{packet.SMSG_PLAYER_CHAT, HandlePlayerChat},
	{packet.SMSG_GM_CHAT, HandleGmChat},
	{packet.SMSG_BEING_CHAT, HandleBeingChat},
	{packet.SMSG_WHISPER, HandleWhisper},
	{packet.SMSG_WHISPER_RESPONSE, HandleWhisperResponse},
	{packet.SMSG_WHISPER_RESPONSE2, HandleWhisperResponse2},

	// Being
	{packet.SMSG_BEING_NAME_RESPONSE, HandleBeingNameResponse},
	{packet.SMSG_BEING_REMOVE, HandleBeingRemove},
	{packet.SMSG_BEING_EMOTION, HandleBeingEmotion},

	// Player
	{packet.SMSG_PLAYER_STAT_UPDATE_1, HandlePlayerStatUpdate},
	{packet.SMSG_PLAYER_STAT_UPDATE_2, HandlePlayerStatUpdate},
	{packet.SMSG_PLAYER_WARP, HandlePlayerWarp},
	{packet.SMSG_PLAYER_STOP, HandlePlayerStop},
}

// RegisterAll binds every leaf decoder whose opcode the registry's variant
// table knows. Opcodes missing from the table are skipped. It returns the
// number of handlers bound.
func RegisterAll(reg *packet.Registry, deps *Deps) int {
	bound := 0
	for _, b := range bindings {
		fn := b.fn
		err := reg.HandleFunc(b.op, func(r *packet.Reader) { fn(r, deps) })
		if err != nil {
			deps.Log.Debug("封包表無此封包，略過處理器",
				zap.String("opcode", fmt.Sprintf("0x%04x", b.op)),
				zap.String("variant", reg.Variant().String()),
			)
			continue
		}
		bound++
	}
	return bound
}

// send queues msg unless the limiter rejects kind. It reports whether msg was
// queued.
func send(deps *Deps, kind net.PacketKind, msg []byte) bool {
	if deps.Limiter != nil && !deps.Limiter.Allow(kind) {
		deps.Log.Debug("送出封包過於頻繁，已略過", zap.Stringer("kind", kind))
		if deps.Observer != nil {
			deps.Observer.MessageLimited(kind)
		}
		return false
	}
	sendNow(deps, msg)
	return true
}

// sendNow queues msg without consulting the limiter.
func sendNow(deps *Deps, msg []byte) {
	deps.Conn.Send(msg)
	if deps.Observer != nil && len(msg) >= 2 {
		deps.Observer.MessageSent(packet.Opcode(msg[0])|packet.Opcode(msg[1])<<8, len(msg))
	}
}

func opcodeField(op packet.Opcode) zap.Field {
	return zap.String("opcode", fmt.Sprintf("0x%04x", op))
}
