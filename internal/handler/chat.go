package handler

import (
	"strings"

	"github.com/manaplus/manaplus-net/internal/core/event"
	"github.com/manaplus/manaplus-net/internal/game"
	"github.com/manaplus/manaplus-net/internal/net/packet"
	"go.uber.org/zap"
)

// Chat channels recorded in the chat log.
const (
	ChannelNormal  = ""
	ChannelGM      = "gm"
	ChannelWhisper = "whisper"
	ChannelBeing   = "being"
)

// Whisper response codes.
const (
	WhisperSent    = 0
	WhisperOffline = 1
	WhisperIgnored = 2
)

// bodyLen returns the payload size of a variable message given the size of
// its fixed part (opcode, length word and any fixed fields).
func bodyLen(r *packet.Reader, fixed int) int {
	n := int(r.ReadUInt16("len")) - fixed
	if n < 0 {
		return 0
	}
	return n
}

// splitChat splits "nick : text" into its parts. Lines without a sender are
// returned with an empty nick.
func splitChat(msg string) (nick, text string) {
	if i := strings.Index(msg, " : "); i > 0 {
		return msg[:i], msg[i+3:]
	}
	return "", msg
}

func addChat(deps *Deps, channel, from, text string) {
	deps.State.AddChat(game.ChatLine{Channel: channel, From: from, Text: text})
	deps.Log.Debug("聊天",
		zap.String("channel", channel),
		zap.String("from", from),
		zap.String("text", text),
	)
	event.Emit(deps.Bus, event.ChatReceived{Channel: channel, From: from, Text: text})
}

// HandlePlayerChat processes SMSG_PLAYER_CHAT (0x008e), the server's echo of
// the local player's own line.
func HandlePlayerChat(r *packet.Reader, deps *Deps) {
	n := bodyLen(r, 4)
	msg := r.ReadRawString(n, "message")
	nick, text := splitChat(msg)
	if nick == "" {
		nick = deps.State.Player.Name
	}
	addChat(deps, ChannelNormal, nick, text)
}

// HandleGmChat processes SMSG_GM_CHAT (0x009a), a server-wide announcement.
func HandleGmChat(r *packet.Reader, deps *Deps) {
	n := bodyLen(r, 4)
	msg := r.ReadRawString(n, "message")
	addChat(deps, ChannelGM, "", msg)
}

// HandleBeingChat processes SMSG_BEING_CHAT (0x008d), a line spoken by a
// nearby being.
func HandleBeingChat(r *packet.Reader, deps *Deps) {
	n := bodyLen(r, 8)
	id := r.ReadBeingID("being id")
	msg := r.ReadRawString(n, "message")

	nick, text := splitChat(msg)
	if nick == "" {
		nick = deps.State.BeingName(id)
	} else if b, ok := deps.State.Beings[id]; ok && b.Name == "" {
		b.Name = nick
	}
	addChat(deps, ChannelBeing, nick, text)
}

// HandleWhisper processes SMSG_WHISPER (0x0097).
func HandleWhisper(r *packet.Reader, deps *Deps) {
	n := bodyLen(r, 28)
	nick := r.ReadString(24, "nick")
	text := r.ReadString(n, "message")
	addChat(deps, ChannelWhisper, nick, text)
}

// HandleWhisperResponse processes SMSG_WHISPER_RESPONSE (0x0098). Responses
// arrive in the order whispers were sent.
func HandleWhisperResponse(r *packet.Reader, deps *Deps) {
	whisperResult(deps, r.ReadUInt8("response"))
}

// HandleWhisperResponse2 processes the eAthena SMSG_WHISPER_RESPONSE2
// (0x09df), which appends an unused 32-bit word.
func HandleWhisperResponse2(r *packet.Reader, deps *Deps) {
	code := r.ReadUInt8("response")
	r.ReadInt32("unknown")
	whisperResult(deps, code)
}

func whisperResult(deps *Deps, code uint8) {
	nick := deps.State.PopWhisper()
	switch code {
	case WhisperSent:
		return
	case WhisperOffline:
		addChat(deps, ChannelWhisper, "", "user "+nick+" is not online")
	case WhisperIgnored:
		addChat(deps, ChannelWhisper, "", "user "+nick+" ignores you")
	default:
		deps.Log.Warn("未知的密語回應", zap.Uint8("code", code), zap.String("nick", nick))
	}
}
