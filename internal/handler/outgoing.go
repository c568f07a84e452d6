package handler

import (
	"time"

	"github.com/manaplus/manaplus-net/internal/net"
	"github.com/manaplus/manaplus-net/internal/net/packet"
)

// SendVersionRequest sends CMSG_SERVER_VERSION_REQUEST (0x7530). Only
// TmwAthena answers it; the other variants have no length for the reply, so
// nothing is sent and it reports false.
func SendVersionRequest(deps *Deps) bool {
	if deps.Variant != packet.VariantTmwAthena {
		return false
	}
	sendNow(deps, packet.NewWriter(packet.CMSG_SERVER_VERSION_REQUEST).Bytes())
	return true
}

// SendMapLoaded sends CMSG_MAP_LOADED (0x007d) once the client is ready for
// messages about the new map.
func SendMapLoaded(deps *Deps) {
	sendNow(deps, packet.NewWriter(packet.CMSG_MAP_LOADED).Bytes())
}

// SendClientPing sends CMSG_CLIENT_PING (0x007e) with the local tick.
func SendClientPing(deps *Deps, now time.Time) {
	w := packet.NewWriter(packet.CMSG_CLIENT_PING)
	w.WriteInt32(int32(now.UnixMilli()))
	deps.State.PingSentAt = now
	sendNow(deps, w.Bytes())
}

// SendChat sends CMSG_CHAT_MESSAGE (0x008c) as "name : text". The string is
// NUL-terminated so the server can parse commands. It reports whether the
// limiter let the message through.
func SendChat(deps *Deps, text string) bool {
	msg := deps.State.Player.Name + " : " + text
	w := packet.NewVarWriter(packet.CMSG_CHAT_MESSAGE).SetCharset(deps.Charset)
	w.WriteString(msg, len(msg)+1)
	return send(deps, net.PacketChat, w.Bytes())
}

// SendWhisper sends CMSG_CHAT_WHISPER (0x0096) and remembers the recipient
// for the matching SMSG_WHISPER_RESPONSE.
func SendWhisper(deps *Deps, nick, text string) bool {
	w := packet.NewVarWriter(packet.CMSG_CHAT_WHISPER).SetCharset(deps.Charset)
	w.WriteString(nick, 24)
	w.WriteRawString(text)
	if !send(deps, net.PacketWhisper, w.Bytes()) {
		return false
	}
	deps.State.PushWhisper(nick)
	return true
}

// SendEmote sends CMSG_PLAYER_EMOTE (0x00bf).
func SendEmote(deps *Deps, emote uint8) bool {
	w := packet.NewWriter(packet.CMSG_PLAYER_EMOTE)
	w.WriteUInt8(emote)
	return send(deps, net.PacketEmote, w.Bytes())
}

// SendQuit sends CMSG_CLIENT_QUIT (0x018a) so the server saves and drops the
// character without waiting for a timeout.
func SendQuit(deps *Deps) {
	w := packet.NewWriter(packet.CMSG_CLIENT_QUIT)
	w.WriteInt16(0)
	sendNow(deps, w.Bytes())
}
