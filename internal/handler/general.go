package handler

import (
	"fmt"
	"strings"
	"time"

	"github.com/manaplus/manaplus-net/internal/core/event"
	"github.com/manaplus/manaplus-net/internal/net/packet"
	"go.uber.org/zap"
)

// connectionProblems maps SMSG_CONNECTION_PROBLEM codes to reasons.
var connectionProblems = map[uint8]string{
	0: "authentication failed",
	1: "no servers available",
	2: "account already logged in",
	3: "speed hack detected",
	8: "duplicated login",
}

// ConnectionProblemReason returns the text for a disconnect code.
func ConnectionProblemReason(code uint8) string {
	if s, ok := connectionProblems[code]; ok {
		return s
	}
	return "unknown connection error"
}

// HandleServerVersion processes SMSG_SERVER_VERSION_RESPONSE (0x7531).
// Evol-style servers answer with the "\xffEVL" signature followed by option
// flags and a version byte; older servers send a 32-bit option word only.
func HandleServerVersion(r *packet.Reader, deps *Deps) {
	b1 := r.ReadInt8("b1")
	b2 := r.ReadUInt8("b2")
	b3 := r.ReadUInt8("b3")
	b4 := r.ReadUInt8("b4")

	var options uint8
	version := 0
	if b1 == -1 && b2 == 'E' && b3 == 'V' && b4 == 'L' {
		options = r.ReadUInt8("options")
		r.Skip(2, "unused")
		version = int(r.ReadUInt8("server version"))
	} else {
		options = uint8(r.ReadInt32("options"))
	}

	deps.State.ServerVersion = version
	deps.State.ServerOptions = options
	deps.Log.Info("伺服器版本",
		zap.Int("version", version),
		zap.Uint8("options", options),
	)
	event.Emit(deps.Bus, event.ServerVersion{Version: version, Options: options})
}

// HandleConnectionProblem processes SMSG_CONNECTION_PROBLEM (0x0081).
func HandleConnectionProblem(r *packet.Reader, deps *Deps) {
	code := r.ReadUInt8("code")
	reason := ConnectionProblemReason(code)
	deps.State.Problem = int(code)
	deps.Log.Warn("伺服器回報連線問題",
		zap.Uint8("code", code),
		zap.String("reason", reason),
	)
	event.Emit(deps.Bus, event.ConnectionProblem{Code: code, Reason: reason})
}

// HandleServerPing processes SMSG_SERVER_PING (0x007f), the answer to
// CMSG_CLIENT_PING.
func HandleServerPing(r *packet.Reader, deps *Deps) {
	tick := r.ReadUInt32("tick")
	deps.State.LastPingTick = tick

	var rtt time.Duration
	if !deps.State.PingSentAt.IsZero() {
		rtt = time.Since(deps.State.PingSentAt)
		deps.State.PingSentAt = time.Time{}
	}
	event.Emit(deps.Bus, event.PingReceived{Tick: tick, RTT: rtt})
}

// HandleCharMapInfo processes SMSG_CHAR_MAP_INFO (0x0071): the char server
// names the map the character is on and the map server to connect to. The
// map becomes current once SMSG_MAP_LOGIN_SUCCESS arrives.
func HandleCharMapInfo(r *packet.Reader, deps *Deps) {
	charID := r.ReadInt32("char id")
	mapName := r.ReadString(16, "map name")
	ip := r.ReadBytes(4, "ip address")
	port := r.ReadUInt16("port")

	st := deps.State
	st.Player.CharID = charID
	st.Player.MapName = strings.TrimSuffix(mapName, ".gat")
	if len(ip) == 4 {
		st.MapServer = fmt.Sprintf("%d.%d.%d.%d:%d", ip[0], ip[1], ip[2], ip[3], port)
	}
	deps.Log.Info("角色所在地圖",
		zap.Int32("char_id", charID),
		zap.String("map", st.Player.MapName),
		zap.String("map_server", st.MapServer),
	)
}

// HandleMapLoginSuccess processes SMSG_MAP_LOGIN_SUCCESS (0x0073). The map
// has to be loaded before later messages make sense, so dispatch pauses until
// the map system has applied the change.
func HandleMapLoginSuccess(r *packet.Reader, deps *Deps) {
	r.ReadInt32("tick")
	x, y, dir := r.ReadCoordinatesDir("position")
	r.Skip(2, "unknown")

	deps.State.Player.Dir = dir
	deps.State.MapLoading = true
	deps.Dispatch.Pause()
	deps.Log.Info("地圖登入成功",
		zap.String("map", deps.State.Player.MapName),
		zap.Uint16("x", x),
		zap.Uint16("y", y),
	)
	event.Emit(deps.Bus, event.MapChanged{MapName: deps.State.Player.MapName, X: x, Y: y})
}
