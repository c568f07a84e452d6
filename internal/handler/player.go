package handler

import (
	"github.com/manaplus/manaplus-net/internal/core/event"
	"github.com/manaplus/manaplus-net/internal/net/packet"
	"go.uber.org/zap"
)

// HandlePlayerStatUpdate processes SMSG_PLAYER_STAT_UPDATE_1/2 (0x00b0,
// 0x00b1): a 16-bit stat id followed by a 32-bit value.
func HandlePlayerStatUpdate(r *packet.Reader, deps *Deps) {
	id := r.ReadInt16("type")
	value := r.ReadInt32("value")
	deps.State.SetStat(int(id), value)
}

// HandlePlayerWarp processes SMSG_PLAYER_WARP (0x0091). Messages after the
// warp describe the new map, so dispatch stays paused until the map system
// has applied the change.
func HandlePlayerWarp(r *packet.Reader, deps *Deps) {
	mapName := r.ReadString(16, "map name")
	x := r.ReadUInt16("x")
	y := r.ReadUInt16("y")

	deps.State.MapLoading = true
	deps.Dispatch.Pause()
	deps.Log.Info("角色傳送",
		zap.String("map", mapName),
		zap.Uint16("x", x),
		zap.Uint16("y", y),
	)
	event.Emit(deps.Bus, event.MapChanged{MapName: mapName, X: x, Y: y})
}

// HandlePlayerStop processes SMSG_PLAYER_STOP (0x0088).
func HandlePlayerStop(r *packet.Reader, deps *Deps) {
	id := r.ReadBeingID("account id")
	x := r.ReadUInt16("x")
	y := r.ReadUInt16("y")
	if id == deps.State.Player.ID {
		deps.State.Player.X, deps.State.Player.Y = x, y
		return
	}
	if b, ok := deps.State.Beings[id]; ok {
		b.X, b.Y = x, y
	}
}
