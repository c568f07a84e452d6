package handler

import (
	"github.com/manaplus/manaplus-net/internal/net/packet"
	"go.uber.org/zap"
)

// Being remove flags.
const (
	RemoveOutOfSight = 0
	RemoveDead       = 1
	RemoveLoggedOut  = 2
	RemoveWarped     = 3
)

// HandleBeingNameResponse processes SMSG_BEING_NAME_RESPONSE (0x0095).
func HandleBeingNameResponse(r *packet.Reader, deps *Deps) {
	id := r.ReadBeingID("being id")
	name := r.ReadString(24, "name")
	if id == deps.State.Player.ID {
		deps.State.Player.Name = name
		return
	}
	deps.State.Being(id).Name = name
}

// HandleBeingRemove processes SMSG_BEING_REMOVE (0x0080). Dead beings stay
// known so their name can still be shown.
func HandleBeingRemove(r *packet.Reader, deps *Deps) {
	id := r.ReadBeingID("being id")
	flag := r.ReadUInt8("remove flag")
	if flag == RemoveDead {
		return
	}
	deps.State.RemoveBeing(id)
}

// HandleBeingEmotion processes SMSG_BEING_EMOTION (0x00c0).
func HandleBeingEmotion(r *packet.Reader, deps *Deps) {
	id := r.ReadBeingID("being id")
	emote := r.ReadUInt8("emote")
	deps.Log.Debug("表情",
		zap.Uint32("being", uint32(id)),
		zap.String("name", deps.State.BeingName(id)),
		zap.Uint8("emote", emote),
	)
}
