package scripting

import (
	"github.com/manaplus/manaplus-net/internal/net/packet"
	lua "github.com/yuin/gopher-lua"
)

// messageMethods are the methods of the message userdata handed to
// scripted packet handlers. Every read takes an optional field label.
var messageMethods = map[string]lua.LGFunction{
	"u8":        msgU8,
	"i8":        msgI8,
	"u16":       msgU16,
	"i16":       msgI16,
	"u32":       msgU32,
	"i32":       msgI32,
	"being":     msgBeing,
	"str":       msgStr,
	"raw":       msgRaw,
	"coords":    msgCoords,
	"skip":      msgSkip,
	"opcode":    msgOpcode,
	"name":      msgName,
	"len":       msgLen,
	"pos":       msgPos,
	"remaining": msgRemaining,
	"version":   msgVersion,
}

func checkMessage(L *lua.LState) *packet.Reader {
	ud := L.CheckUserData(1)
	if r, ok := ud.Value.(*packet.Reader); ok {
		return r
	}
	L.ArgError(1, "message expected")
	return nil
}

func label(L *lua.LState, n int) string {
	return L.OptString(n, "script")
}

func pushInt(L *lua.LState, v int64) int {
	L.Push(lua.LNumber(v))
	return 1
}

func msgU8(L *lua.LState) int {
	r := checkMessage(L)
	return pushInt(L, int64(r.ReadUInt8(label(L, 2))))
}

func msgI8(L *lua.LState) int {
	r := checkMessage(L)
	return pushInt(L, int64(r.ReadInt8(label(L, 2))))
}

func msgU16(L *lua.LState) int {
	r := checkMessage(L)
	return pushInt(L, int64(r.ReadUInt16(label(L, 2))))
}

func msgI16(L *lua.LState) int {
	r := checkMessage(L)
	return pushInt(L, int64(r.ReadInt16(label(L, 2))))
}

func msgU32(L *lua.LState) int {
	r := checkMessage(L)
	return pushInt(L, int64(r.ReadUInt32(label(L, 2))))
}

func msgI32(L *lua.LState) int {
	r := checkMessage(L)
	return pushInt(L, int64(r.ReadInt32(label(L, 2))))
}

func msgBeing(L *lua.LState) int {
	r := checkMessage(L)
	return pushInt(L, int64(r.ReadBeingID(label(L, 2))))
}

// str(n) reads a fixed-width string; n < 0 reads a 16-bit length first.
func msgStr(L *lua.LState) int {
	r := checkMessage(L)
	n := L.CheckInt(2)
	L.Push(lua.LString(r.ReadString(n, label(L, 3))))
	return 1
}

func msgRaw(L *lua.LState) int {
	r := checkMessage(L)
	n := L.CheckInt(2)
	L.Push(lua.LString(r.ReadRawString(n, label(L, 3))))
	return 1
}

// coords() returns x, y, dir.
func msgCoords(L *lua.LState) int {
	r := checkMessage(L)
	x, y, dir := r.ReadCoordinatesDir(label(L, 2))
	L.Push(lua.LNumber(x))
	L.Push(lua.LNumber(y))
	L.Push(lua.LNumber(dir))
	return 3
}

func msgSkip(L *lua.LState) int {
	r := checkMessage(L)
	r.Skip(L.CheckInt(2), label(L, 3))
	return 0
}

func msgOpcode(L *lua.LState) int { return pushInt(L, int64(checkMessage(L).Opcode())) }

func msgName(L *lua.LState) int {
	L.Push(lua.LString(checkMessage(L).Name()))
	return 1
}

func msgLen(L *lua.LState) int       { return pushInt(L, int64(checkMessage(L).Len())) }
func msgPos(L *lua.LState) int       { return pushInt(L, int64(checkMessage(L).Pos())) }
func msgRemaining(L *lua.LState) int { return pushInt(L, int64(checkMessage(L).Remaining())) }
func msgVersion(L *lua.LState) int   { return pushInt(L, int64(checkMessage(L).Version())) }
