package scripting

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/manaplus/manaplus-net/internal/net/packet"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Engine wraps a single gopher-lua VM holding packet extensions.
// Single-goroutine access only (tick loop).
type Engine struct {
	vm      *lua.LState
	log     *zap.Logger
	packets []scriptPacket
	chat    func(channel, from, text string)
}

// scriptPacket is one register_packet call.
type scriptPacket struct {
	op     packet.Opcode
	name   string
	length int32
	fn     *lua.LFunction
}

const messageType = "message"

// NewEngine creates a Lua engine and loads every *.lua file in dir, in name
// order. A missing dir loads nothing.
func NewEngine(dir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	// Set API version global
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}
	e.registerAPI()

	if err := e.loadDir(dir); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load packet scripts: %w", err)
	}
	return e, nil
}

// LoadString runs a chunk of Lua source. Used for inline extensions and tests.
func (e *Engine) LoadString(src string) error {
	return e.vm.DoString(src)
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("載入 Lua 腳本", zap.String("file", path))
	}
	return nil
}

func (e *Engine) registerAPI() {
	e.vm.SetGlobal("register_packet", e.vm.NewFunction(e.luaRegisterPacket))
	e.vm.SetGlobal("log", e.vm.NewFunction(e.luaLog))
	e.vm.SetGlobal("chat", e.vm.NewFunction(e.luaChat))

	mt := e.vm.NewTypeMetatable(messageType)
	e.vm.SetField(mt, "__index", e.vm.SetFuncs(e.vm.NewTable(), messageMethods))
}

// register_packet(opcode, name, length, fn)
func (e *Engine) luaRegisterPacket(L *lua.LState) int {
	op := L.CheckInt(1)
	name := L.CheckString(2)
	length := L.CheckInt(3)
	fn := L.CheckFunction(4)
	if op < 0 || op > 0xffff {
		L.ArgError(1, "opcode out of range")
		return 0
	}
	e.packets = append(e.packets, scriptPacket{
		op:     packet.Opcode(op),
		name:   name,
		length: int32(length),
		fn:     fn,
	})
	return 0
}

// log(text)
func (e *Engine) luaLog(L *lua.LState) int {
	e.log.Info("腳本", zap.String("text", L.CheckString(1)))
	return 0
}

// chat(channel, from, text)
func (e *Engine) luaChat(L *lua.LState) int {
	channel := L.CheckString(1)
	from := L.CheckString(2)
	text := L.CheckString(3)
	if e.chat != nil {
		e.chat(channel, from, text)
	}
	return 0
}

// SetChatSink routes the Lua chat() function, e.g. into the session chat log.
func (e *Engine) SetChatSink(fn func(channel, from, text string)) {
	e.chat = fn
}

// Packets returns how many packets the scripts registered.
func (e *Engine) Packets() int { return len(e.packets) }

// Bind attaches every scripted packet to reg. An opcode unknown to the table
// is added with the script's length. A known opcode is bound only when the
// script's length is 0 or matches and no handler exists yet; otherwise the
// packet is skipped and an error wrapping packet.ErrOverrideShadows is
// collected. It returns the number of packets bound.
func (e *Engine) Bind(reg *packet.Registry) (int, []error) {
	bound := 0
	var rejected []error
	for _, sp := range e.packets {
		if err := e.bindOne(reg, sp); err != nil {
			e.log.Warn("腳本封包未綁定",
				zap.String("opcode", fmt.Sprintf("0x%04x", sp.op)),
				zap.String("name", sp.name),
				zap.Error(err),
			)
			rejected = append(rejected, err)
			continue
		}
		bound++
	}
	return bound, rejected
}

func (e *Engine) bindOne(reg *packet.Registry, sp scriptPacket) error {
	info, ok := reg.Lookup(sp.op)
	switch {
	case ok && info.Handler != nil:
		return fmt.Errorf("0x%04x already handled: %w", sp.op, packet.ErrOverrideShadows)
	case !ok || info.Length == packet.LengthUnknown:
		if sp.length == packet.LengthUnknown {
			return fmt.Errorf("0x%04x: %w: script gives no length", sp.op, packet.ErrInvalidLength)
		}
		if err := reg.Fake(sp.op, sp.name, sp.length); err != nil {
			return err
		}
	case sp.length != packet.LengthUnknown && sp.length != info.Length:
		return fmt.Errorf("0x%04x table length %d, script %d: %w", sp.op, info.Length, sp.length, packet.ErrOverrideShadows)
	}
	fn := sp.fn
	return reg.HandleFunc(sp.op, func(r *packet.Reader) { e.call(fn, r) })
}

// ErrScript wraps errors raised inside a Lua handler.
var ErrScript = errors.New("lua handler failed")

func (e *Engine) call(fn *lua.LFunction, r *packet.Reader) {
	ud := e.vm.NewUserData()
	ud.Value = r
	e.vm.SetMetatable(ud, e.vm.GetTypeMetatable(messageType))

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}, ud); err != nil {
		e.log.Error("Lua 封包處理錯誤",
			zap.String("opcode", fmt.Sprintf("0x%04x", r.Opcode())),
			zap.Error(fmt.Errorf("%w: %v", ErrScript, err)),
		)
		// The VM swallows panics; raise strict over-reads again so the
		// dispatcher fails the same way it does for Go handlers.
		var over *packet.OverReadError
		if r.Strict() && errors.As(r.Err(), &over) {
			panic(over)
		}
	}
}

func (e *Engine) Close() {
	e.vm.Close()
}
