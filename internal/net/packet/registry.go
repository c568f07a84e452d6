package packet

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Variant selects the server family a registry describes.
type Variant int

const (
	VariantEa Variant = iota // shared eAthena-family baseline
	VariantEAthena
	VariantTmwAthena
)

func (v Variant) String() string {
	switch v {
	case VariantEa:
		return "ea"
	case VariantEAthena:
		return "eathena"
	case VariantTmwAthena:
		return "tmwa"
	default:
		return fmt.Sprintf("Unknown(%d)", int(v))
	}
}

// ParseVariant accepts the names used in config files and on the command line.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ea":
		return VariantEa, nil
	case "eathena", "hercules", "evol2":
		return VariantEAthena, nil
	case "tmwa", "tmwathena", "tmw":
		return VariantTmwAthena, nil
	}
	return 0, fmt.Errorf("unknown protocol variant %q", s)
}

var (
	// ErrInvalidLength is returned for table lengths that cannot frame a message.
	ErrInvalidLength = errors.New("invalid packet length")
	// ErrOverrideShadows is returned when a fake/remove override would hide a
	// real table entry or handler.
	ErrOverrideShadows = errors.New("override shadows registered packet")
)

// Handler decodes one message and applies it to client state.
type Handler interface {
	Handle(r *Reader)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(r *Reader)

func (f HandlerFunc) Handle(r *Reader) { f(r) }

// PacketInfo describes one opcode of a variant.
// Length is the total message size including the opcode; -1 means the size is
// carried in the 16-bit word after the opcode, 0 means unregistered.
type PacketInfo struct {
	Name       string
	Length     int32
	Handler    Handler
	MinVersion int // packet version (YYYYMMDD) the handler needs; 0 = any
}

// Registry maps opcodes to lengths and handlers for one protocol variant.
// It is built once at connection init and only read afterwards.
type Registry struct {
	variant Variant
	packets map[Opcode]*PacketInfo
	log     *zap.Logger
}

func NewRegistry(variant Variant, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		variant: variant,
		packets: make(map[Opcode]*PacketInfo, 512),
		log:     log,
	}
}

func (reg *Registry) Variant() Variant { return reg.variant }

// Register sets the entry for op. The last registration for an opcode wins.
func (reg *Registry) Register(op Opcode, name string, length int32, h Handler, minVersion int) error {
	if err := validLength(length); err != nil {
		return fmt.Errorf("register 0x%04x %s: %w", op, name, err)
	}
	if name == "" {
		name = fmt.Sprintf("0x%04x", op)
	}
	if old, ok := reg.packets[op]; ok {
		reg.log.Debug("封包定義覆蓋",
			zap.String("opcode", fmt.Sprintf("0x%04x", op)),
			zap.String("old", old.Name),
			zap.Int32("old_len", old.Length),
			zap.String("new", name),
			zap.Int32("new_len", length),
		)
	}
	reg.packets[op] = &PacketInfo{
		Name:       name,
		Length:     length,
		Handler:    h,
		MinVersion: minVersion,
	}
	return nil
}

// Handle binds a handler to an opcode whose length is already known,
// keeping the table name, length and version gate.
func (reg *Registry) Handle(op Opcode, h Handler) error {
	info, ok := reg.packets[op]
	if !ok || info.Length == LengthUnknown {
		return fmt.Errorf("bind handler 0x%04x: no length registered", op)
	}
	info.Handler = h
	return nil
}

// HandleFunc is Handle for plain functions.
func (reg *Registry) HandleFunc(op Opcode, fn func(r *Reader)) error {
	return reg.Handle(op, HandlerFunc(fn))
}

// Lookup returns a copy of the entry for op.
func (reg *Registry) Lookup(op Opcode) (PacketInfo, bool) {
	info, ok := reg.packets[op]
	if !ok {
		return PacketInfo{}, false
	}
	return *info, true
}

// LookupLength returns the total length for op: >0 fixed, -1 variable, 0 unknown.
func (reg *Registry) LookupLength(op Opcode) int32 {
	if info, ok := reg.packets[op]; ok {
		return info.Length
	}
	return LengthUnknown
}

// LookupHandler returns the handler for op, or nil.
func (reg *Registry) LookupHandler(op Opcode) Handler {
	if info, ok := reg.packets[op]; ok {
		return info.Handler
	}
	return nil
}

// Fake fills in a length for an opcode the baseline table does not cover.
// Entries that already have a length or a handler are left alone.
func (reg *Registry) Fake(op Opcode, name string, length int32) error {
	if err := validLength(length); err != nil {
		return fmt.Errorf("fake 0x%04x: %w", op, err)
	}
	if info, ok := reg.packets[op]; ok && (info.Length != LengthUnknown || info.Handler != nil) {
		return fmt.Errorf("fake 0x%04x (table %s len %d): %w", op, info.Name, info.Length, ErrOverrideShadows)
	}
	return reg.Register(op, name, length, nil, 0)
}

// Remove unregisters an opcode that has no handler. Opcodes with a handler
// are never removed.
func (reg *Registry) Remove(op Opcode) error {
	info, ok := reg.packets[op]
	if !ok {
		return nil
	}
	if info.Handler != nil {
		return fmt.Errorf("remove 0x%04x (%s): %w", op, info.Name, ErrOverrideShadows)
	}
	delete(reg.packets, op)
	return nil
}

// Len returns the number of registered opcodes.
func (reg *Registry) Len() int {
	return len(reg.packets)
}

// Opcodes returns all registered opcodes in ascending order.
func (reg *Registry) Opcodes() []Opcode {
	ops := make([]Opcode, 0, len(reg.packets))
	for op := range reg.packets {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
	return ops
}

// Handled returns how many opcodes have a handler bound.
func (reg *Registry) Handled() int {
	n := 0
	for _, info := range reg.packets {
		if info.Handler != nil {
			n++
		}
	}
	return n
}

func validLength(length int32) error {
	if length == LengthVariable || length == LengthUnknown || length >= headerLen {
		return nil
	}
	return fmt.Errorf("%w: %d", ErrInvalidLength, length)
}
