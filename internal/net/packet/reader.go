package packet

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/text/encoding"
)

// OverReadError reports a handler reading past the declared message length.
type OverReadError struct {
	Opcode Opcode
	Name   string
	Field  string
	Pos    int
	Want   int
	Length int
}

func (e *OverReadError) Error() string {
	return fmt.Sprintf("packet 0x%04x %s: read %q (%d bytes) at %d past length %d",
		e.Opcode, e.Name, e.Field, e.Want, e.Pos, e.Length)
}

// Reader is a forward-only cursor over exactly one message. Bytes 0-1 are
// the opcode; reads start right after it. All multi-byte fields are
// little-endian.
type Reader struct {
	data    []byte
	off     int
	name    string
	version int
	strict  bool
	charset encoding.Encoding
	log     *zap.Logger
	err     error
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithName sets the table name used in diagnostics.
func WithName(name string) ReaderOption { return func(r *Reader) { r.name = name } }

// WithVersion exposes the negotiated packet version to the handler.
func WithVersion(v int) ReaderOption { return func(r *Reader) { r.version = v } }

// WithStrict makes over-reads panic with *OverReadError instead of clamping.
func WithStrict(strict bool) ReaderOption { return func(r *Reader) { r.strict = strict } }

// WithCharset decodes fixed and raw strings from a legacy charset.
func WithCharset(enc encoding.Encoding) ReaderOption { return func(r *Reader) { r.charset = enc } }

// WithFieldLog logs every field read at debug level.
func WithFieldLog(log *zap.Logger) ReaderOption { return func(r *Reader) { r.log = log } }

func NewReader(data []byte, opts ...ReaderOption) *Reader {
	r := &Reader{data: data, off: headerLen}
	if len(data) < headerLen {
		r.off = len(data)
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Reader) Opcode() Opcode {
	if len(r.data) < headerLen {
		return 0
	}
	return binary.LittleEndian.Uint16(r.data)
}

func (r *Reader) Name() string   { return r.name }
func (r *Reader) Version() int   { return r.version }
func (r *Reader) Len() int       { return len(r.data) }
func (r *Reader) Pos() int       { return r.off }
func (r *Reader) Remaining() int { return len(r.data) - r.off }

// Err returns the first over-read. In strict mode it is also the value the
// read panicked with.
func (r *Reader) Err() error { return r.err }

// Strict reports whether over-reads panic.
func (r *Reader) Strict() bool { return r.strict }

// take reserves n bytes for field and returns them, or nil on over-read.
func (r *Reader) take(n int, field string) []byte {
	if n < 0 || r.off+n > len(r.data) {
		e := &OverReadError{
			Opcode: r.Opcode(),
			Name:   r.name,
			Field:  field,
			Pos:    r.off,
			Want:   n,
			Length: len(r.data),
		}
		if r.err == nil {
			r.err = e
		}
		if r.strict {
			panic(e)
		}
		r.off = len(r.data)
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) trace(field string, v any) {
	if r.log != nil {
		r.log.Debug("欄位", zap.String("packet", r.name), zap.String("field", field), zap.Any("value", v))
	}
}

// ReadUInt8 reads 1 unsigned byte.
func (r *Reader) ReadUInt8(field string) uint8 {
	b := r.take(1, field)
	if b == nil {
		return 0
	}
	r.trace(field, b[0])
	return b[0]
}

// ReadInt8 reads 1 signed byte.
func (r *Reader) ReadInt8(field string) int8 {
	return int8(r.ReadUInt8(field))
}

// ReadUInt16 reads 2 bytes little-endian.
func (r *Reader) ReadUInt16(field string) uint16 {
	b := r.take(2, field)
	if b == nil {
		return 0
	}
	v := binary.LittleEndian.Uint16(b)
	r.trace(field, v)
	return v
}

// ReadInt16 reads 2 bytes little-endian as signed.
func (r *Reader) ReadInt16(field string) int16 {
	return int16(r.ReadUInt16(field))
}

// ReadUInt32 reads 4 bytes little-endian.
func (r *Reader) ReadUInt32(field string) uint32 {
	b := r.take(4, field)
	if b == nil {
		return 0
	}
	v := binary.LittleEndian.Uint32(b)
	r.trace(field, v)
	return v
}

// ReadInt32 reads 4 bytes little-endian as signed.
func (r *Reader) ReadInt32(field string) int32 {
	return int32(r.ReadUInt32(field))
}

// BeingID identifies an actor on the map server.
type BeingID uint32

// ReadBeingID reads a 4-byte actor id.
func (r *Reader) ReadBeingID(field string) BeingID {
	return BeingID(r.ReadUInt32(field))
}

// ReadBytes reads n raw bytes. A negative n reads a 16-bit length first.
func (r *Reader) ReadBytes(n int, field string) []byte {
	if n < 0 {
		n = int(r.ReadInt16(field + " len"))
	}
	b := r.take(n, field)
	if b == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

// ReadString reads a fixed-width field and returns the text up to the first
// NUL. A negative n reads a 16-bit length first.
func (r *Reader) ReadString(n int, field string) string {
	if n < 0 {
		n = int(r.ReadInt16(field + " len"))
	}
	b := r.take(n, field)
	if b == nil {
		return ""
	}
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	s := r.decode(b)
	r.trace(field, s)
	return s
}

// ReadRawString is ReadString that also keeps text hidden after the first
// NUL, joined with "|".
func (r *Reader) ReadRawString(n int, field string) string {
	if n < 0 {
		n = int(r.ReadInt16(field + " len"))
	}
	b := r.take(n, field)
	if b == nil {
		return ""
	}
	i := bytes.IndexByte(b, 0)
	if i < 0 {
		s := r.decode(b)
		r.trace(field, s)
		return s
	}
	s := r.decode(b[:i])
	hidden := b[i+1:]
	if j := bytes.IndexByte(hidden, 0); j >= 0 {
		hidden = hidden[:j]
	}
	if len(hidden) > 0 {
		s += "|" + r.decode(hidden)
	}
	r.trace(field, s)
	return s
}

func (r *Reader) decode(b []byte) string {
	if r.charset == nil || isASCII(b) {
		return string(b)
	}
	out, err := r.charset.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(out)
}

func isASCII(b []byte) bool {
	for _, c := range b {
		if c >= 0x80 {
			return false
		}
	}
	return true
}

// Direction is the client-side facing bitmask.
type Direction uint8

const (
	DirDown  Direction = 1
	DirLeft  Direction = 2
	DirUp    Direction = 4
	DirRight Direction = 8
)

// serverDirs maps the eAthena 0-7 facing to the client bitmask.
var serverDirs = [...]Direction{
	DirDown, DirDown | DirLeft, DirLeft, DirUp | DirLeft,
	DirUp, DirUp | DirRight, DirRight, DirDown | DirRight,
	DirRight,
}

// ReadCoordinates reads a packed 3-byte position (10 bits x, 10 bits y).
func (r *Reader) ReadCoordinates(field string) (x, y uint16) {
	b := r.take(3, field)
	if b == nil {
		return 0, 0
	}
	x = uint16(b[0]) | uint16(b[1]&0x07)<<8
	y = uint16(b[1]>>3) | uint16(b[2]&0x3f)<<5
	r.trace(field, [2]uint16{x, y})
	return x, y
}

// ReadCoordinatesDir reads a packed 3-byte position plus facing.
// Unknown facings decode as 0.
func (r *Reader) ReadCoordinatesDir(field string) (x, y uint16, dir Direction) {
	b := r.take(3, field)
	if b == nil {
		return 0, 0, 0
	}
	x = (uint16(b[0])<<8 | uint16(b[1]&0xc0)) >> 6
	y = (uint16(b[1]&0x3f)<<8 | uint16(b[2]&0xf0)) >> 4
	if d := int(b[2] & 0x0f); d < len(serverDirs) {
		dir = serverDirs[d]
	}
	r.trace(field, [3]uint16{x, y, uint16(dir)})
	return x, y, dir
}

// ReadCoordinatePair reads a packed 5-byte source/destination pair.
func (r *Reader) ReadCoordinatePair(field string) (srcX, srcY, dstX, dstY uint16) {
	b := r.take(5, field)
	if b == nil {
		return 0, 0, 0, 0
	}
	dstX = (uint16(b[2]&0x0f)<<8 | uint16(b[3])) >> 2
	dstY = uint16(b[3]&0x03)<<8 | uint16(b[4])
	srcX = (uint16(b[0])<<8 | uint16(b[1])) >> 6
	srcY = (uint16(b[1]&0x3f)<<8 | uint16(b[2])) >> 4
	r.trace(field, [4]uint16{srcX, srcY, dstX, dstY})
	return srcX, srcY, dstX, dstY
}

// Skip advances the cursor by n bytes.
func (r *Reader) Skip(n int, field string) {
	r.take(n, field)
}

// SkipToEnd advances the cursor to the end of the message.
func (r *Reader) SkipToEnd() {
	r.off = len(r.data)
}
