package packet

import (
	"encoding/binary"

	"golang.org/x/text/encoding"
)

// Writer builds a client → server message. All multi-byte writes are
// little-endian. Variable-length writers patch the length word in Bytes().
type Writer struct {
	buf      []byte
	variable bool
	charset  encoding.Encoding
}

// NewWriter starts a fixed-length message with the given opcode.
func NewWriter(op Opcode) *Writer {
	w := &Writer{buf: make([]byte, 0, 32)}
	w.WriteInt16(int16(op))
	return w
}

// NewVarWriter starts a variable-length message; the 16-bit length after the
// opcode is filled in by Bytes().
func NewVarWriter(op Opcode) *Writer {
	w := NewWriter(op)
	w.variable = true
	w.WriteInt16(0)
	return w
}

// SetCharset encodes strings to a legacy charset.
func (w *Writer) SetCharset(enc encoding.Encoding) *Writer {
	w.charset = enc
	return w
}

// WriteInt8 writes 1 byte.
func (w *Writer) WriteInt8(v int8) {
	w.buf = append(w.buf, byte(v))
}

// WriteUInt8 writes 1 unsigned byte.
func (w *Writer) WriteUInt8(v uint8) {
	w.buf = append(w.buf, v)
}

// WriteInt16 writes 2 bytes little-endian.
func (w *Writer) WriteInt16(v int16) {
	w.buf = binary.LittleEndian.AppendUint16(w.buf, uint16(v))
}

// WriteInt32 writes 4 bytes little-endian.
func (w *Writer) WriteInt32(v int32) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(v))
}

// WriteString writes s into a fixed n-byte field, truncating or zero-padding.
// A negative n writes a 16-bit length followed by the unpadded bytes.
func (w *Writer) WriteString(s string, n int) {
	b := w.encode(s)
	if n < 0 {
		w.WriteInt16(int16(len(b)))
		w.buf = append(w.buf, b...)
		return
	}
	if len(b) > n {
		b = b[:n]
	}
	w.buf = append(w.buf, b...)
	for i := len(b); i < n; i++ {
		w.buf = append(w.buf, 0)
	}
}

// WriteRawString writes s with no length and no padding.
func (w *Writer) WriteRawString(s string) {
	w.buf = append(w.buf, w.encode(s)...)
}

// WriteCoordinates packs x, y and an eAthena 0-7 facing into 3 bytes.
func (w *Writer) WriteCoordinates(x, y uint16, dir uint8) {
	w.buf = append(w.buf,
		byte(x>>2),
		byte(x<<6)|byte((y>>4)&0x3f),
		byte(y<<4)|(dir&0x0f),
	)
}

// WriteBytes writes raw bytes.
func (w *Writer) WriteBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

func (w *Writer) encode(s string) []byte {
	if w.charset == nil {
		return []byte(s)
	}
	b, err := w.charset.NewEncoder().Bytes([]byte(s))
	if err != nil {
		// Fallback: raw bytes (works for pure ASCII)
		return []byte(s)
	}
	return b
}

// Bytes returns the finished message.
func (w *Writer) Bytes() []byte {
	if w.variable {
		binary.LittleEndian.PutUint16(w.buf[headerLen:], uint16(len(w.buf)))
	}
	return w.buf
}

// Len returns the current message length.
func (w *Writer) Len() int {
	return len(w.buf)
}
