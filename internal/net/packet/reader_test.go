package packet

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
	"pgregory.net/rapid"
)

func TestReaderFixedFields(t *testing.T) {
	w := NewWriter(0x00b0)
	w.WriteInt16(0x0018)
	w.WriteInt32(-5)
	w.WriteUInt8(0xfe)
	msg := w.Bytes()

	r := NewReader(msg, WithName("SMSG_PLAYER_STAT_UPDATE_1"))
	assert.Equal(t, Opcode(0x00b0), r.Opcode())
	assert.Equal(t, 2, r.Pos())
	assert.Equal(t, int16(0x18), r.ReadInt16("type"))
	assert.Equal(t, int32(-5), r.ReadInt32("value"))
	assert.Equal(t, uint8(0xfe), r.ReadUInt8("flag"))
	assert.Equal(t, 0, r.Remaining())
	assert.NoError(t, r.Err())
}

func TestReaderOverReadClamps(t *testing.T) {
	r := NewReader([]byte{0x81, 0x00, 0x03}, WithName("SMSG_CONNECTION_PROBLEM"))
	assert.Equal(t, uint8(3), r.ReadUInt8("code"))
	assert.Equal(t, int32(0), r.ReadInt32("extra"))

	var ore *OverReadError
	require.True(t, errors.As(r.Err(), &ore))
	assert.Equal(t, "extra", ore.Field)
	assert.Equal(t, 3, ore.Pos)
	assert.Equal(t, 4, ore.Want)
	assert.Equal(t, 3, ore.Length)

	// Only the first over-read is kept.
	r.ReadUInt16("more")
	assert.Equal(t, "extra", r.Err().(*OverReadError).Field)
}

func TestReaderOverReadStrictPanics(t *testing.T) {
	r := NewReader([]byte{0x81, 0x00}, WithStrict(true))
	assert.PanicsWithError(t, (&OverReadError{Opcode: 0x0081, Field: "code", Pos: 2, Want: 1, Length: 2}).Error(), func() {
		r.ReadUInt8("code")
	})
	var ore *OverReadError
	require.ErrorAs(t, r.Err(), &ore)
	assert.Equal(t, "code", ore.Field)
	assert.True(t, r.Strict())
}

func TestReaderStrings(t *testing.T) {
	t.Run("fixed width stops at NUL", func(t *testing.T) {
		w := NewWriter(0x0095)
		w.WriteString("Alice", 24)
		r := NewReader(w.Bytes())
		assert.Equal(t, "Alice", r.ReadString(24, "name"))
		assert.Equal(t, 0, r.Remaining())
	})

	t.Run("length prefixed", func(t *testing.T) {
		w := NewWriter(0x0091)
		w.WriteString("new_1-1", -1)
		r := NewReader(w.Bytes())
		assert.Equal(t, "new_1-1", r.ReadString(-1, "map"))
	})

	t.Run("raw keeps hidden part", func(t *testing.T) {
		msg := append([]byte{0x8e, 0x00}, []byte("shown\x00hidden\x00")...)
		r := NewReader(msg)
		assert.Equal(t, "shown|hidden", r.ReadRawString(r.Remaining(), "text"))
	})

	t.Run("legacy charset", func(t *testing.T) {
		msg := []byte{0x95, 0x00, 0xcf, 0xf0, 0xe8, 0x00} // "При" in windows-1251
		r := NewReader(msg, WithCharset(charmap.Windows1251))
		assert.Equal(t, "При", r.ReadString(4, "name"))
	})
}

func TestReaderCoordinates(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		x := uint16(rapid.IntRange(0, 1023).Draw(t, "x"))
		y := uint16(rapid.IntRange(0, 1023).Draw(t, "y"))
		d := uint8(rapid.IntRange(0, 7).Draw(t, "dir"))

		w := NewWriter(0x0073)
		w.WriteCoordinates(x, y, d)
		r := NewReader(w.Bytes())
		gx, gy, dir := r.ReadCoordinatesDir("pos")
		if gx != x || gy != y {
			t.Fatalf("got (%d,%d), want (%d,%d)", gx, gy, x, y)
		}
		if dir != serverDirs[d] {
			t.Fatalf("dir %d decoded as %d, want %d", d, dir, serverDirs[d])
		}
	})
}

// Reads never move past the end and never panic in lenient mode, whatever
// the handler asks for.
func TestReaderNeverPassesEnd(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), 0, 64).Draw(t, "data")
		r := NewReader(data)
		steps := rapid.IntRange(0, 20).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 4).Draw(t, "op") {
			case 0:
				r.ReadUInt8("u8")
			case 1:
				r.ReadInt16("i16")
			case 2:
				r.ReadInt32("i32")
			case 3:
				r.ReadString(rapid.IntRange(0, 30).Draw(t, "n"), "str")
			case 4:
				r.Skip(rapid.IntRange(0, 10).Draw(t, "skip"), "skip")
			}
			if r.Pos() > r.Len() {
				t.Fatalf("cursor %d past length %d", r.Pos(), r.Len())
			}
		}
	})
}
