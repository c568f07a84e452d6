package packet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/encoding/charmap"
)

func TestWriterFixed(t *testing.T) {
	w := NewWriter(CMSG_CLIENT_PING)
	w.WriteInt32(0x01020304)
	assert.Equal(t, []byte{0x7e, 0x00, 0x04, 0x03, 0x02, 0x01}, w.Bytes())
	assert.Equal(t, 6, w.Len())
}

func TestWriterVariablePatchesLength(t *testing.T) {
	w := NewVarWriter(CMSG_CHAT_MESSAGE)
	w.WriteRawString("me : hi")
	w.WriteUInt8(0)
	b := w.Bytes()
	assert.Equal(t, []byte{0x8c, 0x00, 12, 0x00}, b[:4])
	assert.Equal(t, "me : hi\x00", string(b[4:]))
}

func TestWriterStringPadding(t *testing.T) {
	w := NewWriter(CMSG_CHAT_WHISPER)
	w.WriteString("abc", 5)
	w.WriteString("truncated", 4)
	assert.Equal(t, []byte{0x96, 0x00, 'a', 'b', 'c', 0, 0, 't', 'r', 'u', 'n'}, w.Bytes())
}

func TestWriterCharset(t *testing.T) {
	w := NewWriter(CMSG_CHAT_WHISPER).SetCharset(charmap.ISO8859_1)
	w.WriteRawString("é")
	assert.Equal(t, []byte{0x96, 0x00, 0xe9}, w.Bytes())
}
