package replay

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/google/gopacket/tcpassembly"
	"github.com/manaplus/manaplus-net/internal/net"
	"github.com/manaplus/manaplus-net/internal/net/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const serverPort = 5122

// target records what one stream dispatched.
type target struct {
	mu      sync.Mutex
	ops     []packet.Opcode
	settles int
}

func (t *target) seen() []packet.Opcode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]packet.Opcode(nil), t.ops...)
}

// factory builds a dispatcher that knows a fixed stat message, a
// variable-length name message and a warp that pauses dispatch.
func factory(t *testing.T, tg *target) DispatcherFactory {
	return func(stream string, buf *net.Buffer) (Target, error) {
		reg := packet.NewRegistry(packet.VariantTmwAthena, zap.NewNop())
		var disp *net.Dispatcher
		record := func(r *packet.Reader) {
			tg.mu.Lock()
			tg.ops = append(tg.ops, r.Opcode())
			tg.mu.Unlock()
		}
		require.NoError(t, reg.Register(packet.SMSG_PLAYER_STAT_UPDATE_1, "SMSG_PLAYER_STAT_UPDATE_1", 8, packet.HandlerFunc(record), 0))
		require.NoError(t, reg.Register(packet.SMSG_BEING_NAME_RESPONSE, "SMSG_BEING_NAME_RESPONSE", packet.LengthVariable, packet.HandlerFunc(record), 0))
		require.NoError(t, reg.Register(packet.SMSG_PLAYER_WARP, "SMSG_PLAYER_WARP", 22, packet.HandlerFunc(func(r *packet.Reader) {
			record(r)
			disp.Pause()
		}), 0))
		disp = net.NewDispatcher(buf, reg, zap.NewNop())
		return Target{
			Dispatcher: disp,
			Settle: func() {
				tg.mu.Lock()
				tg.settles++
				tg.mu.Unlock()
			},
			Session: tg,
		}, nil
	}
}

func stat() []byte {
	w := packet.NewWriter(packet.SMSG_PLAYER_STAT_UPDATE_1)
	w.WriteInt16(24)
	w.WriteInt32(1)
	return w.Bytes()
}

func name(s string) []byte {
	w := packet.NewVarWriter(packet.SMSG_BEING_NAME_RESPONSE)
	w.WriteInt32(150000)
	w.WriteString(s, 24)
	return w.Bytes()
}

func warp() []byte {
	w := packet.NewWriter(packet.SMSG_PLAYER_WARP)
	w.WriteString("009-1.gat", 16)
	w.WriteInt16(40)
	w.WriteInt16(50)
	return w.Bytes()
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func newTestStream(t *testing.T, tg *target) *stream {
	return newStream("test", factory(t, tg), zap.NewNop())
}

func TestStreamDispatchesAcrossSegments(t *testing.T) {
	tg := &target{}
	s := newTestStream(t, tg)

	data := concat(stat(), name("Mana"), stat())
	s.Reassembled([]tcpassembly.Reassembly{
		{Bytes: data[:5]},
		{Bytes: data[5:13]},
		{Bytes: data[13:]},
	})

	assert.Equal(t, []packet.Opcode{
		packet.SMSG_PLAYER_STAT_UPDATE_1,
		packet.SMSG_BEING_NAME_RESPONSE,
		packet.SMSG_PLAYER_STAT_UPDATE_1,
	}, tg.seen())
	assert.Equal(t, 3, s.result.Messages)
	assert.Equal(t, len(data), s.result.Bytes)
	assert.NoError(t, s.result.Err)
	assert.Nil(t, s.result.Desync)
}

func TestStreamResumesAfterPause(t *testing.T) {
	tg := &target{}
	s := newTestStream(t, tg)

	s.Reassembled([]tcpassembly.Reassembly{{Bytes: concat(warp(), stat(), stat())}})

	assert.Equal(t, []packet.Opcode{
		packet.SMSG_PLAYER_WARP,
		packet.SMSG_PLAYER_STAT_UPDATE_1,
		packet.SMSG_PLAYER_STAT_UPDATE_1,
	}, tg.seen())
	assert.Equal(t, 3, s.result.Messages)
	assert.Equal(t, 2, tg.settles, "one settle for the paused batch and one for the rest")
	assert.False(t, s.disp.Paused())
}

func TestStreamStopsOnDesync(t *testing.T) {
	tg := &target{}
	s := newTestStream(t, tg)

	s.Reassembled([]tcpassembly.Reassembly{
		{Bytes: concat(stat(), []byte{0xee, 0xff, 1, 2})},
		{Bytes: stat()},
	})

	require.NotNil(t, s.result.Desync)
	assert.Equal(t, packet.Opcode(0xffee), s.result.Desync.Opcode)
	assert.Equal(t, 1, s.result.Messages)
	assert.Len(t, tg.seen(), 1)
	assert.Equal(t, 20, s.result.Bytes)
}

func TestStreamStopsOnMissingSegment(t *testing.T) {
	tg := &target{}
	s := newTestStream(t, tg)

	s.Reassembled([]tcpassembly.Reassembly{
		{Bytes: stat()},
		{Bytes: stat(), Skip: 12},
		{Bytes: stat()},
	})

	assert.Error(t, s.result.Err)
	assert.Equal(t, 1, s.result.Messages)
	assert.Equal(t, 24, s.result.Bytes)
}

func TestStreamFactoryError(t *testing.T) {
	s := newStream("broken", func(string, *net.Buffer) (Target, error) {
		return Target{}, assert.AnError
	}, zap.NewNop())
	s.Reassembled([]tcpassembly.Reassembly{{Bytes: stat()}})

	assert.ErrorIs(t, s.result.Err, assert.AnError)
	assert.Equal(t, 0, s.result.Messages)
	assert.Equal(t, 8, s.result.Bytes)
}

// writeCapture writes a pcap holding one server → client TCP stream with a
// handshake, the given payload segments and a stray client → server segment.
func writeCapture(t *testing.T, segments ...[]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	server := []byte{10, 0, 0, 1}
	client := []byte{10, 0, 0, 2}
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	write := func(src, dst []byte, sport, dport uint16, seq uint32, syn bool, payload []byte) {
		eth := &layers.Ethernet{
			SrcMAC:       []byte{0, 1, 2, 3, 4, 5},
			DstMAC:       []byte{0, 1, 2, 3, 4, 6},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolTCP, SrcIP: src, DstIP: dst}
		tcp := &layers.TCP{
			SrcPort: layers.TCPPort(sport),
			DstPort: layers.TCPPort(dport),
			Seq:     seq,
			SYN:     syn,
			ACK:     !syn,
			PSH:     len(payload) > 0,
			Window:  65535,
		}
		require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))
		sb := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		require.NoError(t, gopacket.SerializeLayers(sb, opts, eth, ip, tcp, gopacket.Payload(payload)))
		raw := sb.Bytes()
		require.NoError(t, w.WritePacket(gopacket.CaptureInfo{Timestamp: ts, CaptureLength: len(raw), Length: len(raw)}, raw))
		ts = ts.Add(10 * time.Millisecond)
	}

	const isn = 1000
	write(server, client, serverPort, 40000, isn, true, nil)
	seq := uint32(isn + 1)
	for i, seg := range segments {
		write(server, client, serverPort, 40000, seq, false, seg)
		seq += uint32(len(seg))
		if i == 0 {
			write(client, server, 40000, serverPort, 1, false, []byte{0x7d, 0x00})
		}
	}
	return path
}

func TestReplayFile(t *testing.T) {
	data := concat(stat(), name("Mana"), warp(), stat())
	path := writeCapture(t, data[:10], data[10:40], data[40:])

	tg := &target{}
	r := New(Options{ServerPort: serverPort}, factory(t, tg), zap.NewNop())
	res := r.ReplayFile(context.Background(), path)

	require.NoError(t, res.Err)
	assert.Equal(t, 4, res.Packets, "handshake plus three data segments")
	assert.Equal(t, 40*time.Millisecond, res.Span)
	require.Len(t, res.Streams, 1)
	assert.Contains(t, res.Streams[0].Stream, "10.0.0.1:5122")
	assert.Same(t, tg, res.Streams[0].Session)
	assert.Equal(t, len(data), res.Streams[0].Bytes)
	assert.Equal(t, 4, res.Messages())
	assert.Equal(t, []packet.Opcode{
		packet.SMSG_PLAYER_STAT_UPDATE_1,
		packet.SMSG_BEING_NAME_RESPONSE,
		packet.SMSG_PLAYER_WARP,
		packet.SMSG_PLAYER_STAT_UPDATE_1,
	}, tg.seen())
}

func TestReplayFilesKeepsOrder(t *testing.T) {
	good := writeCapture(t, concat(stat(), stat()))
	missing := filepath.Join(t.TempDir(), "missing.pcap")

	tg := &target{}
	r := New(Options{ServerPort: serverPort, Concurrency: 2}, factory(t, tg), zap.NewNop())
	res := r.ReplayFiles(context.Background(), []string{missing, good})

	require.Len(t, res, 2)
	assert.Equal(t, missing, res[0].File)
	assert.Error(t, res[0].Err)
	assert.Equal(t, good, res[1].File)
	assert.NoError(t, res[1].Err)
	assert.Equal(t, 2, res[1].Messages())
}

func TestReplayFileRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.pcap")
	require.NoError(t, os.WriteFile(path, []byte("not a capture"), 0o644))

	r := New(Options{}, factory(t, &target{}), zap.NewNop())
	res := r.ReplayFile(context.Background(), path)
	assert.Error(t, res.Err)
	assert.Empty(t, res.Streams)
}
