package metrics

import (
	"strings"
	"testing"

	"github.com/manaplus/manaplus-net/internal/net"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserverCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, "tmwa")

	m.MessageDispatched(0x008e, 20)
	m.MessageDispatched(0x008e, 30)
	m.MessageUnhandled(0x0092, 28)
	m.HandlerPanicked(0x0081, "boom")
	m.Desynced(&net.DesyncError{Opcode: 0xffee})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.inPackets.WithLabelValues("0x008e")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.unhandled.WithLabelValues("0x0092")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.handlerPanics.WithLabelValues("0x0081")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.desyncs))
	assert.Equal(t, 1, testutil.CollectAndCount(m.dispatchedSize))
}

func TestTrafficAndLimiterCounters(t *testing.T) {
	m := New(nil, "eathena")
	m.BytesIn(100)
	m.BytesIn(24)
	m.BytesOut(6)
	m.MessageSent(0x008c, 12)
	m.MessageLimited(net.PacketChat)
	m.MessageLimited(net.PacketChat)

	assert.Equal(t, 124.0, testutil.ToFloat64(m.inBytes))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.outBytes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.outPackets))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.limited.WithLabelValues("chat")))
}

func TestExposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, "tmwa")
	m.Desynced(&net.DesyncError{})

	in := net.NewBuffer(0, 0)
	in.Append([]byte{1, 2, 3})
	m.WatchBuffer("in", in)
	m.WatchBuffer("out", net.NewBuffer(0, 0))

	expected := `
# HELP manaplus_net_desync_total Protocol desynchronizations
# TYPE manaplus_net_desync_total counter
manaplus_net_desync_total{variant="tmwa"} 1
# HELP manaplus_net_buffer_bytes Bytes waiting in a connection buffer
# TYPE manaplus_net_buffer_bytes gauge
manaplus_net_buffer_bytes{buffer="in"} 3
manaplus_net_buffer_bytes{buffer="out"} 0
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"manaplus_net_desync_total", "manaplus_net_buffer_bytes"))
}
