package data

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/manaplus/manaplus-net/internal/net/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoadPacketTableLayersVariant(t *testing.T) {
	ea, err := LoadPacketTable(packet.VariantEa)
	require.NoError(t, err)
	require.NotZero(t, ea.Count())

	tmwa, err := LoadPacketTable(packet.VariantTmwAthena)
	require.NoError(t, err)
	assert.Greater(t, tmwa.Count(), ea.Count())
	assert.Equal(t, ea.Entries, tmwa.Entries[:ea.Count()], "ea rows come first so the variant wins")
}

func TestLoadPacketTableEntriesAreValid(t *testing.T) {
	for _, v := range []packet.Variant{packet.VariantEa, packet.VariantEAthena, packet.VariantTmwAthena} {
		table, err := LoadPacketTable(v)
		require.NoError(t, err, v)
		for _, e := range table.Entries {
			assert.True(t, e.Length == -1 || e.Length >= 2, "%s 0x%04x has length %d", v, e.Opcode, e.Length)
		}
	}
}

func TestBuildRegistry(t *testing.T) {
	reg, rejected, err := BuildRegistry(packet.VariantTmwAthena, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, rejected)
	assert.Equal(t, packet.VariantTmwAthena, reg.Variant())
	assert.Equal(t, int32(10), reg.LookupLength(packet.SMSG_SERVER_VERSION_RESPONSE))
	assert.Equal(t, packet.LengthVariable, reg.LookupLength(packet.SMSG_PLAYER_CHAT))
	assert.Zero(t, reg.Handled())

	ea, _, err := BuildRegistry(packet.VariantEAthena, nil, nil)
	require.NoError(t, err)
	info, ok := ea.Lookup(packet.SMSG_WHISPER_RESPONSE2)
	require.True(t, ok)
	assert.Equal(t, 20131223, info.MinVersion)
	assert.Equal(t, packet.LengthUnknown, ea.LookupLength(packet.SMSG_SERVER_VERSION_RESPONSE))
}

func TestBuildRegistryOverridesRunAfterBinders(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	overrides := &Overrides{
		Fake: []FakeEntry{
			{Opcode: 0x0b00, Name: "SMSG_CUSTOM", Length: 12}, // gap: applied
			{Opcode: 0x0081, Name: "SMSG_SHADOW", Length: 9},  // real entry: rejected
		},
		Remove: []uint16{
			0x0092, // no handler: removed
			0x0081, // handled: rejected
		},
	}
	bind := func(reg *packet.Registry) error {
		return reg.HandleFunc(0x0081, func(*packet.Reader) {})
	}

	reg, rejected, err := BuildRegistry(packet.VariantTmwAthena, overrides, zap.New(core), bind)
	require.NoError(t, err)

	assert.Equal(t, int32(12), reg.LookupLength(0x0b00))
	assert.Equal(t, int32(3), reg.LookupLength(0x0081))
	assert.NotNil(t, reg.LookupHandler(0x0081))
	assert.Equal(t, packet.LengthUnknown, reg.LookupLength(0x0092))

	require.Len(t, rejected, 2)
	assert.Equal(t, Rejected{Opcode: 0x0081, Action: "fake", Err: rejected[0].Err}, rejected[0])
	assert.Equal(t, "remove", rejected[1].Action)
	assert.ErrorIs(t, rejected[1].Err, packet.ErrOverrideShadows)
	assert.Equal(t, 2, logs.FilterMessage("封包覆寫被拒絕").Len())
}

func TestBuildRegistryInvalidFakeAborts(t *testing.T) {
	_, _, err := BuildRegistry(packet.VariantTmwAthena, &Overrides{
		Fake: []FakeEntry{{Opcode: 0x0b01, Length: 1}},
	}, nil)
	assert.ErrorIs(t, err, packet.ErrInvalidLength)
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overrides.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
fake:
  - {opcode: 0x0b00, name: SMSG_CUSTOM, length: -1}
remove: [0x0092, 0x018b]
`), 0o644))

	o, err := LoadOverrides(path)
	require.NoError(t, err)
	assert.Equal(t, []FakeEntry{{Opcode: 0x0b00, Name: "SMSG_CUSTOM", Length: -1}}, o.Fake)
	assert.Equal(t, []uint16{0x0092, 0x018b}, o.Remove)
	assert.Equal(t, 3, o.Count())

	var none *Overrides
	assert.Zero(t, none.Count())

	_, err = LoadOverrides(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
