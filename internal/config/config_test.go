package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "manaplus-net.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFillsDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
[server]
host = "server.themanaworld.org"
variant = "tmwa"
character = "Tester"

[limiter.intervals]
chat = "1s"
`))
	require.NoError(t, err)

	assert.Equal(t, "server.themanaworld.org:6901", cfg.Server.Addr())
	assert.Equal(t, "Tester", cfg.Server.Character)
	assert.Equal(t, 64*1024, cfg.Network.BufferSize)
	assert.Equal(t, 10*time.Millisecond, cfg.Network.TickRate)
	assert.True(t, cfg.Limiter.Enabled)
	assert.Equal(t, time.Second, cfg.Limiter.Intervals["chat"])
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadOverridesEverySection(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
[server]
port = 6902
variant = "eathena"
packet_version = 20150513

[network]
buffer_size = 4096
buffer_limit = 0
tick_rate = "50ms"
ping_interval = "5s"
max_messages_per_tick = 32
strict_decode = true

[packets]
overrides = "packets.yaml"
charset = "windows-1251"

[scripting]
dir = "scripts"

[database]
dsn = "postgres://diag@localhost/diag"

[metrics]
bind_address = ":9100"

[logging]
level = "debug"
format = "json"
`))
	require.NoError(t, err)
	assert.Equal(t, 6902, cfg.Server.Port)
	assert.Equal(t, 20150513, cfg.Server.PacketVersion)
	assert.Equal(t, 4096, cfg.Network.BufferSize)
	assert.Zero(t, cfg.Network.BufferLimit)
	assert.Equal(t, 50*time.Millisecond, cfg.Network.TickRate)
	assert.Equal(t, 32, cfg.Network.MaxMessagesPerTick)
	assert.True(t, cfg.Network.StrictDecode)
	assert.Equal(t, "windows-1251", cfg.Packets.Charset)
	assert.Equal(t, "scripts", cfg.Scripting.Dir)
	assert.Equal(t, 4, cfg.Database.MaxOpenConns)
	assert.Equal(t, ":9100", cfg.Metrics.BindAddress)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadRejectsInvalid(t *testing.T) {
	for name, body := range map[string]string{
		"zero buffer":    "[network]\nbuffer_size = 0\n",
		"negative limit": "[network]\nbuffer_limit = -1\n",
		"zero tick":      "[network]\ntick_rate = \"0s\"\n",
		"port":           "[server]\nport = 70000\n",
		"syntax":         "[server\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "127.0.0.1:6901", cfg.Server.Addr())
	assert.Equal(t, "tmwa", cfg.Server.Variant)
	assert.Equal(t, 10*time.Second, cfg.Network.PingInterval)
}
