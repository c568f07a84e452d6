package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// EnvPath names the environment variable holding the config path when
// --config is not given.
const EnvPath = "MANAPLUS_NET_CONFIG"

type Config struct {
	Server    ServerConfig    `toml:"server"`
	Network   NetworkConfig   `toml:"network"`
	Packets   PacketsConfig   `toml:"packets"`
	Limiter   LimiterConfig   `toml:"limiter"`
	Scripting ScriptingConfig `toml:"scripting"`
	Database  DatabaseConfig  `toml:"database"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Logging   LoggingConfig   `toml:"logging"`
}

type ServerConfig struct {
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Variant       string `toml:"variant"`        // "ea", "eathena" or "tmwa"
	PacketVersion int    `toml:"packet_version"` // YYYYMMDD, 0 = negotiated
	Character     string `toml:"character"`      // local player name, used for chat echo
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type NetworkConfig struct {
	BufferSize         int           `toml:"buffer_size"`
	BufferLimit        int           `toml:"buffer_limit"`
	TickRate           time.Duration `toml:"tick_rate"`
	DialTimeout        time.Duration `toml:"dial_timeout"`
	WriteTimeout       time.Duration `toml:"write_timeout"`
	PingInterval       time.Duration `toml:"ping_interval"`
	MaxMessagesPerTick int           `toml:"max_messages_per_tick"` // 0 = drain everything
	StrictDecode       bool          `toml:"strict_decode"`
	TraceFields        bool          `toml:"trace_fields"`
}

type PacketsConfig struct {
	Overrides string `toml:"overrides"` // YAML fake/remove file, empty = none
	Charset   string `toml:"charset"`   // legacy string charset, empty = UTF-8
}

type LimiterConfig struct {
	Enabled   bool                     `toml:"enabled"`
	Intervals map[string]time.Duration `toml:"intervals"` // keyed by packet kind
}

type ScriptingConfig struct {
	Dir string `toml:"dir"` // *.lua packet extensions, empty = disabled
}

type DatabaseConfig struct {
	DSN             string        `toml:"dsn"` // empty disables the diagnostics store
	MaxOpenConns    int           `toml:"max_open_conns"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime"`
}

type MetricsConfig struct {
	BindAddress string `toml:"bind_address"` // empty disables /metrics
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := defaults()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the built-in configuration used when no file is given.
func Default() *Config {
	return defaults()
}

func (c *Config) validate() error {
	if c.Network.BufferSize <= 0 {
		return fmt.Errorf("network.buffer_size must be positive, got %d", c.Network.BufferSize)
	}
	if c.Network.BufferLimit < 0 {
		return fmt.Errorf("network.buffer_limit must not be negative, got %d", c.Network.BufferLimit)
	}
	if c.Network.TickRate <= 0 {
		return fmt.Errorf("network.tick_rate must be positive, got %s", c.Network.TickRate)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	return nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "127.0.0.1",
			Port:    6901,
			Variant: "tmwa",
		},
		Network: NetworkConfig{
			BufferSize:   64 * 1024,
			BufferLimit:  1 << 20,
			TickRate:     10 * time.Millisecond,
			DialTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			PingInterval: 10 * time.Second,
		},
		Limiter: LimiterConfig{
			Enabled: true,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    4,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
