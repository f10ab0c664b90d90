// Package config loads the YAML configuration shared by the relay server
// and the terminal client. Every key can be overridden from the
// environment as FREECELL_<SECTION>_<KEY>, e.g. FREECELL_RELAY_ADDRESS.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "FREECELL"

// Config is the root configuration.
type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging"`
	Relay    RelayConfig    `mapstructure:"relay"`
	Client   ClientConfig   `mapstructure:"client"`
	Match    MatchConfig    `mapstructure:"match"`
	Database DatabaseConfig `mapstructure:"database"`
}

// LoggingConfig selects the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RelayConfig configures cmd/relay.
type RelayConfig struct {
	Address        string        `mapstructure:"address"`
	Path           string        `mapstructure:"path"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	ShutdownGrace  time.Duration `mapstructure:"shutdown_grace"`
	GRPC           GRPCConfig    `mapstructure:"grpc"`
}

// GRPCConfig configures the relay's health endpoint.
type GRPCConfig struct {
	Address              string `mapstructure:"address"`
	MaxConcurrentStreams int    `mapstructure:"max_concurrent_streams"`
}

// ClientConfig configures cmd/freecell.
type ClientConfig struct {
	// Transport is one of "memory", "relay" or "nats".
	Transport string `mapstructure:"transport"`
	RelayURL  string `mapstructure:"relay_url"`
	NATSURL   string `mapstructure:"nats_url"`
	// PlayerID keys the player's stored results. Empty generates a
	// throwaway id per run.
	PlayerID    string `mapstructure:"player_id"`
	DisplayName string `mapstructure:"display_name"`
	Rating      int    `mapstructure:"rating"`
	LogFile     string `mapstructure:"log_file"`
}

// MatchConfig holds the game timings.
type MatchConfig struct {
	Duration        time.Duration `mapstructure:"duration"`
	ResetTimeout    time.Duration `mapstructure:"reset_timeout"`
	ProposalTimeout time.Duration `mapstructure:"proposal_timeout"`
}

// DatabaseConfig configures the optional result store. An empty URL
// disables it.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

// Enabled reports whether a database is configured.
func (c DatabaseConfig) Enabled() bool { return c.URL != "" }

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("relay.address", ":8080")
	v.SetDefault("relay.path", "/ws")
	v.SetDefault("relay.allowed_origins", []string{})
	v.SetDefault("relay.send_buffer", 256)
	v.SetDefault("relay.max_message_size", 64<<10)
	v.SetDefault("relay.shutdown_grace", 5*time.Second)
	v.SetDefault("relay.grpc.address", ":9090")
	v.SetDefault("relay.grpc.max_concurrent_streams", 100)

	v.SetDefault("client.transport", "memory")
	v.SetDefault("client.relay_url", "ws://localhost:8080/ws")
	v.SetDefault("client.nats_url", "nats://localhost:4222")
	v.SetDefault("client.player_id", "")
	v.SetDefault("client.display_name", "")
	v.SetDefault("client.log_file", "freecell.log")
	v.SetDefault("client.rating", 1000)

	v.SetDefault("match.duration", 5*time.Minute)
	v.SetDefault("match.reset_timeout", 10*time.Second)
	v.SetDefault("match.proposal_timeout", 5*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("database.connect_timeout", 5*time.Second)
}

// New returns a viper instance with defaults and environment overrides.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path, which may be empty or missing, and validates the result.
func Load(path string) (*Config, error) {
	v := New()
	if err := ReadFile(v, path); err != nil {
		return nil, err
	}
	return Decode(v)
}

// ReadFile merges the YAML file at path into v. A missing file is not an
// error.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	return nil
}

// Decode unmarshals v and validates the result.
func Decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Validate checks values that the defaults cannot make sane.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		check(false, "logging.level %q", c.Logging.Level)
	}
	check(c.Logging.Format == "json" || c.Logging.Format == "console",
		"logging.format %q", c.Logging.Format)

	check(c.Relay.Address != "", "relay.address is empty")
	check(strings.HasPrefix(c.Relay.Path, "/"), "relay.path %q must start with /", c.Relay.Path)
	check(c.Relay.SendBuffer > 0, "relay.send_buffer must be positive")
	check(c.Relay.MaxMessageSize > 0, "relay.max_message_size must be positive")

	switch c.Client.Transport {
	case "memory", "relay", "nats":
	default:
		check(false, "client.transport %q", c.Client.Transport)
	}
	check(c.Client.Rating >= 0, "client.rating must not be negative")

	check(c.Match.Duration > 0, "match.duration must be positive")
	check(c.Match.ResetTimeout > 0, "match.reset_timeout must be positive")
	check(c.Match.ProposalTimeout > 0, "match.proposal_timeout must be positive")

	if c.Database.Enabled() {
		check(c.Database.MaxConns > 0, "database.max_conns must be positive")
		check(c.Database.MinConns <= c.Database.MaxConns, "database.min_conns exceeds max_conns")
	}

	return errors.Join(errs...)
}
