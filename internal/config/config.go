// Package config loads runtime settings for the relay from the environment
// and applies the defaults used when a value is missing or out of range.
package config

import (
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
)

const (
	defaultPort            = "5080"
	defaultMaxMessageSize  = 64 * 1024
	defaultSendBuffer      = 256
	defaultPingTimeout     = 60 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultBurst           = 20
	defaultRefillInterval  = time.Second
	defaultPresenceTTL     = 2 * time.Minute
	defaultNATSSubject     = "chatrelay.emit"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `env:"BURST" envDefault:"20"`
	RefillInterval time.Duration `env:"REFILL_INTERVAL" envDefault:"1s"`
}

// RelayConfig holds the per-connection limits applied by the relay.
type RelayConfig struct {
	MaxMessageSize int64           `env:"MAX_MESSAGE_SIZE" envDefault:"65536"`
	SendBuffer     int             `env:"SEND_BUFFER" envDefault:"256"`
	PingTimeout    time.Duration   `env:"PING_TIMEOUT" envDefault:"60s"`
	WriteTimeout   time.Duration   `env:"WRITE_TIMEOUT" envDefault:"10s"`
	RateLimit      RateLimitConfig `envPrefix:"RATE_LIMIT_"`
}

// PingPeriod is how often the write pump pings a peer. It stays below
// PingTimeout so a healthy peer always answers before its deadline.
func (c RelayConfig) PingPeriod() time.Duration {
	return c.PingTimeout * 9 / 10
}

// RedisConfig configures the optional presence mirror. An empty Addr disables it.
type RedisConfig struct {
	Addr        string        `env:"ADDR"`
	Password    string        `env:"PASSWORD"`
	DB          int           `env:"DB" envDefault:"0"`
	PresenceTTL time.Duration `env:"PRESENCE_TTL" envDefault:"2m"`
}

// Enabled reports whether a Redis address was configured.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// NATSConfig configures the optional cross-node bus. An empty URL disables it.
type NATSConfig struct {
	URL     string `env:"URL"`
	Subject string `env:"SUBJECT" envDefault:"chatrelay.emit"`
	NodeID  string `env:"NODE_ID"`
}

// Enabled reports whether a NATS URL was configured.
func (c NATSConfig) Enabled() bool { return c.URL != "" }

// Config holds the server configuration settings including security controls.
type Config struct {
	Port            string        `env:"PORT" envDefault:"5080"`
	AllowedOrigins  []string      `env:"ALLOWED_ORIGINS" envDefault:"http://localhost:3000" envSeparator:","`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat       string        `env:"LOG_FORMAT" envDefault:"console"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	Relay RelayConfig
	Redis RedisConfig `envPrefix:"REDIS_"`
	NATS  NATSConfig  `envPrefix:"NATS_"`
}

// Load reads the configuration from the process environment.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom reads the configuration from the given variables instead of the
// process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, errors.Wrap(err, "parse env")
	}
	return Sanitize(cfg), nil
}

// Default returns the configuration used when no environment is set.
func Default() Config {
	cfg, err := LoadFrom(map[string]string{})
	if err != nil {
		return Sanitize(Config{})
	}
	return cfg
}

// Sanitize replaces empty or non-positive settings with their defaults.
func Sanitize(cfg Config) Config {
	cfg.Port = normalizePort(cfg.Port)

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "console"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	origins := make([]string, 0, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	cfg.AllowedOrigins = origins

	r := &cfg.Relay
	if r.MaxMessageSize <= 0 {
		r.MaxMessageSize = defaultMaxMessageSize
	}
	if r.SendBuffer <= 0 {
		r.SendBuffer = defaultSendBuffer
	}
	if r.PingTimeout <= 0 {
		r.PingTimeout = defaultPingTimeout
	}
	if r.WriteTimeout <= 0 {
		r.WriteTimeout = defaultWriteTimeout
	}
	if r.RateLimit.Burst <= 0 {
		r.RateLimit.Burst = defaultBurst
	}
	if r.RateLimit.RefillInterval <= 0 {
		r.RateLimit.RefillInterval = defaultRefillInterval
	}

	if cfg.Redis.PresenceTTL <= 0 {
		cfg.Redis.PresenceTTL = defaultPresenceTTL
	}
	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = defaultNATSSubject
	}

	return cfg
}

func normalizePort(port string) string {
	port = strings.TrimSpace(port)
	if port == "" {
		port = defaultPort
	}
	if !strings.Contains(port, ":") {
		port = ":" + port
	}
	return port
}
