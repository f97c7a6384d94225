// Package server provides configuration helpers that define runtime defaults,
// validation, and connection parameters for the chat service.
package server

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// RedisConfig configures the optional presence mirror. An empty Addr disables it.
type RedisConfig struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB"`
	Prefix   string `env:"PREFIX" envDefault:"roomchat"`
}

// Config holds the server configuration settings.
type Config struct {
	Port            string        `env:"SERVER_PORT" envDefault:":8080"`
	AllowedOrigins  []string      `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:8080"`
	MaxMessageSize  int64         `env:"MAX_MESSAGE_SIZE" envDefault:"4096"`
	SendBufferSize  int           `env:"SEND_BUFFER_SIZE" envDefault:"256"`
	PingInterval    time.Duration `env:"PING_INTERVAL" envDefault:"54s"`
	PongWait        time.Duration `env:"PONG_WAIT" envDefault:"60s"`
	WriteWait       time.Duration `env:"WRITE_WAIT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	LogDevelopment bool   `env:"LOG_DEVELOPMENT" envDefault:"false"`

	// JWTSecret switches token decoding to HMAC verification when set.
	JWTSecret string `env:"JWT_SECRET"`

	Redis           RedisConfig   `envPrefix:"REDIS_"`
	PresenceTTL     time.Duration `env:"PRESENCE_TTL" envDefault:"24h"`
	PresenceTimeout time.Duration `env:"PRESENCE_TIMEOUT" envDefault:"500ms"`
}

// NewConfig creates a Config populated with default values for all settings.
func NewConfig() *Config {
	var cfg Config
	// Defaults come from the envDefault tags; an empty environment cannot fail.
	_ = env.ParseWithOptions(&cfg, env.Options{Environment: map[string]string{}})
	cfg = cfg.sanitize()
	return &cfg
}

// NewConfigFromEnv creates a Config from environment variables, falling back
// to defaults for unset or non-positive values.
func NewConfigFromEnv() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg = cfg.sanitize()
	return &cfg, nil
}

func (cfg Config) sanitize() Config {
	if cfg.Port == "" {
		cfg.Port = ":8080"
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 4096
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = 256
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "roomchat"
	}
	if cfg.PresenceTimeout <= 0 {
		cfg.PresenceTimeout = 500 * time.Millisecond
	}
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}
