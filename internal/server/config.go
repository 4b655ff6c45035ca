// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the presence service.
package server

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// EnvPrefix is prepended to every environment variable the server reads.
const EnvPrefix = "PRESENCE_"

// Mode selects where presence state lives.
type Mode string

const (
	// ModeLocal keeps presence in process memory.
	ModeLocal Mode = "local"
	// ModeDistributed keeps presence in Redis and syncs processes over pub/sub.
	ModeDistributed Mode = "distributed"
)

// DisconnectPolicy decides what happens to a user who disconnects while in.
type DisconnectPolicy string

const (
	// PolicySticky leaves the user in.
	PolicySticky DisconnectPolicy = "sticky"
	// PolicyAutoOut marks the user out once their last local connection closes.
	PolicyAutoOut DisconnectPolicy = "auto-out"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `env:"BURST"           envDefault:"5"  validate:"gt=0"`
	RefillInterval time.Duration `env:"REFILL_INTERVAL" envDefault:"1s" validate:"gt=0"`
}

// RedisConfig locates the Redis server used in distributed mode.
type RedisConfig struct {
	Addr     string `env:"ADDR"     envDefault:"localhost:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB"       envDefault:"0" validate:"gte=0"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Addr             string            `env:"ADDR"              envDefault:":8000" validate:"required"`
	AllowedOrigins   []string          `env:"ALLOWED_ORIGINS"   envDefault:"http://localhost:8000" envSeparator:","`
	MaxMessageSize   int64             `env:"MAX_MESSAGE_SIZE"  envDefault:"512" validate:"gt=0"`
	RateLimit        RateLimitConfig   `envPrefix:"RATE_LIMIT_"`
	Tokens           map[string]string `env:"TOKENS"            envDefault:"token1:dominik,token2:ela,token3:wiktor,token4:maja" validate:"min=1"`
	Mode             Mode              `env:"MODE"              envDefault:"local" validate:"oneof=local distributed"`
	Redis            RedisConfig       `envPrefix:"REDIS_"`
	DisconnectPolicy DisconnectPolicy  `env:"DISCONNECT_POLICY" envDefault:"sticky" validate:"oneof=sticky auto-out"`
	LogLevel         string            `env:"LOG_LEVEL"         envDefault:"info" validate:"oneof=debug info warn error"`
	ShutdownTimeout  time.Duration     `env:"SHUTDOWN_TIMEOUT"  envDefault:"10s" validate:"gt=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg, err := ParseConfig(map[string]string{})
	if err != nil {
		// defaults are static; a failure here is a broken struct tag
		panic(err)
	}
	return cfg
}

// ParseConfig builds a Config from environment. A nil map reads the process
// environment.
func ParseConfig(environment map[string]string) (*Config, error) {
	var cfg Config
	opts := env.Options{Prefix: EnvPrefix}
	if environment != nil {
		opts.Environment = environment
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func LoadConfig(dotenvFiles ...string) (*Config, error) {
	if len(dotenvFiles) == 0 {
		dotenvFiles = []string{".env"}
	}
	for _, file := range dotenvFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", file, err)
		}
	}
	return ParseConfig(nil)
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Mode == ModeDistributed && c.Redis.Addr == "" {
		return errors.New("invalid config: redis address is required in distributed mode")
	}
	return nil
}
