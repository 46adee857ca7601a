package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/lotuspar/libblitz/internal/observability"
	"github.com/lotuspar/libblitz/internal/telemetry"
	"github.com/lotuspar/libblitz/logging"
)

// Config holds the authority process settings. Fields tagged with env are
// read from LIBBLITZ_* variables by LoadConfig.
type Config struct {
	Addr              string        `env:"LIBBLITZ_ADDR" envDefault:":8080"`
	TickRate          int           `env:"LIBBLITZ_TICK_RATE" envDefault:"15"`
	HeartbeatInterval time.Duration `env:"LIBBLITZ_HEARTBEAT_INTERVAL" envDefault:"2s"`
	LogLevel          string        `env:"LIBBLITZ_LOG_LEVEL" envDefault:"info"`
	// LogJSONPath enables the newline-delimited JSON event sink.
	LogJSONPath     string        `env:"LIBBLITZ_LOG_JSON"`
	JournalPath     string        `env:"LIBBLITZ_JOURNAL_PATH"`
	JournalCapacity int           `env:"LIBBLITZ_JOURNAL_CAPACITY" envDefault:"256"`
	JournalMaxAge   time.Duration `env:"LIBBLITZ_JOURNAL_MAX_AGE" envDefault:"10m"`
	InitialActivity string        `env:"LIBBLITZ_INITIAL_ACTIVITY" envDefault:"lobby"`
	ClientDir       string        `env:"LIBBLITZ_CLIENT_DIR"`
	ShutdownTimeout time.Duration `env:"LIBBLITZ_SHUTDOWN_TIMEOUT" envDefault:"5s"`

	Observability observability.Config `envPrefix:"LIBBLITZ_"`

	Logger telemetry.Logger `env:"-"`
}

// ParseEnv fills target from the process environment.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadConfig reads Config from the environment and validates it.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadConfigFrom(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	}
	if c.TickRate <= 0 {
		errs = append(errs, fmt.Errorf("tick rate must be positive, got %d", c.TickRate))
	}
	if c.HeartbeatInterval <= 0 {
		errs = append(errs, fmt.Errorf("heartbeat interval must be positive, got %s", c.HeartbeatInterval))
	}
	if c.JournalCapacity < 0 {
		errs = append(errs, fmt.Errorf("journal capacity must not be negative, got %d", c.JournalCapacity))
	}
	if c.InitialActivity == "" {
		errs = append(errs, errors.New("initial activity is required"))
	}
	if _, err := logging.ParseSeverity(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c Config) tickInterval() time.Duration {
	return time.Second / time.Duration(c.TickRate)
}
