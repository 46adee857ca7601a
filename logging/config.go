package logging

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// Config tunes a Router.
type Config struct {
	EnabledSinks    []string
	BufferSize      int
	MinimumSeverity Severity
	// Fields are merged into every event's Extra unless the event sets them.
	Fields           map[string]any
	JSON             JSONConfig
	DropWarnInterval time.Duration
	// A failing sink waits RetryBackoff, doubling per consecutive failure up
	// to MaxRetryBackoff, before its next write.
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
}

type JSONConfig struct {
	FilePath      string
	FlushInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		EnabledSinks:     []string{"console"},
		BufferSize:       512,
		MinimumSeverity:  SeverityInfo,
		DropWarnInterval: 5 * time.Second,
		RetryBackoff:     time.Second,
		MaxRetryBackoff:  32 * time.Second,
		JSON: JSONConfig{
			FlushInterval: 2 * time.Second,
		},
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.BufferSize <= 0 {
		c.BufferSize = defaults.BufferSize
	}
	if c.DropWarnInterval <= 0 {
		c.DropWarnInterval = defaults.DropWarnInterval
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaults.RetryBackoff
	}
	if c.MaxRetryBackoff < c.RetryBackoff {
		c.MaxRetryBackoff = max(defaults.MaxRetryBackoff, c.RetryBackoff)
	}
	return c
}

func (c Config) CloneFields() map[string]any {
	if len(c.Fields) == 0 {
		return nil
	}
	return maps.Clone(c.Fields)
}

// ParseSeverity maps a textual level onto a Severity.
func ParseSeverity(raw string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return SeverityDebug, nil
	case "", "info":
		return SeverityInfo, nil
	case "warn", "warning":
		return SeverityWarn, nil
	case "error":
		return SeverityError, nil
	default:
		return SeverityInfo, fmt.Errorf("unknown log level %q", raw)
	}
}

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarn:
		return "warn"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}
