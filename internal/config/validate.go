package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
// Empty socket tokens are allowed here; the connection manager rejects them
// when it starts.
func (c *TracerConfig) Validate() error {
	if len(c.Streamers) == 0 {
		return errors.New("streamers must list at least one streamer")
	}

	seen := make(map[string]struct{}, len(c.Streamers))
	for i, s := range c.Streamers {
		if s.Nickname == "" {
			return fmt.Errorf("streamers[%d].nickname is required", i)
		}
		if _, dup := seen[s.Nickname]; dup {
			return fmt.Errorf("streamers[%d].nickname %q is duplicated", i, s.Nickname)
		}
		seen[s.Nickname] = struct{}{}
	}

	if c.Streamlabs.BufferSize < 1 {
		return errors.New("streamlabs.buffer_size must be >= 1")
	}
	if c.Streamlabs.HandshakeTimeout < 0 {
		return errors.New("streamlabs.handshake_timeout must be >= 0")
	}

	if err := c.Dispatch.validate(); err != nil {
		return err
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}

	return nil
}

func (d *DispatchConfig) validate() error {
	switch d.Mode {
	case DispatchModeLog:
		return nil
	case DispatchModeRedis:
		if len(d.Redis.Addrs) == 0 {
			return errors.New("dispatch.redis.addrs is required in redis mode")
		}
		if d.Redis.Channel == "" {
			return errors.New("dispatch.redis.channel is required in redis mode")
		}
		if d.Redis.DB < 0 {
			return fmt.Errorf("dispatch.redis.db must be >= 0, got %d", d.Redis.DB)
		}
		return nil
	default:
		return fmt.Errorf("dispatch.mode must be %q or %q, got %q", DispatchModeLog, DispatchModeRedis, d.Mode)
	}
}

// ParseLevel maps a log.level value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level must be debug, info, warn or error, got %q", s)
	}
	return level, nil
}
