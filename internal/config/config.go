package config

import (
	"time"

	"github.com/rickgao/streamlabs-tracer/internal/connection"
	"github.com/rickgao/streamlabs-tracer/internal/dispatch"
	"github.com/rickgao/streamlabs-tracer/internal/model"
)

// TracerConfig is the root configuration for a tracer instance.
type TracerConfig struct {
	Streamlabs StreamlabsConfig `yaml:"streamlabs"`
	Streamers  []StreamerConfig `yaml:"streamers"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Log        LogConfig        `yaml:"log"`
}

// StreamlabsConfig holds socket service settings.
type StreamlabsConfig struct {
	SocketURL        string        `yaml:"socket_url"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	BufferSize       int           `yaml:"buffer_size"` // Per-session notification buffer
}

// StreamerConfig is one streamer identity.
type StreamerConfig struct {
	Nickname    string `yaml:"nickname"`
	SocketToken string `yaml:"socket_token"`
}

// DispatchConfig selects where normalized events go.
type DispatchConfig struct {
	Mode  string      `yaml:"mode"` // "log" or "redis"
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig holds the pub/sub target for redis mode.
type RedisConfig struct {
	Addrs      []string `yaml:"addrs"`
	MasterName string   `yaml:"master_name"` // Sentinel master, optional
	Username   string   `yaml:"username"`
	Password   string   `yaml:"password"`
	DB         int      `yaml:"db"`
	Channel    string   `yaml:"channel"`
}

// MetricsConfig holds the HTTP endpoint settings for /metrics and /health.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Identities returns the configured streamers as identities.
func (c *TracerConfig) Identities() []model.Identity {
	ids := make([]model.Identity, 0, len(c.Streamers))
	for _, s := range c.Streamers {
		ids = append(ids, model.Identity{Nickname: s.Nickname, SocketToken: s.SocketToken})
	}
	return ids
}

// ManagerConfig returns the connection manager settings.
func (c *TracerConfig) ManagerConfig() connection.ManagerConfig {
	return connection.ManagerConfig{
		SocketURL:        c.Streamlabs.SocketURL,
		HandshakeTimeout: c.Streamlabs.HandshakeTimeout,
		WriteTimeout:     c.Streamlabs.WriteTimeout,
		BufferSize:       c.Streamlabs.BufferSize,
	}
}

// RedisOptions returns the redis client options for redis dispatch mode.
func (c *TracerConfig) RedisOptions() dispatch.RedisOptions {
	r := c.Dispatch.Redis
	return dispatch.RedisOptions{
		Addrs:      r.Addrs,
		MasterName: r.MasterName,
		Username:   r.Username,
		Password:   r.Password,
		DB:         r.DB,
	}
}
