package config

import (
	"time"

	"github.com/rickgao/streamlabs-tracer/internal/connection"
)

// Default values for optional configuration fields.
const (
	DefaultSocketURL        = connection.DefaultSocketURL
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultBufferSize       = 256
	DefaultDispatchMode     = DispatchModeLog
	DefaultRedisChannel     = "streamlabs.events"
	DefaultMetricsPort      = 9090
	DefaultMetricsPath      = "/metrics"
	DefaultLogLevel         = "info"
)

// Dispatch modes.
const (
	DispatchModeLog   = "log"
	DispatchModeRedis = "redis"
)

func (c *TracerConfig) applyDefaults() {
	// Streamlabs defaults
	if c.Streamlabs.SocketURL == "" {
		c.Streamlabs.SocketURL = DefaultSocketURL
	}
	if c.Streamlabs.HandshakeTimeout == 0 {
		c.Streamlabs.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Streamlabs.WriteTimeout == 0 {
		c.Streamlabs.WriteTimeout = DefaultWriteTimeout
	}
	if c.Streamlabs.BufferSize == 0 {
		c.Streamlabs.BufferSize = DefaultBufferSize
	}

	// Dispatch defaults
	if c.Dispatch.Mode == "" {
		c.Dispatch.Mode = DefaultDispatchMode
	}
	if c.Dispatch.Mode == DispatchModeRedis && c.Dispatch.Redis.Channel == "" {
		c.Dispatch.Redis.Channel = DefaultRedisChannel
	}

	// Metrics defaults
	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
}
