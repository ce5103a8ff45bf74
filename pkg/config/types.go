// Package config defines the server configuration surface: one file
// loaded at startup, validated in full, optionally watched for changes.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from "30s"-style strings
// or bare numbers (seconds).
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var seconds int64
	if err := node.Decode(&seconds); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string or number")
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the plain time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the full server configuration.
type Config struct {
	Server     Server     `yaml:"server"`
	Listen     string     `yaml:"listen"`
	Paths      Paths      `yaml:"paths"`
	Transport  Transport  `yaml:"transport"`
	CORS       CORS       `yaml:"cors"`
	Limits     Limits     `yaml:"limits"`
	Timeouts   Timeouts   `yaml:"timeouts"`
	Middleware Middleware `yaml:"middleware"`
	Logging    Logging    `yaml:"logging"`
	Telemetry  Telemetry  `yaml:"telemetry"`
}

// Server identifies the server to clients during initialize.
type Server struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// Paths configures the HTTP surface. All four endpoints share one
// listener.
type Paths struct {
	RPC      string `yaml:"rpc"`
	WS       string `yaml:"ws"`
	SSE      string `yaml:"sse"`
	Messages string `yaml:"messages"`
}

// Transport tunes wire-level behavior shared by the adapters.
type Transport struct {
	MaxRequestBytes   int64    `yaml:"max_request_bytes"`
	PingInterval      Duration `yaml:"ping_interval"`
	MaxSSEConnections int      `yaml:"max_sse_connections"`
	SessionHeader     string   `yaml:"session_header"`
}

// CORS configures cross-origin access for browser clients.
type CORS struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Limits configures dispatch concurrency.
type Limits struct {
	Global          int            `yaml:"global"`
	PerTool         int            `yaml:"per_tool"`
	PerToolOverride map[string]int `yaml:"per_tool_override"`
	PerConnection   int            `yaml:"per_connection"`
	QueueDepth      int            `yaml:"queue_depth"`
}

// Timeouts configures request deadlines and shutdown behavior.
type Timeouts struct {
	RequestDefault Duration            `yaml:"request_default"`
	PerTool        map[string]Duration `yaml:"per_tool"`
	HardKillFactor float64             `yaml:"hard_kill_factor"`
	DrainGrace     Duration            `yaml:"drain_grace"`
}

// Middleware selects and orders the request pipeline. Known names:
// logging, validation, ratelimit, auth, metrics.
type Middleware struct {
	Order     []string  `yaml:"order"`
	RateLimit RateLimit `yaml:"rate_limit"`
	Auth      Auth      `yaml:"auth"`
}

// RateLimit configures the per-connection token buckets.
type RateLimit struct {
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// Auth configures the static token authenticator. Exactly one of Token
// or BcryptHash is set when enabled; external authenticators plug in at
// the server level instead.
type Auth struct {
	Enabled    bool   `yaml:"enabled"`
	Token      string `yaml:"token"`
	BcryptHash string `yaml:"bcrypt_hash"`
}

// Logging configures structured log output.
type Logging struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	Redact     bool   `yaml:"redact"`
}

// Telemetry configures tracing and metrics exposure.
type Telemetry struct {
	TracesEnabled  bool   `yaml:"traces_enabled"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
}

// MiddlewareNames are the pipeline stages the server knows how to build.
var MiddlewareNames = []string{"logging", "validation", "ratelimit", "auth", "metrics"}

// SetDefaults applies default values to the configuration.
func (c *Config) SetDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = "mcpkit"
	}
	if c.Server.Version == "" {
		c.Server.Version = "0.0.0"
	}
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.Paths.RPC == "" {
		c.Paths.RPC = "/rpc"
	}
	if c.Paths.WS == "" {
		c.Paths.WS = "/ws"
	}
	if c.Paths.SSE == "" {
		c.Paths.SSE = "/sse"
	}
	if c.Paths.Messages == "" {
		c.Paths.Messages = "/messages"
	}
	if c.Transport.MaxRequestBytes <= 0 {
		c.Transport.MaxRequestBytes = 1 * 1024 * 1024
	}
	if c.Transport.PingInterval <= 0 {
		c.Transport.PingInterval = Duration(30 * time.Second)
	}
	if c.Transport.MaxSSEConnections <= 0 {
		c.Transport.MaxSSEConnections = 100
	}
	if c.Transport.SessionHeader == "" {
		c.Transport.SessionHeader = "Mcp-Session-Id"
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"*"}
	}
	if c.Limits.Global <= 0 {
		c.Limits.Global = 200
	}
	if c.Limits.PerTool <= 0 {
		c.Limits.PerTool = 32
	}
	if c.Limits.PerConnection <= 0 {
		c.Limits.PerConnection = 32
	}
	if c.Limits.QueueDepth <= 0 {
		c.Limits.QueueDepth = 256
	}
	if c.Timeouts.RequestDefault <= 0 {
		c.Timeouts.RequestDefault = Duration(30 * time.Second)
	}
	if c.Timeouts.HardKillFactor == 0 {
		c.Timeouts.HardKillFactor = 2
	}
	if c.Timeouts.DrainGrace <= 0 {
		c.Timeouts.DrainGrace = Duration(10 * time.Second)
	}
	if len(c.Middleware.Order) == 0 {
		c.Middleware.Order = []string{"logging", "validation", "metrics"}
	}
	if c.Middleware.RateLimit.RatePerSecond > 0 && c.Middleware.RateLimit.Burst <= 0 {
		c.Middleware.RateLimit.Burst = int(c.Middleware.RateLimit.RatePerSecond) * 2
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}
