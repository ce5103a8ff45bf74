package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors. A config with
// any error refuses startup; all errors are reported at once.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return "validation errors:\n  - " + strings.Join(msgs, "\n  - ")
}

// Validate checks the configuration for errors.
func Validate(c *Config) error {
	var errs ValidationErrors

	if c.Listen == "" {
		errs = append(errs, ValidationError{"listen", "is required"})
	}

	paths := map[string]string{
		"paths.rpc":      c.Paths.RPC,
		"paths.ws":       c.Paths.WS,
		"paths.sse":      c.Paths.SSE,
		"paths.messages": c.Paths.Messages,
	}
	seen := make(map[string]string)
	for field, p := range paths {
		if p == "" || p[0] != '/' {
			errs = append(errs, ValidationError{field, "must start with '/'"})
			continue
		}
		if other, dup := seen[p]; dup {
			errs = append(errs, ValidationError{field, fmt.Sprintf("duplicates %s (%s)", other, p)})
		}
		seen[p] = field
	}

	if c.Transport.MaxRequestBytes <= 0 {
		errs = append(errs, ValidationError{"transport.max_request_bytes", "must be positive"})
	}
	if c.Transport.PingInterval <= 0 {
		errs = append(errs, ValidationError{"transport.ping_interval", "must be positive"})
	}
	if c.Transport.MaxSSEConnections <= 0 {
		errs = append(errs, ValidationError{"transport.max_sse_connections", "must be positive"})
	}

	if c.Limits.Global <= 0 {
		errs = append(errs, ValidationError{"limits.global", "must be positive"})
	}
	if c.Limits.PerTool <= 0 {
		errs = append(errs, ValidationError{"limits.per_tool", "must be positive"})
	}
	for name, n := range c.Limits.PerToolOverride {
		if n <= 0 {
			errs = append(errs, ValidationError{"limits.per_tool_override." + name, "must be positive"})
		}
	}
	if c.Limits.PerConnection <= 0 {
		errs = append(errs, ValidationError{"limits.per_connection", "must be positive"})
	}
	if c.Limits.QueueDepth < 0 {
		errs = append(errs, ValidationError{"limits.queue_depth", "must not be negative"})
	}

	if c.Timeouts.RequestDefault <= 0 {
		errs = append(errs, ValidationError{"timeouts.request_default", "must be positive"})
	}
	for name, d := range c.Timeouts.PerTool {
		if d <= 0 {
			errs = append(errs, ValidationError{"timeouts.per_tool." + name, "must be positive"})
		}
	}
	if c.Timeouts.HardKillFactor < 1 {
		errs = append(errs, ValidationError{"timeouts.hard_kill_factor", "must be >= 1"})
	}

	known := make(map[string]bool, len(MiddlewareNames))
	for _, n := range MiddlewareNames {
		known[n] = true
	}
	ordered := make(map[string]bool)
	for i, name := range c.Middleware.Order {
		field := fmt.Sprintf("middleware.order[%d]", i)
		if !known[name] {
			errs = append(errs, ValidationError{field, fmt.Sprintf("unknown middleware '%s'", name)})
		} else if ordered[name] {
			errs = append(errs, ValidationError{field, fmt.Sprintf("duplicate middleware '%s'", name)})
		}
		ordered[name] = true
	}
	if ordered["ratelimit"] && c.Middleware.RateLimit.RatePerSecond <= 0 {
		errs = append(errs, ValidationError{"middleware.rate_limit.rate_per_second", "must be positive when ratelimit is ordered"})
	}
	if c.Middleware.Auth.Enabled {
		hasToken := c.Middleware.Auth.Token != ""
		hasHash := c.Middleware.Auth.BcryptHash != ""
		if !hasToken && !hasHash {
			errs = append(errs, ValidationError{"middleware.auth", "requires 'token' or 'bcrypt_hash'"})
		}
		if hasToken && hasHash {
			errs = append(errs, ValidationError{"middleware.auth", "cannot have both 'token' and 'bcrypt_hash'"})
		}
		if !ordered["auth"] {
			errs = append(errs, ValidationError{"middleware.order", "auth is enabled but not in the order list"})
		}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, ValidationError{"logging.level", "must be debug, info, warn, or error"})
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{"logging.format", "must be text or json"})
	}

	if c.Telemetry.TracesEnabled && c.Telemetry.OTLPEndpoint == "" {
		errs = append(errs, ValidationError{"telemetry.otlp_endpoint", "is required when traces are enabled"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
