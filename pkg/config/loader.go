package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"
)

// Load reads, parses, and validates a config file. YAML is the primary
// format; .json and .hujson files are accepted too (comments and
// trailing commas allowed) since YAML is a superset of standard JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".hujson":
		std, err := hujson.Standardize(data)
		if err != nil {
			return nil, fmt.Errorf("parsing config JSON: %w", err)
		}
		data = std
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	expandEnvVars(&cfg)
	cfg.SetDefaults()

	if cfg.Logging.File != "" && !filepath.IsAbs(cfg.Logging.File) {
		cfg.Logging.File = filepath.Join(filepath.Dir(path), cfg.Logging.File)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expandEnvVars expands ${VAR} references in the string-valued fields
// that plausibly carry secrets or environment-specific values.
func expandEnvVars(c *Config) {
	c.Server.Name = os.ExpandEnv(c.Server.Name)
	c.Server.Version = os.ExpandEnv(c.Server.Version)
	c.Listen = os.ExpandEnv(c.Listen)
	for i := range c.CORS.AllowedOrigins {
		c.CORS.AllowedOrigins[i] = os.ExpandEnv(c.CORS.AllowedOrigins[i])
	}
	c.Middleware.Auth.Token = os.ExpandEnv(c.Middleware.Auth.Token)
	c.Middleware.Auth.BcryptHash = os.ExpandEnv(c.Middleware.Auth.BcryptHash)
	c.Logging.File = os.ExpandEnv(c.Logging.File)
	c.Telemetry.OTLPEndpoint = os.ExpandEnv(c.Telemetry.OTLPEndpoint)
}
