// Package config provides configuration parsing and validation for the
// signalling server.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"saltyrtc.io/server/internal/wire"
)

// ErrServerKeyError indicates the permanent key set is invalid: a
// duplicate, or a file that does not contain a 32-byte NaCl secret key.
var ErrServerKeyError = errors.New("config: invalid permanent key configuration")

// Config is the complete server configuration, loadable from YAML with CLI
// flags taking precedence over file values.
type Config struct {
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	TLS           TLSConfig     `yaml:"tls"`
	PermanentKeys []string      `yaml:"permanent_keys"`
	Log           LogConfig     `yaml:"log"`
	Metrics       MetricsConfig `yaml:"metrics"`
}

// TLSConfig configures the server's transport security. When AutocertHosts
// is non-empty, golang.org/x/crypto/acme/autocert is used instead of a
// static certificate/key pair.
type TLSConfig struct {
	Cert          string   `yaml:"cert"`
	Key           string   `yaml:"key"`
	AutocertHosts []string `yaml:"autocert_hosts"`
}

// LogConfig configures internal/logging.New.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus HTTP endpoint. Addr is left empty
// to disable metrics entirely.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns a Config with the server's documented defaults.
func Default() *Config {
	return &Config{
		Host: "0.0.0.0",
		Port: 443,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads and parses a YAML configuration file, applying Validate.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes, starting from Default.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects an invalid configuration. It does not require the
// permanent key files to actually parse; call LoadPermanentKeys for that.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if !isValidLogLevel(c.Log.Level) {
		return fmt.Errorf("config: invalid log level %q", c.Log.Level)
	}
	if !isValidLogFormat(c.Log.Format) {
		return fmt.Errorf("config: invalid log format %q", c.Log.Format)
	}
	seen := make(map[string]bool, len(c.PermanentKeys))
	for _, p := range c.PermanentKeys {
		if seen[p] {
			return fmt.Errorf("%w: %q listed more than once", ErrServerKeyError, p)
		}
		seen[p] = true
	}
	return nil
}

// LoadPermanentKeys reads every configured permanent key file and returns
// the decoded secret keys. It rejects the configuration if any two files
// decode to the same key, per spec.md's server-key-uniqueness invariant.
func (c *Config) LoadPermanentKeys() ([]wire.SecretKey, error) {
	keys := make([]wire.SecretKey, 0, len(c.PermanentKeys))
	seen := make(map[wire.SecretKey]string, len(c.PermanentKeys))
	for _, path := range c.PermanentKeys {
		key, err := LoadPermanentKey(path)
		if err != nil {
			return nil, err
		}
		if other, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: %q and %q decode to the same key", ErrServerKeyError, other, path)
		}
		seen[key] = path
		keys = append(keys, key)
	}
	return keys, nil
}

// LoadPermanentKey reads a single permanent key file, accepting either a
// 64-character hex-encoded secret key or a raw 32-byte binary file.
func LoadPermanentKey(path string) (wire.SecretKey, error) {
	var key wire.SecretKey
	data, err := os.ReadFile(path)
	if err != nil {
		return key, fmt.Errorf("config: failed to read permanent key %s: %w", path, err)
	}

	trimmed := strings.TrimSpace(string(data))
	if len(trimmed) == wire.KeySize*2 {
		decoded, err := hex.DecodeString(trimmed)
		if err == nil && len(decoded) == wire.KeySize {
			copy(key[:], decoded)
			return key, nil
		}
	}
	if len(data) == wire.KeySize {
		copy(key[:], data)
		return key, nil
	}
	return key, fmt.Errorf("%w: %s is neither a %d-byte key nor %d hex characters",
		ErrServerKeyError, path, wire.KeySize, wire.KeySize*2)
}

func isValidLogLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "warning", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch strings.ToLower(format) {
	case "text", "json":
		return true
	default:
		return false
	}
}
