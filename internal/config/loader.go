package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Endpoint == "" {
		errs = append(errs, errors.New("endpoint is required"))
	} else if !strings.HasPrefix(cfg.Endpoint, "ws://") && !strings.HasPrefix(cfg.Endpoint, "wss://") {
		errs = append(errs, fmt.Errorf("endpoint %q must use the ws:// or wss:// scheme", cfg.Endpoint))
	}

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	if cfg.KeepaliveInterval < 0 {
		errs = append(errs, fmt.Errorf("keepalive_interval %v must not be negative", cfg.KeepaliveInterval))
	}

	if cfg.Capture.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must not be negative", cfg.Capture.SampleRate))
	}
	if cfg.Capture.Channels < 0 || cfg.Capture.Channels > 2 {
		errs = append(errs, fmt.Errorf("capture.channels %d is out of range [0, 2]", cfg.Capture.Channels))
	}
	if cfg.Capture.ChunkInterval < 0 {
		errs = append(errs, fmt.Errorf("capture.chunk_interval %v must not be negative", cfg.Capture.ChunkInterval))
	}

	if cfg.Coalesce.MaxFragments < 0 {
		errs = append(errs, fmt.Errorf("coalesce.max_fragments %d must not be negative", cfg.Coalesce.MaxFragments))
	}
	if cfg.Coalesce.FlushAfter < 0 {
		errs = append(errs, fmt.Errorf("coalesce.flush_after %v must not be negative", cfg.Coalesce.FlushAfter))
	}

	return errors.Join(errs...)
}
