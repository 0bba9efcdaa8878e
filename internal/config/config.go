// Package config provides the configuration schema and loader for the
// voicelink client.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a [time.Duration] that decodes from YAML strings such as
// "30s" or "100ms". yaml.v3 only decodes integers into time.Duration, which
// makes raw durations in config files unreadable nanosecond counts.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a standard [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// LogLevel controls log verbosity for the voicelink client.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for voicelink.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	// Endpoint is the voice service base URL, e.g. "wss://voice.example.com".
	Endpoint string `yaml:"endpoint"`

	// Mobile selects the mobile endpoint variant, which requires an
	// astrologer ID per session.
	Mobile bool `yaml:"mobile"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the TCP address for the metrics and health HTTP
	// endpoints (e.g. ":9090"). Empty disables the listener.
	MetricsAddr string `yaml:"metrics_addr"`

	// KeepaliveInterval is the WebSocket ping period. Zero means 30s.
	KeepaliveInterval Duration `yaml:"keepalive_interval"`

	Capture  CaptureConfig  `yaml:"capture"`
	Coalesce CoalesceConfig `yaml:"coalesce"`
}

// CaptureConfig holds the microphone constraints.
type CaptureConfig struct {
	// SampleRate in Hz requested from the microphone. Zero means 24000.
	SampleRate int `yaml:"sample_rate"`

	// Channels requested from the microphone. Zero means 1.
	Channels int `yaml:"channels"`

	// EchoCancellation enables the device's echo canceller.
	EchoCancellation bool `yaml:"echo_cancellation"`

	// NoiseSuppression enables the device's noise filter.
	NoiseSuppression bool `yaml:"noise_suppression"`

	// ChunkInterval is the device's data-available period. Zero means the
	// device default (100ms).
	ChunkInterval Duration `yaml:"chunk_interval"`

	// EncodeOpus compresses raw-PCM capture bursts to Opus before sending.
	EncodeOpus bool `yaml:"encode_opus"`
}

// CoalesceConfig holds the fragment coalescing thresholds.
type CoalesceConfig struct {
	// MaxFragments triggers an immediate flush once this many fragments are
	// buffered. Zero means 3.
	MaxFragments int `yaml:"max_fragments"`

	// FlushAfter flushes the buffer after this long without a new fragment.
	// Zero means 100ms.
	FlushAfter Duration `yaml:"flush_after"`
}
