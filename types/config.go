// Package types holds configuration types for pipeline.yaml and the error
// and message values shared by every stage.
package types

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// PipelineConfig represents the top-level pipeline.yaml configuration.
type PipelineConfig struct {
	Name     string      `yaml:"name,omitempty"`
	Defaults Defaults    `yaml:"defaults,omitempty"`
	Filters  []FilterRef `yaml:"filters"`
}

// Defaults holds orchestration policy applied to every stage unless a stage
// overrides it in its own config.
type Defaults struct {
	StopTimeout    time.Duration `yaml:"stop_timeout,omitempty"`
	ConnectRetries int           `yaml:"connect_retries,omitempty"`
	ConnectBackoff time.Duration `yaml:"connect_backoff,omitempty"`
	MaxInFlight    int           `yaml:"max_in_flight,omitempty"`
}

// UnmarshalYAML accepts each duration as a Go duration string or as a bare
// number of seconds, the forms a stage's own stop_timeout takes.
func (d *Defaults) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		StopTimeout    any `yaml:"stop_timeout"`
		ConnectRetries int `yaml:"connect_retries"`
		ConnectBackoff any `yaml:"connect_backoff"`
		MaxInFlight    int `yaml:"max_in_flight"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	stop, err := DurationValue(raw.StopTimeout)
	if err != nil {
		return ConfigError("defaults.stop_timeout: %v", err)
	}
	backoff, err := DurationValue(raw.ConnectBackoff)
	if err != nil {
		return ConfigError("defaults.connect_backoff: %v", err)
	}
	*d = Defaults{
		StopTimeout:    stop,
		ConnectRetries: raw.ConnectRetries,
		ConnectBackoff: backoff,
		MaxInFlight:    raw.MaxInFlight,
	}
	return nil
}

// DurationValue converts a decoded config value to a duration. Strings use
// time.ParseDuration and numbers are seconds. nil yields zero.
func DurationValue(v any) (time.Duration, error) {
	switch d := v.(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return d, nil
	case string:
		return time.ParseDuration(d)
	case int:
		return time.Duration(d) * time.Second, nil
	case float64:
		return time.Duration(d * float64(time.Second)), nil
	}
	return 0, fmt.Errorf("expected duration, got %T", v)
}

// FilterRef pairs an implementation id with its configuration, mirroring the
// (implementation, options) tuples of a multi-filter run.
type FilterRef struct {
	Implementation string         `yaml:"implementation"`
	Config         map[string]any `yaml:"config,omitempty"`
}

// ID returns the configured stage id, or "" when absent.
func (f FilterRef) ID() string {
	if s, ok := f.Config["id"].(string); ok {
		return s
	}
	return ""
}

const (
	DefaultStopTimeout    = 5 * time.Second
	DefaultConnectRetries = 10
	DefaultConnectBackoff = 100 * time.Millisecond
)

// WithFallbacks returns d with zero values replaced by package defaults.
func (d Defaults) WithFallbacks() Defaults {
	if d.StopTimeout <= 0 {
		d.StopTimeout = DefaultStopTimeout
	}
	if d.ConnectRetries <= 0 {
		d.ConnectRetries = DefaultConnectRetries
	}
	if d.ConnectBackoff <= 0 {
		d.ConnectBackoff = DefaultConnectBackoff
	}
	return d
}

// ParsePipelineConfig parses raw YAML bytes into a PipelineConfig and validates required fields.
func ParsePipelineConfig(data []byte) (*PipelineConfig, error) {
	var cfg PipelineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing pipeline config: %w", err)
	}

	if len(cfg.Filters) == 0 {
		return nil, ConfigError("pipeline config: at least one filter is required")
	}
	for i, f := range cfg.Filters {
		if f.Implementation == "" {
			return nil, ConfigError("pipeline config: filters[%d]: implementation is required", i)
		}
	}

	return &cfg, nil
}

// MarshalPipelineConfig renders cfg back to YAML.
func MarshalPipelineConfig(cfg *PipelineConfig) ([]byte, error) {
	return yaml.Marshal(cfg)
}
