package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to allow YAML unmarshalling from strings.
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("duration must be a string, got %s", value.ShortTag())
	}
}

// NullableDuration allows distinguishing between zero and unset durations.
type NullableDuration struct {
	Duration time.Duration
	Set      bool
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *NullableDuration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode && (value.Tag == "!!null" || strings.TrimSpace(value.Value) == "") {
		d.Set = false
		return nil
	}
	var tmp Duration
	if err := value.Decode(&tmp); err != nil {
		return err
	}
	d.Duration = tmp.Duration
	d.Set = true
	return nil
}

// Config is the root configuration document: the monitored realm plus the
// optional settings used by the process that drives it.
type Config struct {
	Realm     `yaml:",inline"`
	Engine    EngineConfig          `yaml:"engine"`
	Schedule  string                `yaml:"schedule"`
	Secrets   map[string]SecretSpec `yaml:"secrets"`
	Notifiers []NotifierConfig      `yaml:"notifiers"`
}

// EngineConfig overrides execution parameters. Unset fields keep the engine
// defaults.
type EngineConfig struct {
	Concurrency *int             `yaml:"concurrency"`
	Timeout     NullableDuration `yaml:"timeout"`
	Retries     *int             `yaml:"retries"`
	Backoff     NullableDuration `yaml:"backoff"`
}

// SecretSpec defines how to resolve a secret.
type SecretSpec struct {
	Source string
	Value  string
}

// UnmarshalYAML parses secret definitions like "env:SMTP_PASSWORD".
func (s *SecretSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("secret must be scalar, got %s", value.ShortTag())
	}
	raw := strings.TrimSpace(value.Value)
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid secret spec %q", raw)
	}
	s.Source = strings.TrimSpace(parts[0])
	s.Value = strings.TrimSpace(parts[1])
	return nil
}

// NotifierConfig describes a notification endpoint.
type NotifierConfig struct {
	ID     string                 `yaml:"id"`
	Type   string                 `yaml:"type"`
	Config map[string]interface{} `yaml:"config"`
}
