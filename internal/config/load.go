package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	cfg, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Decode parses a YAML or JSON configuration document. The services key is
// required; an empty list is a valid realm.
func Decode(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty configuration document")
		}
		return nil, err
	}
	if err := requireServices(raw); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func requireServices(raw []byte) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return errors.New("empty configuration document")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: configuration must be a mapping, got %s", root.Line, root.ShortTag())
	}
	present := map[string]*yaml.Node{}
	for i := 0; i+1 < len(root.Content); i += 2 {
		present[root.Content[i].Value] = root.Content[i+1]
	}
	return requireField(root, present, "services")
}

// ReadRealm decodes a configuration document and returns only its realm.
func ReadRealm(r io.Reader) (*Realm, error) {
	cfg, err := Decode(r)
	if err != nil {
		return nil, err
	}
	return &cfg.Realm, nil
}

// Validate checks the realm and the driver settings.
func (c *Config) Validate() error {
	if err := c.Realm.Validate(); err != nil {
		return err
	}
	if c.Engine.Concurrency != nil && *c.Engine.Concurrency < 1 {
		return fmt.Errorf("engine.concurrency must be at least 1, got %d", *c.Engine.Concurrency)
	}
	if c.Engine.Timeout.Set && c.Engine.Timeout.Duration <= 0 {
		return fmt.Errorf("engine.timeout must be positive")
	}
	if c.Engine.Retries != nil && *c.Engine.Retries < 0 {
		return fmt.Errorf("engine.retries must not be negative")
	}
	if c.Engine.Backoff.Set && c.Engine.Backoff.Duration < 0 {
		return fmt.Errorf("engine.backoff must not be negative")
	}
	if strings.TrimSpace(c.Schedule) != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			return fmt.Errorf("parse schedule %q: %w", c.Schedule, err)
		}
	}
	for key, spec := range c.Secrets {
		switch spec.Source {
		case "env", "file":
		default:
			return fmt.Errorf("unsupported secret source %q for secret %q", spec.Source, key)
		}
	}
	seen := make(map[string]bool, len(c.Notifiers))
	for i, n := range c.Notifiers {
		if n.ID == "" {
			return fmt.Errorf("notifiers[%d]: id is required", i)
		}
		if seen[n.ID] {
			return fmt.Errorf("notifiers[%d]: duplicate notifier %q", i, n.ID)
		}
		seen[n.ID] = true
	}
	return nil
}
