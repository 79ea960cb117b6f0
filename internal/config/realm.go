package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/osbits/uptimer/internal/checks"
)

// Realm is the top level service holder.
type Realm struct {
	Services []Service `yaml:"services"`
}

// Service is something users wish to monitor: a set of checks run against
// each of its hosts. Names are not required to be unique.
type Service struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Tags        []string `yaml:"tags"`
	Checks      []Check  `yaml:"checks"`
	Hosts       []string `yaml:"hosts"`
}

var serviceFields = map[string]bool{
	"name":        true,
	"description": true,
	"tags":        true,
	"checks":      true,
	"hosts":       true,
}

// UnmarshalYAML rejects unknown fields and requires name, checks and hosts to
// be present. The lists may be empty but not absent or null.
func (s *Service) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: service must be a mapping, got %s", value.Line, value.ShortTag())
	}
	present := map[string]*yaml.Node{}
	for i := 0; i+1 < len(value.Content); i += 2 {
		key := value.Content[i]
		if !serviceFields[key.Value] {
			return fmt.Errorf("line %d: field %s not found in service", key.Line, key.Value)
		}
		present[key.Value] = value.Content[i+1]
	}

	type plain Service
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	for _, field := range []string{"name", "checks", "hosts"} {
		if err := requireField(value, present, field); err != nil {
			return fmt.Errorf("service %q: %w", p.Name, err)
		}
	}
	*s = Service(p)
	return nil
}

// requireField reports a missing or null key of mapping. Sequence fields must
// hold a sequence.
func requireField(mapping *yaml.Node, present map[string]*yaml.Node, field string) error {
	val, ok := present[field]
	if !ok {
		return fmt.Errorf("line %d: missing field %q", mapping.Line, field)
	}
	if val.Kind == yaml.ScalarNode && val.ShortTag() == "!!null" {
		return fmt.Errorf("line %d: field %q must not be null", val.Line, field)
	}
	if field != "name" && val.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: field %q must be a list, got %s", val.Line, field, val.ShortTag())
	}
	return nil
}

// Check is a named checker performed against each host of a service.
//
// The checker tag is a sibling of the name in the document:
//
//	name: ssh
//	tcp: {port: 22}
type Check struct {
	Name    string
	Checker checks.Checker
}

// UnmarshalYAML resolves the checker tag through the checker registry, so the
// resulting Check carries a ready-to-run Checker.
func (c *Check) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: check must be a mapping, got %s", value.Line, value.ShortTag())
	}
	reg := checks.Default()
	var (
		tag     string
		payload *yaml.Node
	)
	for i := 0; i+1 < len(value.Content); i += 2 {
		key, val := value.Content[i], value.Content[i+1]
		if key.Value == "name" {
			if err := val.Decode(&c.Name); err != nil {
				return fmt.Errorf("line %d: check name: %w", key.Line, err)
			}
			continue
		}
		if !reg.Has(key.Value) {
			return fmt.Errorf("line %d: %w %q (known: %s)", key.Line, checks.ErrUnknownChecker, key.Value, strings.Join(reg.Tags(), ", "))
		}
		if tag != "" {
			return fmt.Errorf("line %d: check declares both %q and %q", key.Line, tag, key.Value)
		}
		tag, payload = key.Value, val
	}
	if tag == "" {
		return fmt.Errorf("line %d: check %q has no checker (one of %s)", value.Line, c.Name, strings.Join(reg.Tags(), ", "))
	}

	var raw map[string]interface{}
	switch {
	case payload.Kind == yaml.MappingNode:
		if err := payload.Decode(&raw); err != nil {
			return fmt.Errorf("line %d: %s: %w", payload.Line, tag, err)
		}
	case payload.Kind == yaml.ScalarNode && payload.ShortTag() == "!!null":
	default:
		return fmt.Errorf("line %d: %s configuration must be a mapping, got %s", payload.Line, tag, payload.ShortTag())
	}
	checker, err := reg.Build(tag, raw)
	if err != nil {
		return fmt.Errorf("line %d: check %q: %w", value.Line, c.Name, err)
	}
	c.Checker = checker
	return nil
}

// Validate reports the first structural problem in the realm.
func (r *Realm) Validate() error {
	for i, svc := range r.Services {
		if strings.TrimSpace(svc.Name) == "" {
			return fmt.Errorf("services[%d]: name is required", i)
		}
		for j, chk := range svc.Checks {
			if strings.TrimSpace(chk.Name) == "" {
				return fmt.Errorf("services[%d] (%s): checks[%d]: name is required", i, svc.Name, j)
			}
			if chk.Checker == nil {
				return fmt.Errorf("services[%d] (%s): checks[%d] (%s): checker is required", i, svc.Name, j, chk.Name)
			}
		}
	}
	return nil
}

// WorkItems returns the number of (service, check, host) combinations.
func (r *Realm) WorkItems() int {
	n := 0
	for _, svc := range r.Services {
		n += len(svc.Checks) * len(svc.Hosts)
	}
	return n
}
