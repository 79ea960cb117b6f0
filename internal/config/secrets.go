package config

import (
	"fmt"
	"os"
	"strings"
)

// ResolveSecrets resolves secrets into a map.
func (c *Config) ResolveSecrets() (map[string]string, error) {
	resolved := make(map[string]string, len(c.Secrets))
	for key, spec := range c.Secrets {
		switch spec.Source {
		case "env":
			val, ok := os.LookupEnv(spec.Value)
			if !ok {
				return nil, fmt.Errorf("missing env var %q for secret %q", spec.Value, key)
			}
			resolved[key] = val
		case "file":
			data, err := os.ReadFile(spec.Value)
			if err != nil {
				return nil, fmt.Errorf("read secret %q: %w", key, err)
			}
			resolved[key] = strings.TrimSpace(string(data))
		default:
			return nil, fmt.Errorf("unsupported secret source %q for secret %q", spec.Source, key)
		}
	}
	return resolved, nil
}
