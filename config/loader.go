package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// envRefRe matches ${VAR} and ${VAR:-default} references.
var envRefRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// Load reads the configuration file at path, expands environment variable
// references, applies it over the defaults, and validates the result. An
// empty path returns the validated defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		expanded := ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ExpandEnv replaces ${VAR} and ${VAR:-default} references with values from
// the environment. An unset variable without a default expands to the empty
// string.
func ExpandEnv(s string) string {
	return envRefRe.ReplaceAllStringFunc(s, func(ref string) string {
		groups := envRefRe.FindStringSubmatch(ref)
		name := groups[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		if strings.Contains(ref, ":-") {
			return groups[2]
		}
		return ""
	})
}
