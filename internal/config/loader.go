package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// Loader handles configuration loading and parsing.
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads and parses a configuration file.
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return l.Parse(data)
}

// Parse parses configuration from YAML bytes.
func (l *Loader) Parse(data []byte) (*Config, error) {
	expanded := l.expandEnvVars(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values.
// Unset variables are left as-is.
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate checks the versioning catalog for startup-time errors so that
// misconfiguration fails the process instead of surprising a request.
func (l *Loader) validate(cfg *Config) error {
	v := &cfg.Versioning

	if len(v.Versions) == 0 {
		return fmt.Errorf("versioning: at least one version must be configured")
	}

	if v.AcceptPattern != "" && !strings.Contains(v.AcceptPattern, "{version}") {
		return fmt.Errorf("versioning: accept_pattern %q must contain {version} placeholder", v.AcceptPattern)
	}

	seen := make(map[string]bool, len(v.Versions))
	defaults := 0
	var defaultToken string
	for _, vc := range v.Versions {
		if vc.Version == "" {
			return fmt.Errorf("versioning: version entry with empty token")
		}
		if seen[vc.Version] {
			return fmt.Errorf("versioning: duplicate version %q", vc.Version)
		}
		seen[vc.Version] = true

		status := vc.Status
		switch status {
		case "", "active", "deprecated", "sunset":
		default:
			return fmt.Errorf("versioning: version %q has unknown status %q", vc.Version, status)
		}
		if status == "sunset" && vc.Sunset == "" {
			return fmt.Errorf("versioning: version %q has status sunset but no sunset date", vc.Version)
		}
		for name, value := range map[string]string{"sunset": vc.Sunset, "deprecated_at": vc.DeprecatedAt} {
			if value == "" {
				continue
			}
			if _, err := time.Parse(time.RFC3339, value); err != nil {
				return fmt.Errorf("versioning: version %q has invalid %s %q: %w", vc.Version, name, value, err)
			}
		}
		if vc.Default {
			defaults++
			defaultToken = vc.Version
		}
	}

	if defaults != 1 {
		return fmt.Errorf("versioning: exactly one version must be marked default, got %d", defaults)
	}
	if v.DefaultVersion != "" && v.DefaultVersion != defaultToken {
		return fmt.Errorf("versioning: default_version %q does not match the entry marked default (%q)", v.DefaultVersion, defaultToken)
	}

	for feature := range v.Features {
		if !seen[feature] {
			return fmt.Errorf("versioning: features reference unknown version %q", feature)
		}
	}

	pairs := make(map[[2]string]bool, len(v.Migrations))
	for _, m := range v.Migrations {
		if !seen[m.From] {
			return fmt.Errorf("versioning: migration references unknown version %q", m.From)
		}
		if !seen[m.To] {
			return fmt.Errorf("versioning: migration references unknown version %q", m.To)
		}
		if m.From == m.To {
			return fmt.Errorf("versioning: migration %q->%q is a self edge", m.From, m.To)
		}
		pair := [2]string{m.From, m.To}
		if pairs[pair] {
			return fmt.Errorf("versioning: duplicate migration %q->%q", m.From, m.To)
		}
		pairs[pair] = true
	}

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server: invalid port %d", cfg.Server.Port)
	}

	return nil
}
