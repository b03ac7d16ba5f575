package config

import "time"

// Config is the root configuration for the palabrita API service.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Versioning VersioningConfig `yaml:"versioning"`
}

// ServerConfig defines HTTP listener settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LoggingConfig defines structured logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json (default) or console
}

// VersioningConfig defines the version catalog, negotiation channels,
// feature flags and migrations for the API compatibility layer.
type VersioningConfig struct {
	// DefaultVersion must match the single entry marked default below; it is
	// accepted here as a convenience and cross-checked during validation.
	DefaultVersion  string                     `yaml:"default_version"`
	HeaderName      string                     `yaml:"header_name"`      // default "X-API-Version"
	PathPrefix      string                     `yaml:"path_prefix"`      // default "/api/"
	AcceptPattern   string                     `yaml:"accept_pattern"`   // must contain {version}
	QueryParam      string                     `yaml:"query_param"`      // default "version"
	EnforceSunset   bool                       `yaml:"enforce_sunset"`   // refuse versions past sunset
	StrictMigration bool                       `yaml:"strict_migration"` // fail requests on missing migration path
	Versions        []VersionConfig            `yaml:"versions"`
	Features        map[string]map[string]bool `yaml:"features"`   // version -> feature path -> enabled
	Migrations      []MigrationConfig          `yaml:"migrations"` // declarative transform edges
}

// VersionConfig defines one registered API version. Order in the list is the
// registration order and therefore the version sequence.
type VersionConfig struct {
	Version        string `yaml:"version"`
	Status         string `yaml:"status"` // active (default), deprecated, sunset
	Default        bool   `yaml:"default"`
	DeprecatedAt   string `yaml:"deprecated_at"`   // RFC3339
	Sunset         string `yaml:"sunset"`          // RFC3339, required for status sunset
	MigrationGuide string `yaml:"migration_guide"` // URL for Link rel="deprecation"
}

// MigrationConfig defines one declarative transform edge between two
// versions, expressed as JSON field operations.
type MigrationConfig struct {
	From string   `yaml:"from"`
	To   string   `yaml:"to"`
	Ops  FieldOps `yaml:"ops"`
}

// FieldOps are declarative JSON payload operations, applied per group in a
// fixed order: set, default, copy, move, rename, remove. Paths are
// gjson/sjson dot paths.
type FieldOps struct {
	Set     map[string]any    `yaml:"set"`     // path -> value (overwrites)
	Default map[string]any    `yaml:"default"` // path -> value (only if absent)
	Copy    map[string]string `yaml:"copy"`    // source path -> destination path
	Move    map[string]string `yaml:"move"`    // source path -> destination path
	Rename  map[string]string `yaml:"rename"`  // old path -> new path
	Remove  []string          `yaml:"remove"`  // paths to delete
}

// DefaultConfig returns a config populated with defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
