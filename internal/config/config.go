// Package config loads the pipedb configuration file.
//
// The file is YAML (pipedb.yaml by default). A missing file yields the
// defaults. Environment variables override the file and command line flags
// override both; the latter is left to the caller.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file read when none is given.
const DefaultPath = "pipedb.yaml"

// Backend kinds.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendMongo  = "mongo"
)

// Config is the root of pipedb.yaml.
type Config struct {
	// Backend selects the store implementation: memory, file or mongo.
	Backend string `yaml:"backend" json:"backend" jsonschema:"enum=memory,enum=file,enum=mongo,default=file"`
	// LogLevel is one of debug, info, warn or error.
	LogLevel string      `yaml:"log_level" json:"log_level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error,default=info"`
	File     FileConfig  `yaml:"file" json:"file"`
	Mongo    MongoConfig `yaml:"mongo" json:"mongo"`
	Metrics  Metrics     `yaml:"metrics" json:"metrics"`
}

// FileConfig configures the file backend.
type FileConfig struct {
	// Root is the directory holding one sub-directory per purpose.
	Root string `yaml:"root" json:"root" jsonschema:"default=./data"`
	// History commits every mutation to a git repository at Root.
	History bool `yaml:"history" json:"history,omitempty"`
	// AuthorName and AuthorEmail sign history commits.
	AuthorName  string `yaml:"author_name" json:"author_name,omitempty"`
	AuthorEmail string `yaml:"author_email" json:"author_email,omitempty"`
}

// Validate checks the file backend settings.
func (f *FileConfig) Validate() error {
	if f.Root == "" {
		return errors.New("file.root is required")
	}
	if f.AuthorEmail != "" && !strings.Contains(f.AuthorEmail, "@") {
		return fmt.Errorf("file.author_email %q is not an email address", f.AuthorEmail)
	}
	return nil
}

// MongoConfig configures the mongo backend.
type MongoConfig struct {
	URI      string   `yaml:"uri" json:"uri" jsonschema:"default=mongodb://localhost:27017"`
	Database string   `yaml:"database" json:"database" jsonschema:"default=pipedb"`
	Timeout  Duration `yaml:"timeout" json:"timeout,omitempty" jsonschema:"type=string,example=10s"`
}

// Validate checks the mongo backend settings.
func (m *MongoConfig) Validate() error {
	if !strings.HasPrefix(m.URI, "mongodb://") && !strings.HasPrefix(m.URI, "mongodb+srv://") {
		return fmt.Errorf("mongo.uri %q must start with mongodb:// or mongodb+srv://", m.URI)
	}
	if m.Database == "" {
		return errors.New("mongo.database is required")
	}
	if m.Timeout < 0 {
		return errors.New("mongo.timeout must be non-negative")
	}
	return nil
}

// Metrics configures the prometheus endpoint served by the watch command.
type Metrics struct {
	// Addr is the listen address of /metrics. Empty disables it.
	Addr string `yaml:"addr" json:"addr,omitempty" jsonschema:"example=localhost:9090"`
}

// Duration is a time.Duration written as "10s" in YAML and JSON.
type Duration time.Duration

func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	v, err := time.ParseDuration(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Backend:  BackendFile,
		LogLevel: "info",
		File:     FileConfig{Root: "./data"},
		Mongo: MongoConfig{
			URI:      "mongodb://localhost:27017",
			Database: "pipedb",
			Timeout:  Duration(10 * time.Second),
		},
	}
}

// Validate checks the whole configuration. Only the selected backend's
// section is checked.
func (c *Config) Validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.Backend {
	case BackendMemory:
		return nil
	case BackendFile:
		return c.File.Validate()
	case BackendMongo:
		return c.Mongo.Validate()
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
}

// Load reads path on top of the defaults, then applies the environment and
// finally each override, in order. The result is validated once, after every
// layer. A missing file is not an error.
func Load(path string, overrides ...func(*Config)) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is chosen by the operator
	switch {
	case errors.Is(err, os.ErrNotExist):
		slog.Debug("No config file, using defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}
	cfg.applyEnv(os.LookupEnv)
	for _, o := range overrides {
		o(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	for name, dst := range map[string]*string{
		"PIPEDB_BACKEND":        &c.Backend,
		"PIPEDB_LOG_LEVEL":      &c.LogLevel,
		"PIPEDB_FILE_ROOT":      &c.File.Root,
		"PIPEDB_MONGO_URI":      &c.Mongo.URI,
		"PIPEDB_MONGO_DATABASE": &c.Mongo.Database,
		"PIPEDB_METRICS_ADDR":   &c.Metrics.Addr,
	} {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
}

// ParseLevel maps a log level name to its slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Schema returns the JSON Schema of Config.
func Schema() *jsonschema.Schema {
	r := jsonschema.Reflector{Anonymous: true, DoNotReference: true}
	s := r.Reflect(&Config{})
	s.Title = "pipedb configuration"
	return s
}
