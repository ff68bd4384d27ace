// Package config loads the project configuration file, strata.yaml or
// strata.toml, and converts it into options for the other packages.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/Benny93/strata/internal/federation"
	"github.com/Benny93/strata/internal/graph"
	"github.com/Benny93/strata/internal/logging"
	"github.com/Benny93/strata/internal/query"
)

// FileNames are searched in this order by Find.
var FileNames = []string{"strata.yaml", "strata.yml", "strata.toml"}

// Config is the project configuration.
type Config struct {
	Bundles    BundlesConfig       `yaml:"bundles" toml:"bundles"`
	Storage    StorageConfig       `yaml:"storage" toml:"storage"`
	Rules      RulesConfig         `yaml:"rules" toml:"rules"`
	Federation federation.Settings `yaml:"federation" toml:"federation"`
	Query      QueryConfig         `yaml:"query" toml:"query"`
	Logging    LoggingConfig       `yaml:"logging" toml:"logging"`
}

// BundlesConfig locates fact bundle files.
type BundlesConfig struct {
	// Dir is walked recursively for *.yaml, *.yml and *.json bundles.
	Dir string `yaml:"dir" toml:"dir"`

	// Ignore holds gitignore-style patterns applied on top of any
	// .gitignore files found in Dir.
	Ignore []string `yaml:"ignore" toml:"ignore"`

	// Debounce delays watch-mode rebuilds after the last file event.
	Debounce time.Duration `yaml:"debounce" toml:"debounce"`
}

// StorageConfig locates the snapshot database.
type StorageConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// RulesConfig selects architecture rules.
type RulesConfig struct {
	// Files are merged over the built-in rules in order, by rule id.
	Files []string `yaml:"files" toml:"files"`

	// DisableDefaults starts from an empty rule set.
	DisableDefaults bool `yaml:"disableDefaults" toml:"disableDefaults"`
}

// QueryConfig tunes the analytical queries.
type QueryConfig struct {
	MaxDepth        int      `yaml:"maxDepth" toml:"maxDepth"`
	HubMultiplier   float64  `yaml:"hubMultiplier" toml:"hubMultiplier"`
	TopPercentile   float64  `yaml:"topPercentile" toml:"topPercentile"`
	EntryPointKinds []string `yaml:"entryPointKinds" toml:"entryPointKinds"`
	ExemptPublic    bool     `yaml:"exemptPublic" toml:"exemptPublic"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string         `yaml:"level" toml:"level"`
	Format logging.Format `yaml:"format" toml:"format"`
}

// Default returns the configuration used without a config file.
func Default() *Config {
	return &Config{
		Bundles: BundlesConfig{
			Dir:      "facts",
			Debounce: 500 * time.Millisecond,
		},
		Storage:    StorageConfig{Path: filepath.Join(".strata", "db")},
		Federation: federation.DefaultSettings(),
		Query: QueryConfig{
			MaxDepth:      5,
			HubMultiplier: query.DefaultHubMultiplier,
		},
		Logging: LoggingConfig{Level: "warn", Format: logging.FormatText},
	}
}

// Find returns the first config file present in dir, or "" if none is.
func Find(dir string) string {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// Load reads a YAML or TOML config file over the defaults. Relative paths
// inside it are resolved against the file's directory. Unknown keys are
// errors.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
		}
	default:
		return nil, fmt.Errorf("unsupported config file %s", path)
	}

	cfg.resolvePaths(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads path when set, otherwise the config found in dir,
// otherwise the defaults resolved against dir.
func LoadOrDefault(path, dir string) (*Config, error) {
	if path == "" {
		path = Find(dir)
	}
	if path != "" {
		return Load(path)
	}
	cfg := Default()
	cfg.resolvePaths(dir)
	return cfg, nil
}

func (c *Config) resolvePaths(base string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(base, p)
	}
	c.Bundles.Dir = abs(c.Bundles.Dir)
	c.Storage.Path = abs(c.Storage.Path)
	for i, f := range c.Rules.Files {
		c.Rules.Files[i] = abs(f)
	}
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Bundles.Dir == "" {
		errs = append(errs, errors.New("bundles.dir is empty"))
	}
	if c.Bundles.Debounce < 0 {
		errs = append(errs, fmt.Errorf("bundles.debounce %s is negative", c.Bundles.Debounce))
	}
	if c.Storage.Path == "" {
		errs = append(errs, errors.New("storage.path is empty"))
	}
	if err := c.Federation.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("federation: %w", err))
	}
	if c.Query.MaxDepth < 0 {
		errs = append(errs, fmt.Errorf("query.maxDepth %d is negative", c.Query.MaxDepth))
	}
	if c.Query.HubMultiplier < 0 {
		errs = append(errs, fmt.Errorf("query.hubMultiplier %v is negative", c.Query.HubMultiplier))
	}
	if p := c.Query.TopPercentile; p < 0 || p > 1 {
		errs = append(errs, fmt.Errorf("query.topPercentile %v is outside [0, 1]", p))
	}
	switch c.Logging.Format {
	case "", logging.FormatText, logging.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is not text or json", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// FederationOptions converts the federation section. The matcher and
// logger are left for the caller.
func (c *Config) FederationOptions() federation.Options {
	return c.Federation.Options()
}

// CentralityOptions converts the hub settings.
func (c *Config) CentralityOptions() query.CentralityOptions {
	return query.CentralityOptions{
		HubMultiplier: c.Query.HubMultiplier,
		TopPercentile: c.Query.TopPercentile,
	}
}

// OrphanOptions converts the orphan settings. Without configured kinds
// the query defaults apply.
func (c *Config) OrphanOptions() query.OrphanOptions {
	opts := query.OrphanOptions{ExemptPublic: c.Query.ExemptPublic}
	if c.Query.EntryPointKinds != nil {
		opts.EntryPointKinds = make([]graph.NodeKind, len(c.Query.EntryPointKinds))
		for i, k := range c.Query.EntryPointKinds {
			opts.EntryPointKinds[i] = graph.NodeKind(k)
		}
	}
	return opts
}
