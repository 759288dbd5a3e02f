package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// FileName is looked up in the working directory when no other config file exists.
const FileName = "xmodelconv.yaml"

// Overrides are command line settings. Zero values keep the loaded value.
type Overrides struct {
	Scale    float32
	Debug    bool
	LogLevel string
	LogFile  string
}

// Load loads configuration with priority: defaults < file < overrides.
// configPath may be empty, then the file is searched next to input.
func Load(configPath, input string, o *Overrides) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		configPath = FindConfigFile(input)
	}
	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, errors.Wrapf(err, "loading config from %s", configPath)
		}
	}

	if o != nil {
		o.apply(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindConfigFile returns "<input without ext>.xmodelconv.yaml" or "./xmodelconv.yaml" if present.
func FindConfigFile(input string) string {
	var candidates []string
	if input != "" {
		candidates = append(candidates, strings.TrimSuffix(input, filepath.Ext(input))+"."+FileName)
	}
	candidates = append(candidates, FileName)

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadFromFile merges a YAML file into cfg. Unknown keys are rejected.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.UnmarshalStrict(data, cfg)
}

func (o *Overrides) apply(cfg *Config) {
	if o.Scale > 0 {
		cfg.Scale = o.Scale
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	if o.Debug {
		cfg.Logging.Level = "debug"
	}
	if o.LogFile != "" {
		cfg.Logging.File = o.LogFile
	}
}

// SaveTo writes the config to a specific path.
func (c *Config) SaveTo(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
