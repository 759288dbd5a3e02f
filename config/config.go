// Package config handles converter settings.
package config

import (
	"github.com/pkg/errors"
)

// Config holds all converter settings.
type Config struct {
	Scale   float32       `yaml:"scale"`
	Logging LoggingConfig `yaml:"logging"`
	GLTF    GLTFConfig    `yaml:"gltf"`
	XModel  XModelConfig  `yaml:"xmodel"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug|info|warn|error
	File  string `yaml:"file"`
}

// GLTFConfig holds glTF output settings.
type GLTFConfig struct {
	Binary        bool `yaml:"binary"` // .glb when the output has no extension
	MaxInfluences int  `yaml:"max_influences"`
}

// XModelConfig holds xmodel_export output settings.
type XModelConfig struct {
	DefaultMaterial string `yaml:"default_material"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Scale: 1.0,
		Logging: LoggingConfig{
			Level: "info",
		},
		GLTF: GLTFConfig{
			Binary:        true,
			MaxInfluences: 4,
		},
		XModel: XModelConfig{
			DefaultMaterial: "material",
		},
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Scale <= 0 {
		return errors.Errorf("scale must be positive: %v", c.Scale)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("unknown log level %q", c.Logging.Level)
	}
	if c.GLTF.MaxInfluences < 1 || c.GLTF.MaxInfluences > 4 {
		return errors.Errorf("gltf.max_influences must be 1..4: %d", c.GLTF.MaxInfluences)
	}
	if c.XModel.DefaultMaterial == "" {
		return errors.New("xmodel.default_material is empty")
	}
	return nil
}
