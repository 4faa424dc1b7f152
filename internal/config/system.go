package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/docscan/internal/core/recognition"
)

// SystemConfig is the engine tuning file (system_config.yml).
type SystemConfig struct {
	Detector struct {
		MaxSide int  `yaml:"max_side"`
		Refiner bool `yaml:"refiner"`
	} `yaml:"craft_net"`
	Recognition recognition.SplitConfig `yaml:"recognition"`
	Preprocess  struct {
		MaxSide int `yaml:"max_side"`
	} `yaml:"preprocess"`
}

func DefaultSystemConfig() SystemConfig {
	var cfg SystemConfig
	cfg.Detector.Refiner = true
	cfg.Recognition = recognition.DefaultSplitConfig()
	cfg.Preprocess.MaxSide = 1200
	return cfg
}

// LoadSystemConfig overlays the YAML file at path on base. Keys absent from the file keep
// their base values.
func LoadSystemConfig(path string, base SystemConfig) (SystemConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return SystemConfig{}, fmt.Errorf("read system config %s: %w", path, err)
	}
	out := base
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return SystemConfig{}, fmt.Errorf("parse system config %s: %w", path, err)
	}
	return out, nil
}
