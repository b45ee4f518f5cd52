package signal

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// WeightConfig is one indicator's contribution to the combined score, loaded from YAML. Adapted
// from internal/strategy.ConfigFile/LoadConfig's shape, repurposed from whole-strategy configs to
// per-indicator weights.
type WeightConfig struct {
	Name   string  `yaml:"name"`
	Weight float64 `yaml:"weight"`
}

// ConfigFile is the top-level YAML document SignalDetector loads at startup.
type ConfigFile struct {
	Indicators     []WeightConfig `yaml:"indicators"`
	ScoreThreshold float64        `yaml:"score_threshold"`
}

// LoadConfig reads and parses the indicator-weight YAML file at path.
func LoadConfig(path string) (*ConfigFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read indicator config: %w", err)
	}
	var cf ConfigFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse indicator config: %w", err)
	}
	if cf.ScoreThreshold == 0 {
		cf.ScoreThreshold = 0.6
	}
	return &cf, nil
}

// DefaultConfig returns the baseline equal-weighted RSI+MACD+Bollinger configuration used when no
// YAML file is supplied.
func DefaultConfig() *ConfigFile {
	return &ConfigFile{
		Indicators: []WeightConfig{
			{Name: "rsi", Weight: 1},
			{Name: "macd", Weight: 1},
			{Name: "bollinger", Weight: 1},
		},
		ScoreThreshold: 0.6,
	}
}
