package ratelimiter

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LimitsFile is the YAML layout of per-class overrides:
//
//	window: 60s
//	limits:
//	  1: 1000
//	  4: 5
type LimitsFile struct {
	Window time.Duration `yaml:"window"`
	Limits Limits        `yaml:"limits"`
}

// LoadLimits reads per-class overrides from a YAML file.
func LoadLimits(path string) (*LimitsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rate limits file: %w", err)
	}
	return ParseLimits(data)
}

// ParseLimits decodes per-class overrides from YAML.
func ParseLimits(data []byte) (*LimitsFile, error) {
	var f LimitsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if f.Window < 0 {
		return nil, fmt.Errorf("%w: window must be positive, got %v", ErrInvalidConfig, f.Window)
	}
	for class := range f.Limits {
		if class < 1 || class > 5 {
			return nil, fmt.Errorf("%w: priority class %d out of range", ErrInvalidConfig, class)
		}
	}

	return &f, nil
}
