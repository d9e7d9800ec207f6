package model

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RegistryConfig is the YAML shape of a provider registry file
// (models.yaml).
type RegistryConfig struct {
	Order     []string                   `yaml:"order"`
	Providers map[string]*ProviderConfig `yaml:"providers"`
	Pricing   map[string]Pricing         `yaml:"pricing,omitempty"`
}

// LoadFromFile loads a provider registry from a YAML file.
func LoadFromFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry file: %w", err)
	}
	return LoadFromYAML(data)
}

// LoadFromYAML loads a provider registry from YAML data.
func LoadFromYAML(data []byte) (*Registry, error) {
	var cfg RegistryConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse registry config: %w", err)
	}
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("registry config defines no providers")
	}

	order := cfg.Order
	if len(order) == 0 {
		for name := range cfg.Providers {
			order = append(order, name)
		}
	}
	for _, name := range order {
		if _, ok := cfg.Providers[name]; !ok {
			return nil, fmt.Errorf("order names unknown provider %q", name)
		}
	}

	pricing := cfg.Pricing
	if pricing == nil {
		pricing = make(map[string]Pricing)
	}
	return NewRegistry(order, cfg.Providers, pricing), nil
}
