package vlm

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Config fasst Template und Standard-Optionen einer Session zusammen
type Config struct {
	Template Template `yaml:"template"`
	Options  Options  `yaml:",inline"`
}

// DefaultConfig liefert Template und Optionen von Nano-Omni-VLM
func DefaultConfig() Config {
	return Config{
		Template: DefaultTemplate(),
		Options:  DefaultOptions(),
	}
}

// LoadConfig liest eine YAML-Datei. Fehlende Schlüssel behalten ihre Standardwerte.
// Das Template wird erst in NewSession validiert.
func LoadConfig(path string) (Config, error) {
	return DefaultConfig().Overlay(path)
}

// Overlay liest eine YAML-Datei über c. Fehlende Schlüssel behalten die Werte aus c.
func (c Config) Overlay(path string) (Config, error) {
	c.Options.Stop = slices.Clone(c.Options.Stop)

	data, err := os.ReadFile(path)
	if err != nil {
		return c, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parse config %s: %w", path, err)
	}

	return c, nil
}
