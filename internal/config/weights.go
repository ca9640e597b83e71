package config

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Weights is the versioned criterion-weight configuration. It is
// loaded from an explicit file, never from constants scattered in
// code, and is persisted with every run for reproducibility.
type Weights struct {
	Version int `yaml:"version"`
	// Criteria maps criterion name to its weight in the weighted
	// scoring variant. Criteria absent from the map weigh 0.
	Criteria map[string]float64 `yaml:"criteria"`
}

// LoadWeights reads a weight configuration from path.
func LoadWeights(path string) (*Weights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read weights %s", path)
	}
	var w Weights
	if err := yaml.Unmarshal(data, &w); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal weights")
	}
	if w.Version == 0 {
		return nil, eris.Errorf("config: weights file %s has no version", path)
	}
	return &w, nil
}

// Marshal renders the configuration back to YAML, as persisted
// alongside run output.
func (w *Weights) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(w)
	if err != nil {
		return nil, eris.Wrap(err, "config: marshal weights")
	}
	return data, nil
}
