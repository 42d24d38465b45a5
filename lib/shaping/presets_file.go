package shaping

import (
	"fmt"
	"os"

	"github.com/ghodss/yaml"
)

// presetFile is the on-disk format for site-specific presets:
//
//	presets:
//	  - names: [office-vpn, vpn]
//	    rate_kbps: 2000
//	    delay_ms: 40
//	    loss_pct: 0.1
type presetFile struct {
	Presets []Preset `json:"presets"`
}

// LoadPresetFile returns the built-in table extended with the presets
// defined in the YAML file at path. An empty path returns the built-in table.
func LoadPresetFile(path string) (*Table, error) {
	if path == "" {
		return DefaultTable(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read preset file: %w", err)
	}

	var f presetFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse preset file %s: %w", path, err)
	}

	t, err := DefaultTable().Extend(f.Presets...)
	if err != nil {
		return nil, fmt.Errorf("load presets from %s: %w", path, err)
	}
	return t, nil
}
