// config/overlay.go
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// OverlayOverrides appends the curation lists from overridesPath to cfg.
// The file has the same shape as the overrides section of the config.
func OverlayOverrides(cfg *Config, overridesPath string) error {
	b, err := os.ReadFile(overridesPath)
	if err != nil {
		// Missing overrides file should not kill startup
		return nil
	}

	var of Overrides
	if err := yaml.Unmarshal(b, &of); err != nil {
		return err
	}

	cfg.Overrides.Keep = append(cfg.Overrides.Keep, of.Keep...)
	cfg.Overrides.Deny = append(cfg.Overrides.Deny, of.Deny...)
	cfg.Overrides.Orgs = append(cfg.Overrides.Orgs, of.Orgs...)
	return nil
}
