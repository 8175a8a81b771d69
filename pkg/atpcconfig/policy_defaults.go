// Copyright 2025 ATEL Network
package atpcconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ScopeDefaults is the default constraint set minted for one named
// role when no explicit consent request overrides it.
type ScopeDefaults struct {
	Scopes      []string `yaml:"scopes"`
	RiskCeiling string   `yaml:"risk_ceiling"`
	MaxCalls    int      `yaml:"max_calls"`
	TTLSec      int      `yaml:"ttl_sec"`
}

// PolicyDefaults is the YAML-configured set of default consent grants
// per role: yaml.Unmarshal into a typed struct, then applyDefaults
// fills any gaps left by the file.
type PolicyDefaults struct {
	Roles map[string]ScopeDefaults `yaml:"roles"`
}

// LoadPolicyDefaults reads and parses a policy-defaults YAML file.
func LoadPolicyDefaults(path string) (*PolicyDefaults, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy defaults %s: %w", path, err)
	}

	var defaults PolicyDefaults
	if err := yaml.Unmarshal(data, &defaults); err != nil {
		return nil, fmt.Errorf("failed to parse policy defaults %s: %w", path, err)
	}
	defaults.applyDefaults()

	return &defaults, nil
}

// applyDefaults fills in a conservative fallback for any role missing
// explicit constraint values.
func (d *PolicyDefaults) applyDefaults() {
	for role, sd := range d.Roles {
		if sd.RiskCeiling == "" {
			sd.RiskCeiling = "low"
		}
		if sd.MaxCalls <= 0 {
			sd.MaxCalls = 10
		}
		if sd.TTLSec <= 0 {
			sd.TTLSec = 3600
		}
		d.Roles[role] = sd
	}
}

// For returns the default scope set for role, and whether one was
// configured.
func (d *PolicyDefaults) For(role string) (ScopeDefaults, bool) {
	sd, ok := d.Roles[role]
	return sd, ok
}
