package seed

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsData []byte

// Role is a role seeded by name.
type Role struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Account is a chart of accounts entry seeded by code.
type Account struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// Defaults is the reference data every installation starts with.
type Defaults struct {
	Roles    []Role    `yaml:"roles"`
	Accounts []Account `yaml:"accounts"`
}

// ParseDefaults decodes reference data from YAML.
func ParseDefaults(data []byte) (Defaults, error) {
	var d Defaults
	if err := yaml.Unmarshal(data, &d); err != nil {
		return Defaults{}, fmt.Errorf("failed to parse seed defaults: %w", err)
	}
	return d, nil
}

// BuiltinDefaults returns the reference data shipped with the binary.
func BuiltinDefaults() (Defaults, error) {
	return ParseDefaults(defaultsData)
}
