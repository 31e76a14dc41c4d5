package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"kite-backfill/internal/model"
)

// Registry is the ordered instrument list of a run. It is read-only once
// loaded.
type Registry struct {
	Instruments []model.Instrument `yaml:"instruments"`
}

// DefaultRegistry holds the index instruments updated when no
// INSTRUMENTS_FILE is configured.
func DefaultRegistry() *Registry {
	return &Registry{Instruments: []model.Instrument{
		{Name: "NIFTY 50", Token: 256265},
		{Name: "BANKNIFTY", Token: 260105},
		{Name: "FINNIFTY", Token: 257801},
	}}
}

// LoadRegistry reads a YAML registry file; an empty path yields the
// default registry.
//
//	instruments:
//	  - name: NIFTY 50
//	    token: 256265
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		return DefaultRegistry(), nil
	}
	input, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: can't read instruments file", err)
	}
	return ParseRegistry(input)
}

// ParseRegistry decodes and validates a YAML registry.
func ParseRegistry(input []byte) (*Registry, error) {
	var r Registry
	if err := yaml.Unmarshal(input, &r); err != nil {
		return nil, fmt.Errorf("%w: can't unmarshal instruments", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate checks the registry: at least one instrument, unique names
// usable as directory names, positive tokens.
func (r *Registry) Validate() error {
	if len(r.Instruments) == 0 {
		return errors.New("empty instruments list")
	}
	seen := make(map[string]bool, len(r.Instruments))
	for i, inst := range r.Instruments {
		name := strings.TrimSpace(inst.Name)
		switch {
		case name == "":
			return fmt.Errorf("instrument %d: empty name", i)
		case name != inst.Name:
			return fmt.Errorf("instrument %q: leading or trailing space in name", inst.Name)
		case name == "." || name == ".." || strings.ContainsAny(name, `/\`):
			return fmt.Errorf("instrument %q: name must be a plain directory name", name)
		case inst.Token <= 0:
			return fmt.Errorf("instrument %q: token must be positive, got %d", name, inst.Token)
		case seen[name]:
			return fmt.Errorf("instrument %q: duplicate name", name)
		}
		seen[name] = true
	}
	return nil
}
