package schema

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// File is the on-disk shape of a schema definition.
type File struct {
	Name          string          `json:"name" yaml:"name" validate:"required"`
	NodeTypes     []*NodeType     `json:"node_types" yaml:"node_types" validate:"required,min=1,dive"`
	Relationships []*Relationship `json:"relationships,omitempty" yaml:"relationships,omitempty" validate:"dive"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadFile reads a YAML schema definition, validates it, and returns a
// populated open registry. The registry is left unsealed so callers can add
// further descriptors before mapping begins.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema file: %w", err)
	}
	return Parse(data)
}

// Parse builds a registry from YAML bytes.
func Parse(data []byte) (*Registry, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing schema: %w", err)
	}
	if err := validate.Struct(&f); err != nil {
		return nil, fmt.Errorf("invalid schema %q: %w", f.Name, err)
	}

	reg := NewRegistry()
	for _, nt := range f.NodeTypes {
		if err := reg.RegisterNodeType(nt); err != nil {
			return nil, err
		}
	}
	for _, rel := range f.Relationships {
		if err := reg.RegisterRelationship(rel); err != nil {
			return nil, err
		}
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return reg, nil
}
