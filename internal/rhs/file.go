package rhs

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/cellode/internal/dynamo"
)

// Spec is the content of a model-definition file:
//
//	ode_definition:
//	  model: exchange
//	  parameters:
//	    permeability: 0.5
//	  indexed_parameters:
//	    1: -1.0
type Spec struct {
	Model             string             `yaml:"model"`
	Parameters        map[string]float64 `yaml:"parameters"`
	IndexedParameters map[int]float64    `yaml:"indexed_parameters"`
}

type file struct {
	Definition *Spec `yaml:"ode_definition"`
}

func LoadFile(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &dynamo.ConfigError{Section: "model_file", Key: path, Err: fmt.Errorf("%w: %v", dynamo.ErrModelDefinition, err)}
	}
	spec, err := Parse(data)
	if err != nil {
		return nil, &dynamo.ConfigError{Section: "model_file", Key: path, Err: err}
	}
	return spec, nil
}

func Parse(data []byte) (*Spec, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", dynamo.ErrModelDefinition, err)
	}
	if f.Definition == nil {
		return nil, fmt.Errorf("%w: missing ode_definition", dynamo.ErrModelDefinition)
	}
	if f.Definition.Model == "" {
		return nil, fmt.Errorf("%w: missing model name", dynamo.ErrModelDefinition)
	}
	if _, ok := Lookup(f.Definition.Model); !ok {
		return nil, fmt.Errorf("%w: unknown model %q", dynamo.ErrModelDefinition, f.Definition.Model)
	}
	return f.Definition, nil
}

// Merge overlays named and indexed parameters on s, replacing existing keys.
func (s *Spec) Merge(named map[string]float64, indexed map[int]float64) {
	if len(named) > 0 && s.Parameters == nil {
		s.Parameters = make(map[string]float64, len(named))
	}
	for k, v := range named {
		s.Parameters[k] = v
	}
	if len(indexed) > 0 && s.IndexedParameters == nil {
		s.IndexedParameters = make(map[int]float64, len(indexed))
	}
	for id, v := range indexed {
		s.IndexedParameters[id] = v
	}
}

func (s *Spec) Build() (*Definition, error) {
	return Build(s.Model, s.Parameters, s.IndexedParameters)
}
