// Package substrates maps configured field substrates to internal species and
// to positions in an agent's internal value array.
//
// Indices are zero-based. The internal array starts with one slot per field
// channel, so a substrate that exists in the field shares its channel index.
// A substrate the field does not know is appended one past the current last
// index and is never exchanged with the field.
package substrates

import (
	"fmt"
	"sort"

	"github.com/san-kum/cellode/internal/config"
	"github.com/san-kum/cellode/internal/dynamo"
)

// Registry is immutable after Build and safe to share between agents.
type Registry struct {
	substrateToSpecies map[string]string
	speciesToIndex     map[string]int
	substrateToIndex   map[string]int
	indexToSubstrate   map[int]string
	densities          []string
}

// Build registers every entry against the field's density names and returns
// the registry together with the initial internal values.
func Build(entries []config.Substrate, densities []string) (*Registry, dynamo.State, error) {
	r := &Registry{
		substrateToSpecies: make(map[string]string, len(entries)),
		speciesToIndex:     make(map[string]int, len(entries)),
		substrateToIndex:   make(map[string]int, len(entries)),
		indexToSubstrate:   make(map[int]string, len(entries)),
		densities:          append([]string(nil), densities...),
	}

	fieldIndex := make(map[string]int, len(densities))
	for i, name := range densities {
		if _, dup := fieldIndex[name]; dup {
			return nil, nil, &dynamo.ConfigError{Section: "microenvironment", Key: name, Err: dynamo.ErrDuplicateIndex}
		}
		fieldIndex[name] = i
	}

	values := make(dynamo.State, len(densities))
	for n, e := range entries {
		if e.Substrate == "" {
			return nil, nil, &dynamo.ConfigError{Section: "substrates", Key: fmt.Sprintf("#%d", n), Err: dynamo.ErrEmptySubstrate}
		}

		id, ok := fieldIndex[e.Substrate]
		if !ok {
			id = len(values)
		}

		if _, dup := r.speciesToIndex[e.Species]; dup {
			return nil, nil, &dynamo.ConfigError{Section: "substrates", Key: e.Species, Err: dynamo.ErrDuplicateSpecies}
		}
		if _, dup := r.substrateToIndex[e.Substrate]; dup {
			return nil, nil, &dynamo.ConfigError{Section: "substrates", Key: e.Substrate, Err: dynamo.ErrDuplicateSubstrate}
		}

		r.substrateToSpecies[e.Substrate] = e.Species
		r.speciesToIndex[e.Species] = id
		r.substrateToIndex[e.Substrate] = id
		r.indexToSubstrate[id] = e.Substrate

		values = values.Grow(id + 1)
		if e.InitialCondition != nil {
			values[id] = *e.InitialCondition
		} else {
			values[id] = 0
		}
	}

	return r, values, nil
}

// Index returns the internal index of a substrate name.
func (r *Registry) Index(substrate string) (int, bool) {
	id, ok := r.substrateToIndex[substrate]
	return id, ok
}

func (r *Registry) SpeciesIndex(species string) (int, bool) {
	id, ok := r.speciesToIndex[species]
	return id, ok
}

func (r *Registry) Species(substrate string) (string, bool) {
	s, ok := r.substrateToSpecies[substrate]
	return s, ok
}

func (r *Registry) Substrate(index int) (string, bool) {
	s, ok := r.indexToSubstrate[index]
	return s, ok
}

// Coupled reports whether an internal index lines up with a field channel.
func (r *Registry) Coupled(index int) bool {
	return index >= 0 && index < len(r.densities)
}

// Len returns the number of configured substrates.
func (r *Registry) Len() int { return len(r.substrateToIndex) }

// Label names internal slot i: the configured substrate if any, else the
// field channel it mirrors, else a positional ".i".
func (r *Registry) Label(i int) string {
	if s, ok := r.indexToSubstrate[i]; ok {
		return s
	}
	if r.Coupled(i) {
		return r.densities[i]
	}
	return fmt.Sprintf(".%d", i)
}

// Mapping is one registered substrate, for listing.
type Mapping struct {
	Substrate string
	Species   string
	Index     int
	Coupled   bool
}

func (r *Registry) Mappings() []Mapping {
	out := make([]Mapping, 0, len(r.substrateToIndex))
	for sub, id := range r.substrateToIndex {
		out = append(out, Mapping{
			Substrate: sub,
			Species:   r.substrateToSpecies[sub],
			Index:     id,
			Coupled:   r.Coupled(id),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
