// Package coupling assembles the state vector handed to the integrator: the
// field concentrations at an agent's voxel followed by the agent's internal
// concentrations.
package coupling

import (
	"gonum.org/v1/gonum/floats"

	"github.com/san-kum/cellode/internal/dynamo"
)

// Vector is the combined external/internal state of one agent. It is owned
// by that agent and reused every step; its length is fixed at construction.
type Vector struct {
	nExt int
	nInt int
	data dynamo.State
}

func New(nExt, nInt int) *Vector {
	return &Vector{
		nExt: nExt,
		nInt: nInt,
		data: make(dynamo.State, nExt+nInt),
	}
}

func (v *Vector) NExt() int { return v.nExt }
func (v *Vector) NInt() int { return v.nInt }
func (v *Vector) Len() int  { return len(v.data) }

// State exposes the backing storage. The integrator advances it in place.
func (v *Vector) State() dynamo.State { return v.data }

func (v *Vector) External() dynamo.State { return v.data[:v.nExt] }

func (v *Vector) Internal() dynamo.State { return v.data[v.nExt:] }

// Merge copies the field reading into the first NExt entries and the
// internal values into the rest.
func (v *Vector) Merge(external, internal []float64) error {
	if len(external) != v.nExt {
		return &dynamo.SizeMismatchError{What: "field reading", Got: len(external), Want: v.nExt}
	}
	if len(internal) != v.nInt {
		return &dynamo.SizeMismatchError{What: "internal values", Got: len(internal), Want: v.nInt}
	}
	copy(v.data[:v.nExt], external)
	copy(v.data[v.nExt:], internal)
	return nil
}

// Split copies the internal part into internal and writes the change of the
// external part relative to original into delta.
func (v *Vector) Split(original, internal, delta []float64) error {
	if len(original) != v.nExt {
		return &dynamo.SizeMismatchError{What: "field reading", Got: len(original), Want: v.nExt}
	}
	if len(delta) != v.nExt {
		return &dynamo.SizeMismatchError{What: "external delta", Got: len(delta), Want: v.nExt}
	}
	if len(internal) != v.nInt {
		return &dynamo.SizeMismatchError{What: "internal values", Got: len(internal), Want: v.nInt}
	}
	copy(internal, v.data[v.nExt:])
	if v.nExt > 0 {
		floats.SubTo(delta, v.data[:v.nExt], original)
	}
	return nil
}
