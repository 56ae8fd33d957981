// Package rhs defines the right-hand side of the coupled intracellular ODE
// system and the catalogue of model bodies that can fill it in.
package rhs

import (
	"github.com/san-kum/cellode/internal/dynamo"
	"github.com/san-kum/cellode/internal/params"
)

// Func is a model body. It receives the combined state (external entries
// first, then internal) and writes derivatives into dxdt, which is zeroed
// beforehand. Bodies read constants through d.P and d.PID and must not
// modify x.
type Func func(d *Definition, x, dxdt dynamo.State, t float64)

// Definition is the derivative function of one agent type. It is shared
// read-only by every agent of that type; only parameter values change, and
// only through explicit Set calls.
type Definition struct {
	Name string
	NExt int
	NInt int

	params *params.Store
	body   Func
}

func NewDefinition(name string, body Func) *Definition {
	return &Definition{
		Name:   name,
		params: params.New(),
		body:   body,
	}
}

func (d *Definition) Params() *params.Store { return d.params }

func (d *Definition) P(name string) float64 { return d.params.Get(name) }

func (d *Definition) PID(id int) float64 { return d.params.GetID(id) }

func (d *Definition) SetParameter(name string, value float64) { d.params.Set(name, value) }

func (d *Definition) SetParameterID(id int, value float64) { d.params.SetID(id, value) }

// Initialized reports whether any parameter was ever set.
func (d *Definition) Initialized() bool { return d.params.Initialized() }

func (d *Definition) Dim() int { return d.NExt + d.NInt }

// Derive evaluates the model. Callers guarantee len(x) == len(dxdt) == Dim().
func (d *Definition) Derive(x, dxdt dynamo.State, t float64) {
	clear(dxdt)
	if d.body != nil {
		d.body(d, x, dxdt, t)
	}
}
