package rhs

import (
	"fmt"
	"sort"
	"sync"

	"github.com/san-kum/cellode/internal/dynamo"
)

var (
	mu     sync.RWMutex
	bodies = map[string]Func{
		"zero":     Zero,
		"constant": Constant,
		"decay":    Decay,
		"exchange": Exchange,
	}
)

// Zero leaves every entry unchanged.
func Zero(d *Definition, x, dxdt dynamo.State, t float64) {}

// Constant sets dx[i] = PID(i).
func Constant(d *Definition, x, dxdt dynamo.State, t float64) {
	for i := range dxdt {
		dxdt[i] = d.PID(i)
	}
}

// Decay removes internal species at rate P("decay"). External entries are untouched.
func Decay(d *Definition, x, dxdt dynamo.State, t float64) {
	k := d.P("decay")
	for i := d.NExt; i < len(x); i++ {
		dxdt[i] = -k * x[i]
	}
}

// Exchange is passive membrane transport between each field channel and its
// coupled internal slot:
//
//	flux       = permeability * (ext - int)
//	d(int)/dt  = flux
//	d(ext)/dt  = -flux * volume_ratio
//
// volume_ratio is cell volume over voxel volume, which makes the exchange
// mass conserving. Internal-only species decay at P("decay").
func Exchange(d *Definition, x, dxdt dynamo.State, t float64) {
	k := d.P("permeability")
	ratio := d.P("volume_ratio")
	decay := d.P("decay")

	for j := 0; j < d.NExt && d.NExt+j < len(x); j++ {
		flux := k * (x[j] - x[d.NExt+j])
		dxdt[d.NExt+j] = flux
		dxdt[j] = -flux * ratio
	}
	for i := 2 * d.NExt; i < len(x); i++ {
		dxdt[i] = -decay * x[i]
	}
}

// Register adds a hand-written model body under name.
func Register(name string, body Func) error {
	mu.Lock()
	defer mu.Unlock()

	if _, ok := bodies[name]; ok {
		return fmt.Errorf("model %q already registered", name)
	}
	bodies[name] = body
	return nil
}

func Lookup(name string) (Func, bool) {
	mu.RLock()
	defer mu.RUnlock()
	fn, ok := bodies[name]
	return fn, ok
}

func Models() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(bodies))
	for name := range bodies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build resolves a model body by name and pre-populates its parameters.
func Build(name string, named map[string]float64, indexed map[int]float64) (*Definition, error) {
	body, ok := Lookup(name)
	if !ok {
		return nil, &dynamo.ConfigError{Section: "model", Key: name, Err: dynamo.ErrModelDefinition}
	}

	d := NewDefinition(name, body)
	for k, v := range named {
		d.SetParameter(k, v)
	}
	for id, v := range indexed {
		if id < 0 {
			return nil, &dynamo.ConfigError{Section: "model", Key: fmt.Sprint(id), Err: dynamo.ErrModelDefinition}
		}
		d.SetParameterID(id, v)
	}
	return d, nil
}
