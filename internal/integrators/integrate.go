package integrators

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/san-kum/cellode/internal/dynamo"
)

// Stats describes the work done by one call to Integrate.
type Stats struct {
	Steps       int
	Rejected    int
	Evaluations int
	LastDt      float64
	EndTime     float64
}

type Options struct {
	// Tolerance enables error control for adaptive steppers. Zero forces
	// fixed steps of the hinted size even for adaptive steppers.
	Tolerance float64
	MinDt     float64
	// MaxSteps caps accepted plus rejected adaptive steps. Fixed steppers
	// take ceil((t1-t0)/dt) steps and are not capped.
	MaxSteps int
}

func DefaultOptions() Options {
	return Options{
		Tolerance: DefaultTolerance,
		MinDt:     1e-12,
		MaxSteps:  100000,
	}
}

// counted wraps a system to count right-hand side evaluations.
type counted struct {
	sys   dynamo.System
	calls int
}

func (c *counted) Derive(x, dxdt dynamo.State, t float64) {
	c.calls++
	c.sys.Derive(x, dxdt, t)
}

func (c *counted) Dim() int { return c.sys.Dim() }

// Integrate advances x in place from t0 to t1 using dt as the (initial) step
// size. Adaptive steppers adjust the step under opts.Tolerance; fixed
// steppers shorten only the final step so the end time is hit exactly.
func Integrate(stepper dynamo.Integrator, sys dynamo.System, x dynamo.State, t0, t1, dt float64, opts Options) (Stats, error) {
	stats := Stats{EndTime: t0}
	if t1 <= t0 {
		return stats, nil
	}
	if dt <= 0 || math.IsNaN(dt) {
		return stats, fmt.Errorf("integrate: step size must be positive, got %g", dt)
	}
	if len(x) != sys.Dim() {
		return stats, &dynamo.SizeMismatchError{What: "state", Got: len(x), Want: sys.Dim()}
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultOptions().MaxSteps
	}

	c := &counted{sys: sys}
	var err error
	if adaptive, ok := stepper.(dynamo.AdaptiveIntegrator); ok && opts.Tolerance > 0 {
		err = integrateAdaptive(adaptive, c, x, t0, t1, dt, opts, &stats)
	} else {
		err = integrateFixed(stepper, c, x, t0, t1, dt, &stats)
	}
	stats.Evaluations = c.calls
	return stats, err
}

func remaining(t, t1 float64) float64 {
	left := t1 - t
	if left <= 1e-12*math.Max(1, math.Abs(t1)) {
		return 0
	}
	return left
}

func integrateFixed(stepper dynamo.Integrator, sys dynamo.System, x dynamo.State, t0, t1, dt float64, stats *Stats) error {
	t := t0
	for {
		left := remaining(t, t1)
		if left == 0 {
			break
		}
		h := math.Min(dt, left)
		copy(x, stepper.Step(sys, x, t, h))
		t += h
		stats.Steps++
		stats.LastDt = h
	}
	stats.EndTime = t1
	return nil
}

func integrateAdaptive(stepper dynamo.AdaptiveIntegrator, sys dynamo.System, x dynamo.State, t0, t1, dt float64, opts Options, stats *Stats) error {
	t := t0
	h := dt
	for {
		left := remaining(t, t1)
		if left == 0 {
			break
		}
		if stats.Steps+stats.Rejected >= opts.MaxSteps {
			return &dynamo.SimulationError{Step: stats.Steps, Time: t, State: x.Clone(), Wrapped: dynamo.ErrTooManySteps}
		}

		try := math.Min(h, left)
		next, hNext, err := stepper.StepAdaptive(sys, x, t, try, opts.Tolerance)
		if errors.Is(err, dynamo.ErrStepRejected) {
			stats.Rejected++
			if hNext < opts.MinDt {
				return &dynamo.SimulationError{Step: stats.Steps, Time: t, State: x.Clone(), Wrapped: dynamo.ErrStepTooSmall}
			}
			h = hNext
			continue
		}
		if err != nil {
			return &dynamo.SimulationError{Step: stats.Steps, Time: t, State: x.Clone(), Wrapped: err}
		}

		copy(x, next)
		t += try
		stats.Steps++
		stats.LastDt = try
		// a truncated final step says nothing about the step the system tolerates
		if try == h {
			h = hNext
		}
	}
	stats.EndTime = t1
	return nil
}

var registry = map[string]func() dynamo.Integrator{
	"euler": func() dynamo.Integrator { return NewEuler() },
	"rk4":   func() dynamo.Integrator { return NewRK4() },
	"rk45":  func() dynamo.Integrator { return NewRK45() },
}

// New returns a fresh stepper by name. Steppers keep scratch buffers and must
// not be shared between goroutines.
func New(name string) (dynamo.Integrator, error) {
	fn, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown integrator: %s", name)
	}
	return fn(), nil
}

func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
