package integrators

import (
	"errors"
	"math"
	"testing"

	"github.com/san-kum/cellode/internal/dynamo"
)

type decayDynamics struct {
	rate float64
}

func (d *decayDynamics) Dim() int { return 1 }

func (d *decayDynamics) Derive(x, dxdt dynamo.State, t float64) {
	dxdt[0] = -d.rate * x[0]
}

type constantDynamics struct {
	slope []float64
}

func (c *constantDynamics) Dim() int { return len(c.slope) }

func (c *constantDynamics) Derive(x, dxdt dynamo.State, t float64) {
	copy(dxdt, c.slope)
}

func TestIntegrate_ExponentialDecay(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			stepper, err := New(name)
			if err != nil {
				t.Fatal(err)
			}

			x := dynamo.State{1.0}
			stats, err := Integrate(stepper, &decayDynamics{rate: 1}, x, 0, 1, 0.001, DefaultOptions())
			if err != nil {
				t.Fatalf("integrate failed: %v", err)
			}

			tol := 1e-5
			if name == "euler" {
				tol = 1e-3
			}
			if math.Abs(x[0]-math.Exp(-1)) > tol {
				t.Errorf("got %.8f, want %.8f", x[0], math.Exp(-1))
			}
			if stats.Steps == 0 || stats.Evaluations == 0 {
				t.Errorf("expected work to be recorded, got %+v", stats)
			}
			if stats.EndTime != 1 {
				t.Errorf("expected end time 1, got %f", stats.EndTime)
			}
		})
	}
}

func TestIntegrate_ConstantSlope(t *testing.T) {
	x := dynamo.State{10, 5}
	_, err := Integrate(NewRK45(), &constantDynamics{slope: []float64{0, -1}}, x, 0, 1, 0.01, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}

	if x[0] != 10 {
		t.Errorf("zero-slope entry drifted: %v", x[0])
	}
	if math.Abs(x[1]-4.0) > 1e-9 {
		t.Errorf("expected 4.0, got %.12f", x[1])
	}
}

func TestIntegrate_FixedStepHitsEndTime(t *testing.T) {
	x := dynamo.State{0}
	stats, err := Integrate(NewRK4(), &constantDynamics{slope: []float64{1}}, x, 0, 0.25, 0.1, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}

	if stats.Steps != 3 {
		t.Errorf("expected 3 steps (0.1, 0.1, 0.05), got %d", stats.Steps)
	}
	if math.Abs(stats.LastDt-0.05) > 1e-12 {
		t.Errorf("expected truncated final step 0.05, got %g", stats.LastDt)
	}
	if math.Abs(x[0]-0.25) > 1e-12 {
		t.Errorf("expected 0.25, got %.12f", x[0])
	}
}

func TestIntegrate_AdaptiveRejectsThenRecovers(t *testing.T) {
	x := dynamo.State{1.0}
	stats, err := Integrate(NewRK45(), &decayDynamics{rate: 20}, x, 0, 1, 0.5, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}

	if stats.Rejected == 0 {
		t.Error("expected the oversized initial step to be rejected")
	}
	if math.Abs(x[0]-math.Exp(-20)) > 1e-6 {
		t.Errorf("got %.10g, want %.10g", x[0], math.Exp(-20))
	}
}

func TestIntegrate_EmptyInterval(t *testing.T) {
	x := dynamo.State{3}
	stats, err := Integrate(NewRK45(), &decayDynamics{rate: 1}, x, 1, 1, 0.01, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Steps != 0 || x[0] != 3 {
		t.Errorf("empty interval should be a no-op, got %+v x=%v", stats, x)
	}
}

func TestIntegrate_InvalidInput(t *testing.T) {
	x := dynamo.State{1}
	if _, err := Integrate(NewRK4(), &decayDynamics{rate: 1}, x, 0, 1, 0, DefaultOptions()); err == nil {
		t.Error("expected error for zero dt")
	}

	_, err := Integrate(NewRK4(), &decayDynamics{rate: 1}, dynamo.State{1, 2}, 0, 1, 0.1, DefaultOptions())
	if !errors.Is(err, dynamo.ErrSizeMismatch) {
		t.Errorf("expected ErrSizeMismatch, got %v", err)
	}
}

func TestIntegrate_StepBudget(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxSteps = 5

	_, err := Integrate(NewRK45(), &decayDynamics{rate: 1}, dynamo.State{1}, 0, 100, 0.01, opts)
	if !errors.Is(err, dynamo.ErrTooManySteps) {
		t.Fatalf("expected ErrTooManySteps, got %v", err)
	}

	var simErr *dynamo.SimulationError
	if !errors.As(err, &simErr) || simErr.Step > 5 {
		t.Errorf("expected SimulationError within 5 steps, got %v", err)
	}
}

func TestIntegrate_FixedStepsIgnoreBudget(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxSteps = 5

	for _, name := range []string{"euler", "rk4"} {
		t.Run(name, func(t *testing.T) {
			stepper, _ := New(name)
			x := dynamo.State{0}
			stats, err := Integrate(stepper, &constantDynamics{slope: []float64{-1}}, x, 0, 1500, 0.01, opts)
			if err != nil {
				t.Fatalf("long fixed-step interval failed: %v", err)
			}
			if stats.Steps < 150000 {
				t.Errorf("expected at least 150000 steps, got %d", stats.Steps)
			}
			if math.Abs(x[0]+1500) > 1e-6 {
				t.Errorf("got %f, want -1500", x[0])
			}
		})
	}
}

func TestNew_Unknown(t *testing.T) {
	if _, err := New("verlet"); err == nil {
		t.Error("expected error for unknown integrator")
	}
}
