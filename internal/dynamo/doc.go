// Package dynamo provides core primitives for integrating ordinary
// differential equations (ODEs) that couple agent-local chemistry to a
// shared transport field.
//
// The package defines the fundamental types shared by the rest of the module:
//
//   - [State]: vector of concentrations (or their derivatives)
//   - [System]: interface for ODE right-hand sides (dX/dt = f(X, t))
//   - [Integrator]: numerical stepper interface
//   - [AdaptiveIntegrator]: stepper with local error control
//   - [ScratchPool]: reusable zeroed scratch vectors, pooled per length
//
// # Example
//
//	def, _ := rhs.Build("decay", map[string]float64{"decay": 0.5}, nil)
//	def.NExt, def.NInt = 1, 2
//	x := dynamo.State{10, 5, 1}
//	stats, err := integrators.Integrate(integrators.NewRK45(), def, x, 0, 1, 0.01, integrators.DefaultOptions())
//
// # Errors
//
// Configuration problems are reported as [*ConfigError] and surface while a
// model is being built. Runtime problems during a single update are
// [*SizeMismatchError] or [*SimulationError]; they never leave partially
// written state behind.
package dynamo
