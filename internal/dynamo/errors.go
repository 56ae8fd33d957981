package dynamo

import (
	"errors"
	"fmt"
)

// Configuration errors. These are fatal for the agent type being built.
var (
	// ErrEmptySubstrate indicates a substrate entry without a field substrate name.
	ErrEmptySubstrate = errors.New("dynamo: no substrate name specified")

	// ErrDuplicateSpecies indicates two substrate entries share a species name.
	ErrDuplicateSpecies = errors.New("dynamo: duplicate species name")

	// ErrDuplicateSubstrate indicates two substrate entries share a substrate name.
	ErrDuplicateSubstrate = errors.New("dynamo: duplicate substrate name")

	// ErrDuplicateIndex indicates a substrate name resolves to more than one
	// index, which happens when two field channels share a name.
	ErrDuplicateIndex = errors.New("dynamo: duplicate substrate index")

	// ErrModelDefinition indicates a missing or malformed model definition.
	ErrModelDefinition = errors.New("dynamo: invalid model definition")

	// ErrInvalidConfig indicates an out-of-range configuration value.
	ErrInvalidConfig = errors.New("dynamo: invalid configuration")
)

// Runtime errors. These abort a single update and leave committed state alone.
var (
	// ErrSizeMismatch indicates a vector whose length disagrees with the model.
	ErrSizeMismatch = errors.New("dynamo: size mismatch")

	// ErrInvalidState indicates a state vector with NaN or Inf entries.
	ErrInvalidState = errors.New("dynamo: invalid state (NaN or Inf detected)")

	// ErrNonPositiveVolume indicates an agent volume that cannot convert totals.
	ErrNonPositiveVolume = errors.New("dynamo: agent volume must be positive")

	// ErrStepRejected is returned by adaptive steppers when the local error is too large.
	ErrStepRejected = errors.New("dynamo: step rejected by error control")

	// ErrStepTooSmall indicates adaptive timestep became too small.
	ErrStepTooSmall = errors.New("dynamo: adaptive timestep below minimum")

	// ErrTooManySteps indicates the integrator hit its step budget before the end time.
	ErrTooManySteps = errors.New("dynamo: step budget exhausted")

	// ErrVoxelOutOfRange indicates a voxel index outside the field.
	ErrVoxelOutOfRange = errors.New("dynamo: voxel index out of range")
)

// ConfigError reports a problem found while loading or building a model.
type ConfigError struct {
	Section string
	Key     string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s: %v", e.Section, e.Err)
	}
	return fmt.Sprintf("%s: %v: %q", e.Section, e.Err, e.Key)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// SizeMismatchError reports a vector of the wrong length at update time.
type SizeMismatchError struct {
	What string
	Got  int
	Want int
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("%s has length %d, want %d", e.What, e.Got, e.Want)
}

func (e *SizeMismatchError) Unwrap() error {
	return ErrSizeMismatch
}

// SimulationError wraps an error with simulation context.
type SimulationError struct {
	Step    int
	Time    float64
	State   State
	Wrapped error
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("step %d (t=%.4f): %v", e.Step, e.Time, e.Wrapped)
}

func (e *SimulationError) Unwrap() error {
	return e.Wrapped
}
