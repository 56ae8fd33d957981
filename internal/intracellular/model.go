// Package intracellular couples an agent's internal species to the shared
// extracellular field. Each step reads the field at the agent's voxel,
// integrates the combined system over the step and writes the field's share
// of the change back as an additive delta.
package intracellular

// Field is the host's shared transport field.
type Field interface {
	// DensityNames lists the field channels in index order.
	DensityNames() []string
	ReadLocal(voxel int, dst []float64) error
	// AccumulateLocal adds delta to the voxel. Implementations must make
	// concurrent calls on one voxel additive.
	AccumulateLocal(voxel int, delta []float64) error
}

// Agent is what a model needs to know about the cell it runs in.
type Agent interface {
	VoxelIndex() int
	Volume() float64
	// InternalizedTotals is the agent's accumulator of absorbed amounts, one
	// entry per field channel. Only consulted when tracking is enabled.
	InternalizedTotals() []float64
}

// Model is an intracellular model attached to one agent.
type Model interface {
	Type() string

	// Start rebuilds sizing from the field and puts the model back into its
	// fresh state.
	Start() error
	NeedsUpdate() bool
	UpdateForAgent(agent Agent, t, dt float64) error

	Parameter(name string) float64
	SetParameter(name string, value float64)
	ParameterID(id int) float64
	SetParameterID(id int, value float64)

	InternalValue(substrate string) float64
	SetInternalValue(substrate string, value float64)
	InternalValueAt(index int) float64
	SetInternalValueAt(index int, value float64)
	InternalValues() []float64
	InternalNames() []string

	Clone() Model
}
