// Package microenv holds the shared extracellular field: one concentration
// per density channel per voxel.
//
// Every voxel has its own lock, so agents in different voxels never contend
// and agents sharing a voxel apply their deltas one at a time.
package microenv

import (
	"fmt"
	"sync"

	opensimplex "github.com/ojrac/opensimplex-go"
	"gonum.org/v1/gonum/floats"

	"github.com/san-kum/cellode/internal/dynamo"
)

type Microenvironment struct {
	names       []string
	index       map[string]int
	voxels      int
	voxelVolume float64

	data  []float64 // voxel-major: data[v*len(names)+c]
	locks []sync.Mutex
}

func New(names []string, voxels int, voxelVolume float64) (*Microenvironment, error) {
	if voxels <= 0 {
		return nil, fmt.Errorf("microenvironment needs at least one voxel, got %d", voxels)
	}
	if voxelVolume <= 0 {
		return nil, fmt.Errorf("voxel volume must be positive, got %g", voxelVolume)
	}

	m := &Microenvironment{
		names:       append([]string(nil), names...),
		index:       make(map[string]int, len(names)),
		voxels:      voxels,
		voxelVolume: voxelVolume,
		data:        make([]float64, voxels*len(names)),
		locks:       make([]sync.Mutex, voxels),
	}
	for i, name := range names {
		if _, dup := m.index[name]; dup {
			return nil, fmt.Errorf("duplicate density %q", name)
		}
		m.index[name] = i
	}
	return m, nil
}

func (m *Microenvironment) DensityNames() []string { return m.names }

func (m *Microenvironment) NumDensities() int { return len(m.names) }

func (m *Microenvironment) NumVoxels() int { return m.voxels }

func (m *Microenvironment) VoxelVolume() float64 { return m.voxelVolume }

// FindDensityIndex returns the channel of name, or -1.
func (m *Microenvironment) FindDensityIndex(name string) int {
	if i, ok := m.index[name]; ok {
		return i
	}
	return -1
}

func (m *Microenvironment) voxel(v int) ([]float64, error) {
	if v < 0 || v >= m.voxels {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", dynamo.ErrVoxelOutOfRange, v, m.voxels)
	}
	n := len(m.names)
	return m.data[v*n : (v+1)*n], nil
}

// ReadLocal copies the concentrations at voxel v into dst.
func (m *Microenvironment) ReadLocal(v int, dst []float64) error {
	cell, err := m.voxel(v)
	if err != nil {
		return err
	}
	if len(dst) != len(cell) {
		return &dynamo.SizeMismatchError{What: "field reading", Got: len(dst), Want: len(cell)}
	}

	m.locks[v].Lock()
	copy(dst, cell)
	m.locks[v].Unlock()
	return nil
}

// AccumulateLocal adds delta to the concentrations at voxel v.
func (m *Microenvironment) AccumulateLocal(v int, delta []float64) error {
	cell, err := m.voxel(v)
	if err != nil {
		return err
	}
	if len(delta) != len(cell) {
		return &dynamo.SizeMismatchError{What: "field delta", Got: len(delta), Want: len(cell)}
	}

	m.locks[v].Lock()
	floats.Add(cell, delta)
	m.locks[v].Unlock()
	return nil
}

func (m *Microenvironment) At(v, channel int) float64 {
	cell, err := m.voxel(v)
	if err != nil || channel < 0 || channel >= len(cell) {
		return 0
	}
	m.locks[v].Lock()
	defer m.locks[v].Unlock()
	return cell[channel]
}

func (m *Microenvironment) Set(v, channel int, value float64) error {
	cell, err := m.voxel(v)
	if err != nil {
		return err
	}
	if channel < 0 || channel >= len(cell) {
		return fmt.Errorf("channel %d out of range", channel)
	}
	m.locks[v].Lock()
	cell[channel] = value
	m.locks[v].Unlock()
	return nil
}

// Fill sets channel to value in every voxel.
func (m *Microenvironment) Fill(channel int, value float64) error {
	for v := 0; v < m.voxels; v++ {
		if err := m.Set(v, channel, value); err != nil {
			return err
		}
	}
	return nil
}

// SeedNoise sets channel to base*(1 + amplitude*n) where n in [-1, 1] comes
// from 2-D simplex noise along the voxel row.
func (m *Microenvironment) SeedNoise(channel int, base, amplitude, scale float64, seed int64) error {
	noise := opensimplex.NewNormalized(seed)
	if scale <= 0 {
		scale = 1
	}
	for v := 0; v < m.voxels; v++ {
		n := 2*noise.Eval2(float64(v)*scale, float64(channel)*7.31) - 1
		if err := m.Set(v, channel, base*(1+amplitude*n)); err != nil {
			return err
		}
	}
	return nil
}

// Totals returns the amount of each channel in the field: the sum of
// concentrations times the voxel volume.
func (m *Microenvironment) Totals() dynamo.State {
	totals := make(dynamo.State, len(m.names))
	n := len(m.names)
	for v := 0; v < m.voxels; v++ {
		m.locks[v].Lock()
		floats.Add(totals, m.data[v*n:(v+1)*n])
		m.locks[v].Unlock()
	}
	floats.Scale(m.voxelVolume, totals)
	return totals
}
