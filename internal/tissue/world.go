// Package tissue is the host side of the simulation: an ECS world of cells,
// each carrying an intracellular model, placed in voxels of a shared field.
package tissue

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/mlange-42/ark/ecs"

	"github.com/san-kum/cellode/internal/dynamo"
	"github.com/san-kum/cellode/internal/intracellular"
	"github.com/san-kum/cellode/internal/microenv"
)

// minChunk is the smallest batch of cells handed to one worker.
const minChunk = 8

type Cell struct {
	ID    int
	Model intracellular.Model
}

type Voxel struct {
	Index int
}

type Volume struct {
	Total float64
}

// Molecular holds the amounts a cell has internalized, one per field channel.
type Molecular struct {
	Internalized []float64
}

type World struct {
	world  *ecs.World
	mapper *ecs.Map4[Cell, Voxel, Volume, Molecular]
	filter *ecs.Filter4[Cell, Voxel, Volume, Molecular]

	field   *microenv.Microenvironment
	pool    *dynamo.ScratchPool
	workers int
	logger  *slog.Logger
	nextID  int

	agents []agent
	errs   []error
}

// agent is the per-step view of one cell handed to its model. Internalized
// shares its backing array with the cell's Molecular component.
type agent struct {
	id           int
	model        intracellular.Model
	voxel        int
	volume       float64
	internalized []float64
}

func (a *agent) VoxelIndex() int               { return a.voxel }
func (a *agent) Volume() float64               { return a.volume }
func (a *agent) InternalizedTotals() []float64 { return a.internalized }

func New(field *microenv.Microenvironment, workers int, logger *slog.Logger) *World {
	if logger == nil {
		logger = slog.Default()
	}
	if workers < 1 {
		workers = 1
	}
	world := ecs.NewWorld()
	return &World{
		world:   world,
		mapper:  ecs.NewMap4[Cell, Voxel, Volume, Molecular](world),
		filter:  ecs.NewFilter4[Cell, Voxel, Volume, Molecular](world),
		field:   field,
		pool:    dynamo.NewScratchPool(),
		workers: workers,
		logger:  logger,
	}
}

// Spawn adds a cell in voxel with the given volume. Its internalized totals
// start at the model's coupled internal concentrations times the volume.
func (w *World) Spawn(model intracellular.Model, voxel int, volume float64) (int, error) {
	if voxel < 0 || voxel >= w.field.NumVoxels() {
		return 0, fmt.Errorf("%w: %d", dynamo.ErrVoxelOutOfRange, voxel)
	}
	if !(volume > 0) {
		return 0, fmt.Errorf("%w: %g", dynamo.ErrNonPositiveVolume, volume)
	}

	nExt := w.field.NumDensities()
	values := model.InternalValues()
	internalized := make([]float64, nExt)
	for i := 0; i < nExt && i < len(values); i++ {
		internalized[i] = values[i] * volume
	}

	id := w.nextID
	w.nextID++

	cell := Cell{ID: id, Model: model}
	vox := Voxel{Index: voxel}
	vol := Volume{Total: volume}
	mol := Molecular{Internalized: internalized}
	w.mapper.NewEntity(&cell, &vox, &vol, &mol)
	return id, nil
}

func (w *World) Len() int {
	n := 0
	query := w.filter.Query()
	for query.Next() {
		n++
	}
	return n
}

// StepReport counts what happened to the cells in one Step.
type StepReport struct {
	Updated int
	Skipped int
	Failed  int
}

// Step advances every cell whose model needs updating from t to t+dt. Cells
// are processed in parallel; cells that share a voxel rely on the field to
// serialize their writes. A failed update leaves that cell and its voxel
// untouched and does not stop the others. All failures are returned joined.
func (w *World) Step(t, dt float64) (StepReport, error) {
	var report StepReport

	w.agents = w.agents[:0]
	query := w.filter.Query()
	for query.Next() {
		cell, vox, vol, mol := query.Get()
		if cell.Model == nil || !cell.Model.NeedsUpdate() {
			report.Skipped++
			continue
		}
		w.agents = append(w.agents, agent{
			id:           cell.ID,
			model:        cell.Model,
			voxel:        vox.Index,
			volume:       vol.Total,
			internalized: mol.Internalized,
		})
	}

	n := len(w.agents)
	if cap(w.errs) < n {
		w.errs = make([]error, n)
	}
	w.errs = w.errs[:n]
	clear(w.errs)

	dynamo.ParallelFor(n, minChunk, w.workers, func(start, end int) {
		for i := start; i < end; i++ {
			a := &w.agents[i]
			if err := a.model.UpdateForAgent(a, t, dt); err != nil {
				w.errs[i] = fmt.Errorf("cell %d: %w", a.id, err)
			}
		}
	})

	for i, err := range w.errs {
		if err != nil {
			report.Failed++
			w.logger.Warn("intracellular update failed", "cell", w.agents[i].id, "t", t, "err", err)
		} else {
			report.Updated++
		}
	}
	return report, errors.Join(w.errs...)
}

// CellState is a copy of one cell for recording.
type CellState struct {
	ID     int
	Voxel  int
	Volume float64
	Values []float64
	Names  []string
}

// Snapshot copies every cell's internal values, ordered by cell id.
func (w *World) Snapshot() []CellState {
	var out []CellState
	query := w.filter.Query()
	for query.Next() {
		cell, vox, vol, _ := query.Get()
		s := CellState{ID: cell.ID, Voxel: vox.Index, Volume: vol.Total}
		if cell.Model != nil {
			s.Values = cell.Model.InternalValues()
			s.Names = cell.Model.InternalNames()
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Totals returns the amount of each field channel held by the field plus the
// cells' coupled internal slots.
func (w *World) Totals() dynamo.State {
	totals := w.field.Totals()

	cellMass := w.pool.Get(len(totals))
	defer w.pool.Put(cellMass)

	query := w.filter.Query()
	for query.Next() {
		cell, _, vol, _ := query.Get()
		if cell.Model == nil {
			continue
		}
		values := cell.Model.InternalValues()
		for i := 0; i < len(cellMass) && i < len(values); i++ {
			cellMass[i] += values[i] * vol.Total
		}
	}
	return totals.Add(cellMass)
}
