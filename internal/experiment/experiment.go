package experiment

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/san-kum/cellode/internal/config"
	"github.com/san-kum/cellode/internal/dynamo"
	"github.com/san-kum/cellode/internal/intracellular"
	"github.com/san-kum/cellode/internal/metrics"
	"github.com/san-kum/cellode/internal/microenv"
	"github.com/san-kum/cellode/internal/tissue"
)

// Observer is notified after every tick.
type Observer interface {
	OnStep(step int, t float64, report tissue.StepReport)
}

type override struct {
	key   string
	value float64
}

type Experiment struct {
	cfg    *config.Config
	logger *slog.Logger

	field     *microenv.Microenvironment
	proto     *intracellular.ODESolver
	world     *tissue.World
	standard  []dynamo.Metric
	metrics   []dynamo.Metric
	observers []Observer
	overrides []override
}

func New(cfg *config.Config, logger *slog.Logger) *Experiment {
	if logger == nil {
		logger = slog.Default()
	}
	return &Experiment{cfg: cfg, logger: logger}
}

// Set queues a prototype override applied by Setup before cells are
// created: ".N" sets internal slot N, anything else a named parameter.
func (e *Experiment) Set(key string, value float64) {
	e.overrides = append(e.overrides, override{key: key, value: value})
}

func (e *Experiment) AddMetric(m dynamo.Metric) { e.metrics = append(e.metrics, m) }

func (e *Experiment) AddObserver(o Observer) { e.observers = append(e.observers, o) }

// Setup builds the field, the prototype model and one clone per cell.
// Every configuration error surfaces here.
func (e *Experiment) Setup() error {
	me := e.cfg.Microenvironment

	field, err := microenv.New(e.cfg.DensityNames(), me.Voxels, me.VoxelVolume)
	if err != nil {
		return err
	}
	for i, d := range me.Densities {
		if me.Noise.Amplitude > 0 {
			err = field.SeedNoise(i, d.Initial, me.Noise.Amplitude, me.Noise.Scale, me.Noise.Seed+int64(i))
		} else {
			err = field.Fill(i, d.Initial)
		}
		if err != nil {
			return err
		}
	}

	proto, err := intracellular.New(e.cfg.Intracellular, field, me.TrackInternalized, e.logger)
	if err != nil {
		return err
	}
	for _, o := range e.overrides {
		proto.Assign(o.key, o.value)
	}

	world := tissue.New(field, e.cfg.Run.Workers, e.logger)
	for i := 0; i < e.cfg.Cells.Count; i++ {
		if _, err := world.Spawn(proto.Clone(), i%me.Voxels, e.cfg.Cells.Volume); err != nil {
			return fmt.Errorf("spawn cell %d: %w", i, err)
		}
	}

	e.field = field
	e.proto = proto
	e.world = world
	e.standard = metrics.Standard(e.cfg.DensityNames())
	return nil
}

// Metrics returns the standard metrics followed by those added with
// AddMetric.
func (e *Experiment) Metrics() []dynamo.Metric {
	all := make([]dynamo.Metric, 0, len(e.standard)+len(e.metrics))
	all = append(all, e.standard...)
	return append(all, e.metrics...)
}

func (e *Experiment) Prototype() *intracellular.ODESolver { return e.proto }

func (e *Experiment) Field() *microenv.Microenvironment { return e.field }

func (e *Experiment) World() *tissue.World { return e.world }

// Run advances the tissue for the configured duration. Failed cell updates
// are counted and logged but do not stop the run. Cancelling ctx stops the
// run between ticks and returns what was recorded so far.
func (e *Experiment) Run(ctx context.Context) (*dynamo.Result, error) {
	if e.world == nil {
		return nil, fmt.Errorf("experiment not setup")
	}

	dt := e.cfg.Run.Dt
	steps := int(math.Round(e.cfg.Run.Duration / dt))
	every := e.cfg.Run.RecordEvery
	if every < 1 {
		every = 1
	}

	result := &dynamo.Result{
		Metrics: make(map[string]float64),
	}
	for _, m := range e.Metrics() {
		m.Reset()
	}

	t := 0.0
	e.observe(0)
	e.record(result, 0)

	for i := 0; i < steps; i++ {
		select {
		case <-ctx.Done():
			e.finish(result)
			return result, ctx.Err()
		default:
		}

		// the world logs each failed cell; the run only counts them
		report, _ := e.world.Step(t, dt)
		result.FailedUpdates += report.Failed
		result.Steps++
		t = float64(i+1) * dt

		e.observe(t)
		for _, o := range e.observers {
			o.OnStep(i+1, t, report)
		}
		if (i+1)%every == 0 || i+1 == steps {
			e.record(result, t)
		}
	}

	e.finish(result)
	e.logger.Info("run complete",
		"steps", result.Steps,
		"cells", e.world.Len(),
		"failed_updates", result.FailedUpdates)
	return result, nil
}

func (e *Experiment) observe(t float64) {
	totals := e.world.Totals()
	for _, m := range e.Metrics() {
		m.Observe(totals, t)
	}
}

func (e *Experiment) finish(result *dynamo.Result) {
	for _, m := range e.Metrics() {
		result.Metrics[m.Name()] = m.Value()
	}
}

// record appends the internal values of every cell, the mean field
// concentration and the total amount of every channel.
func (e *Experiment) record(result *dynamo.Result, t float64) {
	for _, c := range e.world.Snapshot() {
		for j, v := range c.Values {
			result.Records = append(result.Records, dynamo.Record{
				Time: t, Cell: c.ID, Kind: dynamo.KindInternal, Substrate: c.Names[j], Value: v,
			})
		}
	}

	names := e.field.DensityNames()
	space := float64(e.field.NumVoxels()) * e.field.VoxelVolume()
	fieldTotals := e.field.Totals()
	totals := e.world.Totals()
	for i, name := range names {
		result.Records = append(result.Records,
			dynamo.Record{Time: t, Cell: -1, Kind: dynamo.KindField, Substrate: name, Value: fieldTotals[i] / space},
			dynamo.Record{Time: t, Cell: -1, Kind: dynamo.KindTotal, Substrate: name, Value: totals[i]},
		)
	}
}
