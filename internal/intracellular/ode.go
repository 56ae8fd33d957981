package intracellular

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/san-kum/cellode/internal/config"
	"github.com/san-kum/cellode/internal/coupling"
	"github.com/san-kum/cellode/internal/dynamo"
	"github.com/san-kum/cellode/internal/integrators"
	"github.com/san-kum/cellode/internal/rhs"
	"github.com/san-kum/cellode/internal/substrates"
)

// ODESolver integrates an agent's internal species together with the field
// concentrations at the agent's voxel.
//
// The RHS definition and substrate registry are shared by every clone. Each
// instance owns its internal values, the combined vector and a stepper.
type ODESolver struct {
	cfg    config.Intracellular
	field  Field
	track  bool
	logger *slog.Logger

	def      *rhs.Definition
	registry *substrates.Registry
	opts     integrators.Options

	mu          sync.Mutex
	values      dynamo.State
	next        dynamo.State
	reading     dynamo.State
	delta       dynamo.State
	vec         *coupling.Vector
	stepper     dynamo.Integrator
	initialized bool
	stats       integrators.Stats
}

var _ Model = (*ODESolver)(nil)

// New builds a model prototype from configuration. track enables the
// exchange of internalized totals with the agent. All configuration errors
// are returned here, before any agent is stepped.
func New(cfg config.Intracellular, field Field, track bool, logger *slog.Logger) (*ODESolver, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dt <= 0 {
		cfg.Dt = config.DefaultIntracellularDt
	}
	if cfg.Integrator == "" {
		cfg.Integrator = config.DefaultIntegrator
	}

	registry, values, err := substrates.Build(cfg.Substrates, field.DensityNames())
	if err != nil {
		return nil, err
	}

	def, err := definition(cfg)
	if err != nil {
		return nil, err
	}

	stepper, err := integrators.New(cfg.Integrator)
	if err != nil {
		return nil, &dynamo.ConfigError{Section: "intracellular", Key: cfg.Integrator, Err: fmt.Errorf("%w: %v", dynamo.ErrInvalidConfig, err)}
	}

	opts := integrators.DefaultOptions()
	opts.Tolerance = cfg.Tolerance
	if cfg.MaxSteps > 0 {
		opts.MaxSteps = cfg.MaxSteps
	}

	s := &ODESolver{
		cfg:      cfg,
		field:    field,
		track:    track,
		logger:   logger,
		def:      def,
		registry: registry,
		opts:     opts,
		values:   values,
		stepper:  stepper,
	}
	if err := s.Start(); err != nil {
		return nil, err
	}

	for _, m := range registry.Mappings() {
		logger.Info("intracellular substrate",
			"substrate", m.Substrate,
			"species", m.Species,
			"index", m.Index,
			"coupled", m.Coupled)
	}
	logger.Info("intracellular model ready",
		"model", def.Name,
		"integrator", cfg.Integrator,
		"intracellular_dt", cfg.Dt,
		"n_ext", def.NExt,
		"n_int", def.NInt)

	return s, nil
}

// definition loads the model body. A model file wins over an inline model
// name; inline parameters overlay the file's.
func definition(cfg config.Intracellular) (*rhs.Definition, error) {
	if cfg.ModelFile != "" {
		spec, err := rhs.LoadFile(cfg.ModelFile)
		if err != nil {
			return nil, err
		}
		spec.Merge(cfg.Parameters, cfg.IndexedParameters)
		return spec.Build()
	}
	if cfg.Model == "" {
		return nil, &dynamo.ConfigError{Section: "intracellular", Err: fmt.Errorf("%w: no model or model_file", dynamo.ErrModelDefinition)}
	}
	return rhs.Build(cfg.Model, cfg.Parameters, cfg.IndexedParameters)
}

func (s *ODESolver) Type() string { return config.TypeODESolver }

// Start sizes the combined vector from the field and the internal values and
// marks the model fresh. It must not run concurrently with updates of agents
// that share this model's definition.
func (s *ODESolver) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	nExt := len(s.field.DensityNames())
	if len(s.values) < nExt {
		s.values = s.values.Grow(nExt)
	}
	nInt := len(s.values)

	if s.def.NExt != nExt || s.def.NInt != nInt {
		s.def.NExt, s.def.NInt = nExt, nInt
	}
	s.size(nExt, nInt)
	s.initialized = false
	return nil
}

func (s *ODESolver) size(nExt, nInt int) {
	s.vec = coupling.New(nExt, nInt)
	s.next = make(dynamo.State, nInt)
	s.reading = make(dynamo.State, nExt)
	s.delta = make(dynamo.State, nExt)
}

// NeedsUpdate reports whether the model has any parameter set. Models that
// were never parameterised are not stepped.
func (s *ODESolver) NeedsUpdate() bool { return s.def.Initialized() }

// UpdateForAgent advances the agent's internal state from t to t+dt and adds
// the field's change to the agent's voxel.
//
// The first call after Start keeps the configured initial conditions; every
// later call, including the one after a failed first call, pulls the
// agent's internalized totals. Sizes and volume are checked before anything
// is read. The field write is the last step; if any earlier step fails,
// neither the field nor the agent's values have changed.
func (s *ODESolver) UpdateForAgent(agent Agent, t, dt float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pull := s.initialized && s.track
	s.initialized = true

	voxel := agent.VoxelIndex()
	nExt := s.vec.NExt()

	var totals []float64
	volume := agent.Volume()
	if s.track {
		totals = agent.InternalizedTotals()
		if len(totals) != nExt {
			return &dynamo.SizeMismatchError{What: "internalized totals", Got: len(totals), Want: nExt}
		}
		if !(volume > 0) {
			return fmt.Errorf("%w: %g", dynamo.ErrNonPositiveVolume, volume)
		}
	}

	if err := s.field.ReadLocal(voxel, s.reading); err != nil {
		return fmt.Errorf("read field at voxel %d: %w", voxel, err)
	}
	if err := s.vec.Merge(s.reading, s.values); err != nil {
		return err
	}

	if pull {
		internal := s.vec.Internal()
		for i := 0; i < nExt; i++ {
			internal[i] = totals[i] / volume
		}
	}

	x := s.vec.State()
	stats, err := integrators.Integrate(s.stepper, s.def, x, t, t+dt, s.cfg.Dt, s.opts)
	s.stats = stats
	if err != nil {
		return fmt.Errorf("integrate at voxel %d: %w", voxel, err)
	}
	if s.cfg.ValidateState && !x.IsValid() {
		return &dynamo.SimulationError{Step: stats.Steps, Time: t + dt, State: x.Clone(), Wrapped: dynamo.ErrInvalidState}
	}

	if err := s.vec.Split(s.reading, s.next, s.delta); err != nil {
		return err
	}
	if err := s.field.AccumulateLocal(voxel, s.delta); err != nil {
		return fmt.Errorf("write field at voxel %d: %w", voxel, err)
	}

	copy(s.values, s.next)
	if s.track {
		for i := 0; i < nExt; i++ {
			totals[i] = s.values[i] * volume
		}
	}

	s.logger.Debug("intracellular step",
		"voxel", voxel,
		"t", t,
		"steps", stats.Steps,
		"rejected", stats.Rejected,
		"evaluations", stats.Evaluations)
	return nil
}

// LastStats returns the integrator statistics of the most recent update.
func (s *ODESolver) LastStats() integrators.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Running reports whether the model has been updated, successfully or not,
// since the last Start.
func (s *ODESolver) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

func (s *ODESolver) Definition() *rhs.Definition { return s.def }

func (s *ODESolver) Registry() *substrates.Registry { return s.registry }

func (s *ODESolver) Parameter(name string) float64 { return s.def.P(name) }

func (s *ODESolver) SetParameter(name string, value float64) { s.def.SetParameter(name, value) }

func (s *ODESolver) ParameterID(id int) float64 { return s.def.PID(id) }

func (s *ODESolver) SetParameterID(id int, value float64) { s.def.SetParameterID(id, value) }

// InternalValue returns the internal concentration of a configured
// substrate, or 0 if the substrate is unknown.
func (s *ODESolver) InternalValue(substrate string) float64 {
	id, ok := s.registry.Index(substrate)
	if !ok {
		return 0
	}
	return s.InternalValueAt(id)
}

func (s *ODESolver) SetInternalValue(substrate string, value float64) {
	if id, ok := s.registry.Index(substrate); ok {
		s.SetInternalValueAt(id, value)
	}
}

func (s *ODESolver) InternalValueAt(index int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.values) {
		return 0
	}
	return s.values[index]
}

// SetInternalValueAt ignores indices outside the internal array; the array
// is sized at Start and never grows afterwards.
func (s *ODESolver) SetInternalValueAt(index int, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index >= 0 && index < len(s.values) {
		s.values[index] = value
	}
}

func (s *ODESolver) InternalValues() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values.Clone()
}

func (s *ODESolver) InternalNames() []string {
	s.mu.Lock()
	n := len(s.values)
	s.mu.Unlock()

	names := make([]string, n)
	for i := range names {
		names[i] = s.registry.Label(i)
	}
	return names
}

// Lookup reads a value by key. ".N" addresses internal slot N; any other key
// is a substrate name. Misses read 0.
func (s *ODESolver) Lookup(key string) float64 {
	if id, ok := slot(key); ok {
		return s.InternalValueAt(id)
	}
	return s.InternalValue(key)
}

// Assign writes a value by key. ".N" addresses internal slot N; any other
// key sets a named RHS parameter.
func (s *ODESolver) Assign(key string, value float64) {
	if id, ok := slot(key); ok {
		s.SetInternalValueAt(id, value)
		return
	}
	s.SetParameter(key, value)
}

func slot(key string) (int, bool) {
	rest, ok := strings.CutPrefix(key, ".")
	if !ok {
		return 0, false
	}
	id, err := strconv.Atoi(rest)
	if err != nil {
		return -1, true
	}
	return id, true
}

// Clone returns a fresh model for another agent of the same type. It shares
// the definition and registry and copies the current internal values.
func (s *ODESolver) Clone() Model {
	return s.CloneSolver()
}

func (s *ODESolver) CloneSolver() *ODESolver {
	s.mu.Lock()
	defer s.mu.Unlock()

	stepper, err := integrators.New(s.cfg.Integrator)
	if err != nil {
		// the name was validated when the prototype was built
		panic(err)
	}

	c := &ODESolver{
		cfg:      s.cfg,
		field:    s.field,
		track:    s.track,
		logger:   s.logger,
		def:      s.def,
		registry: s.registry,
		opts:     s.opts,
		values:   s.values.Clone(),
		stepper:  stepper,
	}
	c.size(s.vec.NExt(), s.vec.NInt())
	return c
}
