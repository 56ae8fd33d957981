package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/cellode/internal/dynamo"
)

const (
	DefaultIntracellularDt = 0.01
	DefaultIntegrator      = "rk45"
	DefaultTolerance       = 1e-6
	DefaultModel           = "zero"
	DefaultVoxels          = 1
	DefaultVoxelVolume     = 8000.0
	DefaultCellCount       = 1
	DefaultCellVolume      = 2494.0
	DefaultDt              = 0.01
	DefaultDuration        = 1.0
	DefaultWorkers         = 4
	DefaultRecordEvery     = 10

	TypeODESolver = "ode_solver"
)

type Config struct {
	Intracellular    Intracellular    `yaml:"intracellular"`
	Microenvironment Microenvironment `yaml:"microenvironment"`
	Cells            Cells            `yaml:"cells"`
	Run              Run              `yaml:"run"`
}

type Intracellular struct {
	Type              string             `yaml:"type"`
	Dt                float64            `yaml:"intracellular_dt"`
	Integrator        string             `yaml:"integrator"`
	Tolerance         float64            `yaml:"tolerance"`
	MaxSteps          int                `yaml:"max_steps,omitempty"`
	ValidateState     bool               `yaml:"validate_state"`
	ModelFile         string             `yaml:"model_file,omitempty"`
	Model             string             `yaml:"model,omitempty"`
	Parameters        map[string]float64 `yaml:"parameters,omitempty"`
	IndexedParameters map[int]float64    `yaml:"indexed_parameters,omitempty"`
	Substrates        []Substrate        `yaml:"substrates"`
}

// Substrate maps a field substrate to an internal species. A nil
// InitialCondition starts the species at zero.
type Substrate struct {
	Substrate        string   `yaml:"substrate"`
	Species          string   `yaml:"species"`
	InitialCondition *float64 `yaml:"initial_condition,omitempty"`
}

type Microenvironment struct {
	Densities         []Density `yaml:"densities"`
	Voxels            int       `yaml:"voxels"`
	VoxelVolume       float64   `yaml:"voxel_volume"`
	TrackInternalized bool      `yaml:"track_internalized_substrates"`
	Noise             Noise     `yaml:"noise"`
}

type Density struct {
	Name    string  `yaml:"name"`
	Initial float64 `yaml:"initial"`
}

// Noise perturbs initial densities by up to ±Amplitude (relative).
type Noise struct {
	Seed      int64   `yaml:"seed"`
	Amplitude float64 `yaml:"amplitude"`
	Scale     float64 `yaml:"scale"`
}

type Cells struct {
	Count  int     `yaml:"count"`
	Volume float64 `yaml:"volume"`
}

type Run struct {
	Dt          float64 `yaml:"dt"`
	Duration    float64 `yaml:"duration"`
	Workers     int     `yaml:"workers"`
	RecordEvery int     `yaml:"record_every"`
}

func DefaultConfig() *Config {
	return &Config{
		Intracellular: Intracellular{
			Type:          TypeODESolver,
			Dt:            DefaultIntracellularDt,
			Integrator:    DefaultIntegrator,
			Tolerance:     DefaultTolerance,
			ValidateState: true,
			Model:         DefaultModel,
		},
		Microenvironment: Microenvironment{
			Voxels:      DefaultVoxels,
			VoxelVolume: DefaultVoxelVolume,
		},
		Cells: Cells{
			Count:  DefaultCellCount,
			Volume: DefaultCellVolume,
		},
		Run: Run{
			Dt:          DefaultDt,
			Duration:    DefaultDuration,
			Workers:     DefaultWorkers,
			RecordEvery: DefaultRecordEvery,
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if mf := cfg.Intracellular.ModelFile; mf != "" && !filepath.IsAbs(mf) {
		cfg.Intracellular.ModelFile = filepath.Join(filepath.Dir(path), mf)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func invalid(section, format string, args ...any) error {
	return &dynamo.ConfigError{Section: section, Err: fmt.Errorf("%w: "+format, append([]any{dynamo.ErrInvalidConfig}, args...)...)}
}

// Validate checks value ranges. Substrate mapping errors are reported later,
// when the index registry is built against the field.
func (c *Config) Validate() error {
	ic := c.Intracellular
	if ic.Type != TypeODESolver {
		return invalid("intracellular", "unsupported type %q", ic.Type)
	}
	if ic.Dt <= 0 {
		return invalid("intracellular", "intracellular_dt must be positive, got %g", ic.Dt)
	}
	if ic.Tolerance < 0 {
		return invalid("intracellular", "tolerance must not be negative, got %g", ic.Tolerance)
	}
	if ic.MaxSteps < 0 {
		return invalid("intracellular", "max_steps must not be negative, got %d", ic.MaxSteps)
	}
	if ic.Model == "" && ic.ModelFile == "" {
		return invalid("intracellular", "either model or model_file is required")
	}

	me := c.Microenvironment
	if me.Voxels <= 0 {
		return invalid("microenvironment", "voxels must be positive, got %d", me.Voxels)
	}
	if me.VoxelVolume <= 0 {
		return invalid("microenvironment", "voxel_volume must be positive, got %g", me.VoxelVolume)
	}
	seen := make(map[string]bool, len(me.Densities))
	for _, d := range me.Densities {
		if d.Name == "" {
			return invalid("microenvironment", "density without a name")
		}
		if seen[d.Name] {
			return invalid("microenvironment", "duplicate density %q", d.Name)
		}
		seen[d.Name] = true
	}

	if c.Cells.Count < 0 {
		return invalid("cells", "count must not be negative, got %d", c.Cells.Count)
	}
	if c.Cells.Volume <= 0 {
		return invalid("cells", "volume must be positive, got %g", c.Cells.Volume)
	}

	if c.Run.Dt <= 0 {
		return invalid("run", "dt must be positive, got %g", c.Run.Dt)
	}
	if c.Run.Duration <= 0 {
		return invalid("run", "duration must be positive, got %g", c.Run.Duration)
	}
	return nil
}

func (c *Config) DensityNames() []string {
	names := make([]string, len(c.Microenvironment.Densities))
	for i, d := range c.Microenvironment.Densities {
		names[i] = d.Name
	}
	return names
}

// Float returns a pointer to v, for initial conditions.
func Float(v float64) *float64 {
	return &v
}
