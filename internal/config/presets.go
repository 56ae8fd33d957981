package config

import "sort"

// Presets are self-contained scenarios selectable with --preset.
var Presets = map[string]func() *Config{
	// one field channel, one internal copy, nothing moves
	"oxygen": func() *Config {
		cfg := DefaultConfig()
		cfg.Intracellular.Model = "zero"
		cfg.Intracellular.Parameters = map[string]float64{"enabled": 1}
		cfg.Intracellular.Substrates = []Substrate{
			{Substrate: "oxygen", Species: "O2_internal", InitialCondition: Float(5.0)},
		}
		cfg.Microenvironment.Densities = []Density{{Name: "oxygen", Initial: 10.0}}
		return cfg
	},
	// passive uptake of oxygen and glucose, plus a decaying internal-only signal
	"uptake": func() *Config {
		cfg := DefaultConfig()
		cfg.Intracellular.Model = "exchange"
		cfg.Intracellular.Parameters = map[string]float64{
			"permeability": 0.8,
			"volume_ratio": DefaultCellVolume / DefaultVoxelVolume,
			"decay":        0.05,
		}
		cfg.Intracellular.Substrates = []Substrate{
			{Substrate: "oxygen", Species: "O2", InitialCondition: Float(1.0)},
			{Substrate: "glucose", Species: "Glc"},
			{Substrate: "signal", Species: "S", InitialCondition: Float(3.0)},
		}
		cfg.Microenvironment.Densities = []Density{
			{Name: "oxygen", Initial: 38.0},
			{Name: "glucose", Initial: 5.0},
		}
		cfg.Microenvironment.Voxels = 16
		cfg.Microenvironment.TrackInternalized = true
		cfg.Microenvironment.Noise = Noise{Seed: 7, Amplitude: 0.1, Scale: 0.3}
		cfg.Cells.Count = 32
		cfg.Run.Duration = 5.0
		return cfg
	},
	// internal species degrade with the field left alone
	"decay": func() *Config {
		cfg := DefaultConfig()
		cfg.Intracellular.Model = "decay"
		cfg.Intracellular.Integrator = "rk4"
		cfg.Intracellular.Parameters = map[string]float64{"decay": 0.5}
		cfg.Intracellular.Substrates = []Substrate{
			{Substrate: "oxygen", Species: "O2", InitialCondition: Float(4.0)},
			{Substrate: "marker", Species: "M", InitialCondition: Float(2.0)},
		}
		cfg.Microenvironment.Densities = []Density{{Name: "oxygen", Initial: 10.0}}
		cfg.Cells.Count = 4
		cfg.Run.Duration = 2.0
		return cfg
	},
}

func GetPreset(name string) *Config {
	fn, ok := Presets[name]
	if !ok {
		return nil
	}
	return fn()
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
