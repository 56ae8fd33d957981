package intracellular_test

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/cellode/internal/config"
	"github.com/san-kum/cellode/internal/dynamo"
	"github.com/san-kum/cellode/internal/intracellular"
	"github.com/san-kum/cellode/internal/microenv"
	"github.com/san-kum/cellode/internal/rhs"
)

type cell struct {
	voxel  int
	volume float64
	totals []float64
}

func (c *cell) VoxelIndex() int               { return c.voxel }
func (c *cell) Volume() float64               { return c.volume }
func (c *cell) InternalizedTotals() []float64 { return c.totals }

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func oxygenField(reading float64) *microenv.Microenvironment {
	field, err := microenv.New([]string{"oxygen"}, 1, 1000)
	Expect(err).NotTo(HaveOccurred())
	Expect(field.Fill(0, reading)).To(Succeed())
	return field
}

func oxygenConfig(model string) config.Intracellular {
	cfg := config.DefaultConfig().Intracellular
	cfg.Model = model
	cfg.Substrates = []config.Substrate{
		{Substrate: "oxygen", Species: "O2_internal", InitialCondition: config.Float(5.0)},
	}
	return cfg
}

var _ = BeforeSuite(func() {
	Expect(rhs.Register("poisoned", func(d *rhs.Definition, x, dxdt dynamo.State, t float64) {
		for i := range dxdt {
			dxdt[i] = math.NaN()
		}
	})).To(Succeed())
})

var _ = Describe("ODESolver", func() {
	var (
		field *microenv.Microenvironment
		agent *cell
	)

	BeforeEach(func() {
		field = oxygenField(10.0)
		agent = &cell{voxel: 0, volume: 2.0}
	})

	Describe("building from configuration", func() {
		It("sizes the combined vector from the field and the substrates", func() {
			solver, err := intracellular.New(oxygenConfig("zero"), field, false, quiet)
			Expect(err).NotTo(HaveOccurred())

			Expect(solver.Type()).To(Equal("ode_solver"))
			Expect(solver.Definition().NExt).To(Equal(1))
			Expect(solver.Definition().NInt).To(Equal(1))
			Expect(solver.Definition().Dim()).To(Equal(2))
			Expect(solver.InternalValues()).To(Equal([]float64{5.0}))
			Expect(solver.InternalNames()).To(Equal([]string{"oxygen"}))
		})

		It("appends substrates the field does not carry", func() {
			cfg := oxygenConfig("zero")
			cfg.Substrates = append(cfg.Substrates, config.Substrate{Substrate: "signal", Species: "S", InitialCondition: config.Float(2)})

			solver, err := intracellular.New(cfg, field, false, quiet)
			Expect(err).NotTo(HaveOccurred())
			Expect(solver.InternalValues()).To(Equal([]float64{5.0, 2.0}))
			Expect(solver.InternalNames()).To(Equal([]string{"oxygen", "signal"}))
			Expect(solver.Definition().NInt).To(Equal(2))
			Expect(solver.InternalValue("signal")).To(Equal(2.0))
		})

		It("rejects a duplicate substrate before any update", func() {
			cfg := oxygenConfig("zero")
			cfg.Substrates = append(cfg.Substrates, config.Substrate{Substrate: "oxygen", Species: "O2_other"})

			_, err := intracellular.New(cfg, field, false, quiet)
			Expect(err).To(MatchError(dynamo.ErrDuplicateSubstrate))

			var cfgErr *dynamo.ConfigError
			Expect(errors.As(err, &cfgErr)).To(BeTrue())
			Expect(cfgErr.Key).To(Equal("oxygen"))
		})

		It("rejects a duplicate species", func() {
			cfg := oxygenConfig("zero")
			cfg.Substrates = append(cfg.Substrates, config.Substrate{Substrate: "signal", Species: "O2_internal"})

			_, err := intracellular.New(cfg, field, false, quiet)
			Expect(err).To(MatchError(dynamo.ErrDuplicateSpecies))
		})

		It("rejects an empty substrate name", func() {
			cfg := oxygenConfig("zero")
			cfg.Substrates = append(cfg.Substrates, config.Substrate{Species: "X"})

			_, err := intracellular.New(cfg, field, false, quiet)
			Expect(err).To(MatchError(dynamo.ErrEmptySubstrate))
		})

		It("rejects unknown models and integrators", func() {
			_, err := intracellular.New(oxygenConfig("no-such-model"), field, false, quiet)
			Expect(err).To(MatchError(dynamo.ErrModelDefinition))

			cfg := oxygenConfig("zero")
			cfg.Model = ""
			_, err = intracellular.New(cfg, field, false, quiet)
			Expect(err).To(MatchError(dynamo.ErrModelDefinition))

			cfg = oxygenConfig("zero")
			cfg.Integrator = "leapfrog"
			_, err = intracellular.New(cfg, field, false, quiet)
			Expect(err).To(MatchError(dynamo.ErrInvalidConfig))
		})

		It("prefers a model file and overlays inline parameters", func() {
			path := filepath.Join(GinkgoT().TempDir(), "model.yaml")
			Expect(os.WriteFile(path, []byte(`ode_definition:
  model: decay
  parameters:
    decay: 0.1
    other: 3
`), 0644)).To(Succeed())

			cfg := oxygenConfig("zero")
			cfg.ModelFile = path
			cfg.Parameters = map[string]float64{"decay": 0.5}

			solver, err := intracellular.New(cfg, field, false, quiet)
			Expect(err).NotTo(HaveOccurred())
			Expect(solver.Definition().Name).To(Equal("decay"))
			Expect(solver.Parameter("decay")).To(Equal(0.5))
			Expect(solver.Parameter("other")).To(Equal(3.0))
		})
	})

	Describe("a single update", func() {
		It("leaves everything in place under a zero right-hand side", func() {
			solver, err := intracellular.New(oxygenConfig("zero"), field, false, quiet)
			Expect(err).NotTo(HaveOccurred())

			Expect(solver.UpdateForAgent(agent, 0, 1)).To(Succeed())

			Expect(solver.InternalValues()).To(Equal([]float64{5.0}))
			Expect(field.At(0, 0)).To(Equal(10.0))
		})

		It("integrates a constant derivative over the step", func() {
			cfg := oxygenConfig("constant")
			cfg.IndexedParameters = map[int]float64{1: -1.0}

			solver, err := intracellular.New(cfg, field, false, quiet)
			Expect(err).NotTo(HaveOccurred())

			Expect(solver.UpdateForAgent(agent, 0, 1)).To(Succeed())

			Expect(solver.InternalValueAt(0)).To(BeNumerically("~", 4.0, 1e-9))
			Expect(field.At(0, 0)).To(BeNumerically("~", 10.0, 1e-12))

			stats := solver.LastStats()
			Expect(stats.Steps).To(BeNumerically(">", 0))
			Expect(stats.EndTime).To(Equal(1.0))
		})

		It("hits the same result with the fixed-step integrators", func() {
			for _, name := range []string{"rk4", "euler"} {
				f := oxygenField(10.0)
				cfg := oxygenConfig("constant")
				cfg.Integrator = name
				cfg.IndexedParameters = map[int]float64{1: -1.0}

				solver, err := intracellular.New(cfg, f, false, quiet)
				Expect(err).NotTo(HaveOccurred())
				Expect(solver.UpdateForAgent(agent, 0, 1)).To(Succeed())
				Expect(solver.InternalValueAt(0)).To(BeNumerically("~", 4.0, 1e-9), name)
				Expect(solver.LastStats().Steps).To(Equal(100), name)
			}
		})

		It("runs long host steps with the fixed-step integrators to completion", func() {
			for _, name := range []string{"euler", "rk4"} {
				f := oxygenField(10.0)
				cfg := oxygenConfig("decay")
				cfg.Integrator = name
				cfg.Parameters = map[string]float64{"decay": 0.001}

				solver, err := intracellular.New(cfg, f, false, quiet)
				Expect(err).NotTo(HaveOccurred())
				Expect(solver.UpdateForAgent(agent, 0, 1500)).To(Succeed(), name)
				Expect(solver.InternalValueAt(0)).To(BeNumerically("~", 5*math.Exp(-1.5), 1e-4), name)
				Expect(solver.LastStats().Steps).To(BeNumerically(">=", 150000), name)
				Expect(f.At(0, 0)).To(Equal(10.0))
			}
		})

		It("caps adaptive integration at max_steps", func() {
			cfg := oxygenConfig("decay")
			cfg.Parameters = map[string]float64{"decay": 0.001}
			cfg.MaxSteps = 2

			solver, err := intracellular.New(cfg, field, false, quiet)
			Expect(err).NotTo(HaveOccurred())
			Expect(solver.UpdateForAgent(agent, 0, 1500)).To(MatchError(dynamo.ErrTooManySteps))
			Expect(solver.InternalValues()).To(Equal([]float64{5.0}))
			Expect(field.At(0, 0)).To(Equal(10.0))
		})

		It("writes the external change into the field additively", func() {
			cfg := oxygenConfig("constant")
			cfg.IndexedParameters = map[int]float64{0: 0.5}

			solver, err := intracellular.New(cfg, field, false, quiet)
			Expect(err).NotTo(HaveOccurred())
			Expect(solver.UpdateForAgent(agent, 0, 1)).To(Succeed())
			Expect(field.At(0, 0)).To(BeNumerically("~", 10.5, 1e-9))

			Expect(solver.UpdateForAgent(agent, 1, 1)).To(Succeed())
			Expect(field.At(0, 0)).To(BeNumerically("~", 11.0, 1e-9))
		})

		It("treats a zero-length step as a no-op", func() {
			cfg := oxygenConfig("constant")
			cfg.IndexedParameters = map[int]float64{0: 1, 1: 1}

			solver, err := intracellular.New(cfg, field, false, quiet)
			Expect(err).NotTo(HaveOccurred())
			Expect(solver.UpdateForAgent(agent, 3, 0)).To(Succeed())
			Expect(solver.InternalValues()).To(Equal([]float64{5.0}))
			Expect(field.At(0, 0)).To(Equal(10.0))
		})
	})

	Describe("internalized totals", func() {
		var solver *intracellular.ODESolver

		BeforeEach(func() {
			var err error
			solver, err = intracellular.New(oxygenConfig("zero"), field, true, quiet)
			Expect(err).NotTo(HaveOccurred())
			agent.totals = []float64{100}
		})

		It("skips the pull on the first update and pulls afterwards", func() {
			Expect(solver.Running()).To(BeFalse())
			Expect(solver.UpdateForAgent(agent, 0, 1)).To(Succeed())
			Expect(solver.Running()).To(BeTrue())

			Expect(solver.InternalValues()).To(Equal([]float64{5.0}))
			Expect(agent.totals).To(Equal([]float64{10.0}))

			agent.totals[0] = 14.0
			Expect(solver.UpdateForAgent(agent, 1, 1)).To(Succeed())
			Expect(solver.InternalValues()).To(Equal([]float64{7.0}))
			Expect(agent.totals).To(Equal([]float64{14.0}))
		})

		It("returns to the fresh state on Start", func() {
			Expect(solver.UpdateForAgent(agent, 0, 1)).To(Succeed())
			Expect(solver.Start()).To(Succeed())
			Expect(solver.Running()).To(BeFalse())

			agent.totals[0] = 40.0
			Expect(solver.UpdateForAgent(agent, 1, 1)).To(Succeed())
			Expect(solver.InternalValues()).To(Equal([]float64{5.0}))
		})

		It("fails on an accumulator of the wrong length without touching anything", func() {
			agent.totals = []float64{1, 2}

			err := solver.UpdateForAgent(agent, 0, 1)
			Expect(err).To(MatchError(dynamo.ErrSizeMismatch))

			var sizeErr *dynamo.SizeMismatchError
			Expect(errors.As(err, &sizeErr)).To(BeTrue())
			Expect(sizeErr.Got).To(Equal(2))
			Expect(sizeErr.Want).To(Equal(1))

			Expect(solver.InternalValues()).To(Equal([]float64{5.0}))
			Expect(agent.totals).To(Equal([]float64{1, 2}))
			Expect(field.At(0, 0)).To(Equal(10.0))
		})

		It("leaves the fresh state on a failed first update", func() {
			agent.totals = []float64{1, 2}
			Expect(solver.UpdateForAgent(agent, 0, 1)).To(MatchError(dynamo.ErrSizeMismatch))
			Expect(solver.Running()).To(BeTrue())

			agent.totals = []float64{40}
			Expect(solver.UpdateForAgent(agent, 1, 1)).To(Succeed())
			Expect(solver.InternalValues()).To(Equal([]float64{20.0}))
			Expect(agent.totals).To(Equal([]float64{40.0}))
		})

		It("fails on a non-positive volume", func() {
			agent.volume = 0
			Expect(solver.UpdateForAgent(agent, 0, 1)).To(MatchError(dynamo.ErrNonPositiveVolume))
			Expect(agent.totals).To(Equal([]float64{100}))
		})
	})

	Describe("field errors", func() {
		It("fails for a voxel outside the field", func() {
			solver, err := intracellular.New(oxygenConfig("zero"), field, false, quiet)
			Expect(err).NotTo(HaveOccurred())

			agent.voxel = 4
			Expect(solver.UpdateForAgent(agent, 0, 1)).To(MatchError(dynamo.ErrVoxelOutOfRange))
			Expect(solver.InternalValues()).To(Equal([]float64{5.0}))
		})
	})

	Describe("non-finite results", func() {
		It("rejects the step and commits nothing", func() {
			cfg := oxygenConfig("poisoned")
			cfg.Integrator = "euler"

			solver, err := intracellular.New(cfg, field, false, quiet)
			Expect(err).NotTo(HaveOccurred())

			err = solver.UpdateForAgent(agent, 0, 1)
			Expect(err).To(MatchError(dynamo.ErrInvalidState))

			var simErr *dynamo.SimulationError
			Expect(errors.As(err, &simErr)).To(BeTrue())
			Expect(simErr.Time).To(Equal(1.0))

			Expect(field.At(0, 0)).To(Equal(10.0))
			Expect(solver.InternalValues()).To(Equal([]float64{5.0}))
		})

		It("propagates them when validation is off", func() {
			cfg := oxygenConfig("poisoned")
			cfg.Integrator = "euler"
			cfg.ValidateState = false

			solver, err := intracellular.New(cfg, field, false, quiet)
			Expect(err).NotTo(HaveOccurred())
			Expect(solver.UpdateForAgent(agent, 0, 1)).To(Succeed())
			Expect(math.IsNaN(field.At(0, 0))).To(BeTrue())
		})
	})

	Describe("parameters and values", func() {
		var solver *intracellular.ODESolver

		BeforeEach(func() {
			var err error
			solver, err = intracellular.New(oxygenConfig("zero"), field, false, quiet)
			Expect(err).NotTo(HaveOccurred())
		})

		It("round-trips named and indexed parameters", func() {
			Expect(solver.NeedsUpdate()).To(BeFalse())

			solver.SetParameter("k", 3.5)
			Expect(solver.Parameter("k")).To(Equal(3.5))
			Expect(solver.Parameter("unset")).To(Equal(0.0))
			Expect(solver.NeedsUpdate()).To(BeTrue())

			solver.SetParameterID(4, -2)
			Expect(solver.ParameterID(4)).To(Equal(-2.0))
			Expect(solver.ParameterID(3)).To(Equal(0.0))
			Expect(solver.ParameterID(99)).To(Equal(0.0))
		})

		It("reads and writes internal values by name and index", func() {
			solver.SetInternalValue("oxygen", 6)
			Expect(solver.InternalValueAt(0)).To(Equal(6.0))

			solver.SetInternalValueAt(0, 7)
			Expect(solver.InternalValue("oxygen")).To(Equal(7.0))

			solver.SetInternalValue("unknown", 1)
			solver.SetInternalValueAt(9, 1)
			Expect(solver.InternalValue("unknown")).To(Equal(0.0))
			Expect(solver.InternalValueAt(9)).To(Equal(0.0))
			Expect(solver.InternalValueAt(-1)).To(Equal(0.0))
			Expect(solver.InternalValues()).To(Equal([]float64{7.0}))
		})

		It("addresses internal slots with the dot syntax", func() {
			solver.Assign(".0", 8)
			Expect(solver.Lookup(".0")).To(Equal(8.0))
			Expect(solver.Lookup("oxygen")).To(Equal(8.0))
			Expect(solver.Lookup(".5")).To(Equal(0.0))
			Expect(solver.Lookup(".x")).To(Equal(0.0))

			solver.Assign("rate", 1.5)
			Expect(solver.Parameter("rate")).To(Equal(1.5))
			Expect(solver.InternalValues()).To(Equal([]float64{8.0}))
		})
	})

	Describe("cloning", func() {
		It("shares the definition but not the state", func() {
			proto, err := intracellular.New(oxygenConfig("zero"), field, true, quiet)
			Expect(err).NotTo(HaveOccurred())

			agent.totals = []float64{0}
			Expect(proto.UpdateForAgent(agent, 0, 1)).To(Succeed())

			clone := proto.CloneSolver()
			Expect(clone.Running()).To(BeFalse())
			Expect(clone.Definition()).To(BeIdenticalTo(proto.Definition()))
			Expect(clone.Registry()).To(BeIdenticalTo(proto.Registry()))

			clone.SetInternalValueAt(0, 1)
			Expect(proto.InternalValueAt(0)).To(Equal(5.0))

			clone.SetParameter("shared", 2)
			Expect(proto.Parameter("shared")).To(Equal(2.0))

			var m intracellular.Model = proto.Clone()
			Expect(m.InternalValues()).To(Equal([]float64{5.0}))
		})
	})

	Describe("concurrent agents in one voxel", func() {
		It("conserve the exchanged mass", func() {
			const (
				agents      = 16
				cellVolume  = 10.0
				voxelVolume = 1000.0
			)
			field, err := microenv.New([]string{"oxygen"}, 1, voxelVolume)
			Expect(err).NotTo(HaveOccurred())
			Expect(field.Fill(0, 10)).To(Succeed())

			cfg := oxygenConfig("exchange")
			cfg.Substrates[0].InitialCondition = config.Float(0)
			cfg.Parameters = map[string]float64{
				"permeability": 0.2,
				"volume_ratio": cellVolume / voxelVolume,
			}

			proto, err := intracellular.New(cfg, field, false, quiet)
			Expect(err).NotTo(HaveOccurred())

			solvers := make([]*intracellular.ODESolver, agents)
			for i := range solvers {
				solvers[i] = proto.CloneSolver()
			}
			before := field.Totals()[0]

			var wg sync.WaitGroup
			for i := range solvers {
				wg.Add(1)
				go func(s *intracellular.ODESolver) {
					defer wg.Done()
					defer GinkgoRecover()
					a := &cell{voxel: 0, volume: cellVolume}
					for step := 0; step < 5; step++ {
						Expect(s.UpdateForAgent(a, float64(step), 1)).To(Succeed())
					}
				}(solvers[i])
			}
			wg.Wait()

			internal := 0.0
			for _, s := range solvers {
				Expect(s.InternalValueAt(0)).To(BeNumerically(">", 0))
				internal += s.InternalValueAt(0) * cellVolume
			}
			after := field.Totals()[0]
			Expect(after + internal).To(BeNumerically("~", before, 1e-6*before))
			Expect(after).To(BeNumerically("<", before))
		})
	})
})
