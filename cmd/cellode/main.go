package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/san-kum/cellode/internal/config"
	"github.com/san-kum/cellode/internal/dynamo"
	"github.com/san-kum/cellode/internal/experiment"
	"github.com/san-kum/cellode/internal/integrators"
	"github.com/san-kum/cellode/internal/intracellular"
	"github.com/san-kum/cellode/internal/microenv"
	"github.com/san-kum/cellode/internal/optim"
	"github.com/san-kum/cellode/internal/persistence"
	"github.com/san-kum/cellode/internal/rhs"
	"github.com/san-kum/cellode/internal/storage"
	"github.com/san-kum/cellode/internal/tissue"
	"github.com/san-kum/cellode/internal/viz"
)

var (
	dataDir    string
	dbPath     string
	historyDB  string
	configFile string
	preset     string
	dt         float64
	duration   float64
	workers    int
	integrator string
	sets       []string
	verbose    bool

	sweepParams   []string
	sweepMetric   string
	sweepMaximize bool

	plotCell      int
	plotSubstrate string
	plotKind      string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "cellode",
		Short: "intracellular ODE models coupled to a shared field",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", "./data", "data directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run a simulation",
		Args:  cobra.NoArgs,
		RunE:  runSimulation,
	}
	runCmd.Flags().StringVarP(&configFile, "config", "c", "", "config file (YAML)")
	runCmd.Flags().StringVarP(&preset, "preset", "p", "", "named preset")
	runCmd.Flags().Float64Var(&dt, "dt", config.DefaultDt, "host timestep")
	runCmd.Flags().Float64Var(&duration, "time", config.DefaultDuration, "simulation duration")
	runCmd.Flags().IntVar(&workers, "workers", config.DefaultWorkers, "parallel workers")
	runCmd.Flags().StringVar(&integrator, "integrator", config.DefaultIntegrator, "integrator ("+strings.Join(integrators.Names(), ", ")+")")
	runCmd.Flags().StringArrayVar(&sets, "set", nil, "override key=value (\".N\" sets internal slot N, otherwise a parameter)")
	runCmd.Flags().StringVar(&dbPath, "db", "", "also archive the run in this SQLite database")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot a recorded series",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().IntVar(&plotCell, "cell", 0, "cell id (-1 for field and totals)")
	plotCmd.Flags().StringVar(&plotSubstrate, "substrate", "", "substrate (default: all)")
	plotCmd.Flags().StringVar(&plotKind, "kind", dynamo.KindInternal, "internal, field or total")

	showCmd := &cobra.Command{
		Use:   "show [run_id]",
		Short: "show run summary",
		Args:  cobra.ExactArgs(1),
		RunE:  showRun,
	}

	exportCmd := &cobra.Command{
		Use:   "export [run_id]",
		Short: "export run metadata as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}

	presetsCmd := &cobra.Command{
		Use:   "presets",
		Short: "list presets",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range config.ListPresets() {
				cfg := config.GetPreset(name)
				fmt.Printf("  %-10s model=%s substrates=%d cells=%d\n",
					name, cfg.Intracellular.Model, len(cfg.Intracellular.Substrates), cfg.Cells.Count)
			}
			return nil
		},
	}

	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "list model bodies and integrators",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("models:      " + strings.Join(rhs.Models(), ", "))
			fmt.Println("integrators: " + strings.Join(integrators.Names(), ", "))
			return nil
		},
	}

	inspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "build a model from config and show its substrate mapping",
		RunE:  inspectModel,
	}
	inspectCmd.Flags().StringVarP(&configFile, "config", "c", "", "config file (YAML)")
	inspectCmd.Flags().StringVarP(&preset, "preset", "p", "", "named preset")

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "list runs archived in a SQLite database",
		Args:  cobra.NoArgs,
		RunE:  listHistory,
	}
	historyCmd.Flags().StringVar(&historyDB, "db", "cellode.db", "SQLite database")
	historyCmd.Flags().StringVar(&sweepMetric, "metric", "mass_drift", "metric column to show")

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "grid search model parameters against a run metric",
		Args:  cobra.NoArgs,
		RunE:  runSweep,
	}
	sweepCmd.Flags().StringVarP(&configFile, "config", "c", "", "config file (YAML)")
	sweepCmd.Flags().StringVarP(&preset, "preset", "p", "", "named preset")
	sweepCmd.Flags().Float64Var(&duration, "time", config.DefaultDuration, "simulation duration")
	sweepCmd.Flags().StringArrayVar(&sweepParams, "param", nil, "name=lo:hi:n or name=a,b,c")
	sweepCmd.Flags().StringVar(&sweepMetric, "metric", "mass_drift", "metric to optimize")
	sweepCmd.Flags().BoolVar(&sweepMaximize, "maximize", false, "prefer the largest metric value")

	rootCmd.AddCommand(runCmd, listCmd, plotCmd, showCmd, exportCmd, presetsCmd, modelsCmd, inspectCmd, sweepCmd, historyCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves --preset and --config. A config file wins over a
// preset; explicitly set flags win over both.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	cfg := config.DefaultConfig()
	name := "run"

	if preset != "" {
		cfg = config.GetPreset(preset)
		if cfg == nil {
			return nil, "", fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets())
		}
		name = preset
	}

	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
		name = strings.TrimSuffix(filepath.Base(configFile), ".yaml")
	}

	flags := cmd.Flags()
	if flags.Lookup("dt") != nil && flags.Changed("dt") {
		cfg.Run.Dt = dt
	}
	if flags.Lookup("time") != nil && flags.Changed("time") {
		cfg.Run.Duration = duration
	}
	if flags.Lookup("workers") != nil && flags.Changed("workers") {
		cfg.Run.Workers = workers
	}
	if flags.Lookup("integrator") != nil && flags.Changed("integrator") {
		cfg.Intracellular.Integrator = integrator
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, name, nil
}

func parseSets(values []string) (map[string]float64, []string, error) {
	out := make(map[string]float64, len(values))
	order := make([]string, 0, len(values))
	for _, kv := range values {
		key, raw, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, nil, fmt.Errorf("invalid --set %q, want key=value", kv)
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid --set %q: %w", kv, err)
		}
		if _, seen := out[key]; !seen {
			order = append(order, key)
		}
		out[key] = v
	}
	return out, order, nil
}

// progress logs tick summaries at debug level.
type progress struct {
	every  int
	logger *slog.Logger
}

func (p progress) OnStep(step int, t float64, report tissue.StepReport) {
	if p.every <= 0 || step%p.every != 0 {
		return
	}
	p.logger.Debug("tick", "step", step, "t", t,
		"updated", report.Updated, "skipped", report.Skipped, "failed", report.Failed)
}

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg, name, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	overrides, order, err := parseSets(sets)
	if err != nil {
		return err
	}

	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}

	logger := slog.Default()
	exp := experiment.New(cfg, logger)
	for _, key := range order {
		exp.Set(key, overrides[key])
	}
	if err := exp.Setup(); err != nil {
		return err
	}
	exp.AddObserver(progress{every: cfg.Run.RecordEvery, logger: logger})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("running %s: %d cells, %d voxels, %s/%s...\n",
		name, cfg.Cells.Count, cfg.Microenvironment.Voxels, modelName(cfg), cfg.Intracellular.Integrator)
	start := time.Now()

	result, err := exp.Run(ctx)
	if err != nil && result == nil {
		return err
	}
	if err != nil {
		logger.Warn("run interrupted", "err", err, "steps", result.Steps)
	}
	elapsed := time.Since(start)

	runID, err := st.Save(name, cfg, result)
	if err != nil {
		return err
	}

	if dbPath != "" {
		db, err := persistence.Open(dbPath)
		if err != nil {
			return err
		}
		defer db.Close()
		id, err := db.SaveRun(name, cfg, result)
		if err != nil {
			return fmt.Errorf("archive run: %w", err)
		}
		logger.Info("run archived", "db", dbPath, "id", id)
	}

	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	fmt.Printf("completed in %v\n", elapsed)
	fmt.Println(viz.Summary(meta))
	return nil
}

func modelName(cfg *config.Config) string {
	if cfg.Intracellular.ModelFile != "" {
		return filepath.Base(cfg.Intracellular.ModelFile)
	}
	return cfg.Intracellular.Model
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODEL\tTIME\tDURATION\tDT\tINTEG\tCELLS\tFAILED")

	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%.4f\t%s\t%d\t%d\n",
			run.ID,
			run.Model,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Duration,
			run.Dt,
			run.Integrator,
			run.Cells,
			run.FailedUpdates,
		)
	}

	return w.Flush()
}

func listHistory(cmd *cobra.Command, args []string) error {
	db, err := persistence.Open(historyDB)
	if err != nil {
		return err
	}
	defer db.Close()

	runs, err := db.Runs()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no archived runs")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tNAME\tMODEL\tCREATED\tSTEPS\tFAILED\t%s\n", strings.ToUpper(sweepMetric))
	for _, run := range runs {
		m, err := run.Metrics()
		if err != nil {
			return fmt.Errorf("run %d: %w", run.ID, err)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%g\n",
			run.ID, run.Name, run.Model, run.Created, run.Steps, run.FailedUpdates, m[sweepMetric])
	}
	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}

	records, err := st.LoadRecords(runID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return fmt.Errorf("no data to plot")
	}

	cell := plotCell
	if plotKind != dynamo.KindInternal {
		cell = -1
	}

	names := []string{plotSubstrate}
	if plotSubstrate == "" {
		names = storage.Substrates(records, plotKind)
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("model: %s\n\n", meta.Model)

	for _, name := range names {
		_, values := storage.Series(records, cell, plotKind, name)
		caption := fmt.Sprintf("%s %s", plotKind, name)
		if cell >= 0 {
			caption = fmt.Sprintf("cell %d %s", cell, caption)
		}
		fmt.Println(viz.Plot(values, caption))
		fmt.Println()
	}

	return nil
}

func showRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}
	fmt.Println(viz.Summary(meta))

	records, err := st.LoadRecords(args[0])
	if err != nil {
		return err
	}
	for _, name := range storage.Substrates(records, dynamo.KindField) {
		_, values := storage.Series(records, -1, dynamo.KindField, name)
		fmt.Printf("  %-12s %s\n", name, viz.Sparkline(values, 40))
	}
	return nil
}

func exportRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}

func inspectModel(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	me := cfg.Microenvironment
	field, err := microenv.New(cfg.DensityNames(), me.Voxels, me.VoxelVolume)
	if err != nil {
		return err
	}
	model, err := intracellular.New(cfg.Intracellular, field, me.TrackInternalized, slog.Default())
	if err != nil {
		return err
	}

	def := model.Definition()
	fmt.Println(viz.Title.Render(fmt.Sprintf("%s: %s", model.Type(), def.Name)))
	fmt.Printf("  n_ext=%d n_int=%d intracellular_dt=%g integrator=%s needs_update=%v\n\n",
		def.NExt, def.NInt, cfg.Intracellular.Dt, cfg.Intracellular.Integrator, model.NeedsUpdate())
	fmt.Println(viz.Mappings(model.Registry().Mappings(), model.InternalNames(), model.InternalValues()))

	params := def.Params()
	if names := params.Names(); len(names) > 0 {
		fmt.Println()
		fmt.Println(viz.Title.Render("parameters"))
		for _, n := range names {
			fmt.Printf("  %-16s %g\n", n, params.Get(n))
		}
	}
	return nil
}

// parseRange accepts "lo:hi:n" or a comma separated list.
func parseRange(arg string) (string, []float64, error) {
	name, raw, ok := strings.Cut(arg, "=")
	if !ok || name == "" {
		return "", nil, fmt.Errorf("invalid --param %q, want name=lo:hi:n or name=a,b,c", arg)
	}

	if parts := strings.Split(raw, ":"); len(parts) == 3 {
		lo, err1 := strconv.ParseFloat(parts[0], 64)
		hi, err2 := strconv.ParseFloat(parts[1], 64)
		n, err3 := strconv.Atoi(parts[2])
		if err := errors.Join(err1, err2, err3); err != nil {
			return "", nil, fmt.Errorf("invalid --param %q: %w", arg, err)
		}
		return name, optim.Linspace(lo, hi, n), nil
	}

	var values []float64
	for _, f := range strings.Split(raw, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return "", nil, fmt.Errorf("invalid --param %q: %w", arg, err)
		}
		values = append(values, v)
	}
	return name, values, nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if len(sweepParams) == 0 {
		return fmt.Errorf("sweep needs at least one --param")
	}

	names := make([]string, 0, len(sweepParams))
	ranges := make([][]float64, 0, len(sweepParams))
	for _, arg := range sweepParams {
		name, values, err := parseRange(arg)
		if err != nil {
			return err
		}
		names = append(names, name)
		ranges = append(ranges, values)
	}

	search, err := optim.NewGridSearch(names, ranges)
	if err != nil {
		return err
	}
	if sweepMaximize {
		search.Maximize()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// per-trial run logs are noise here
	quiet := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	build := func(params map[string]float64) (*experiment.Experiment, error) {
		exp := experiment.New(cfg, quiet)
		for _, name := range names {
			exp.Set(name, params[name])
		}
		return exp, nil
	}

	best, trials, err := search.Search(ctx, build, sweepMetric)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.ToUpper(strings.Join(names, "\t"))+"\t"+strings.ToUpper(sweepMetric))
	for _, tr := range trials {
		row := make([]string, 0, len(names)+1)
		for _, name := range names {
			row = append(row, strconv.FormatFloat(tr.Params[name], 'g', 6, 64))
		}
		if tr.Err != nil {
			row = append(row, "error: "+tr.Err.Error())
		} else {
			row = append(row, strconv.FormatFloat(tr.Value, 'g', 6, 64))
		}
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	if ferr := w.Flush(); ferr != nil {
		return ferr
	}
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(viz.Title.Render(fmt.Sprintf("best %s = %g", sweepMetric, best.Value)))
	for _, name := range names {
		fmt.Printf("  %-16s %g\n", name, best.Params[name])
	}
	return nil
}
