// Package optim sweeps model parameters over a grid of experiment runs.
package optim

import (
	"context"
	"fmt"
	"math"

	"github.com/san-kum/cellode/internal/experiment"
)

// Builder returns an experiment, not yet set up, with params applied.
type Builder func(params map[string]float64) (*experiment.Experiment, error)

type Trial struct {
	Params map[string]float64
	Value  float64
	Err    error
}

type GridSearch struct {
	paramNames []string
	ranges     [][]float64
	maximize   bool
}

func NewGridSearch(params []string, ranges [][]float64) (*GridSearch, error) {
	if len(params) != len(ranges) {
		return nil, fmt.Errorf("grid search: %d params but %d ranges", len(params), len(ranges))
	}
	for i, r := range ranges {
		if len(r) == 0 {
			return nil, fmt.Errorf("grid search: empty range for %s", params[i])
		}
	}
	return &GridSearch{paramNames: params, ranges: ranges}, nil
}

// Maximize flips the search to prefer the largest metric value.
func (g *GridSearch) Maximize() *GridSearch {
	g.maximize = true
	return g
}

// Search runs every point of the grid and returns the best trial together
// with all trials in grid order. Trials that fail to build or run carry
// their error and never win. A cancelled context stops the sweep.
func (g *GridSearch) Search(ctx context.Context, build Builder, metricName string) (Trial, []Trial, error) {
	best := Trial{Value: math.Inf(1)}
	if g.maximize {
		best.Value = math.Inf(-1)
	}
	found := false

	var trials []Trial
	err := g.searchRecursive(ctx, 0, make(map[string]float64), func(params map[string]float64) {
		trial := g.run(ctx, build, params, metricName)
		trials = append(trials, trial)
		if trial.Err != nil || math.IsNaN(trial.Value) {
			return
		}
		if g.better(trial.Value, best.Value) {
			best = trial
			found = true
		}
	})
	if err != nil {
		return Trial{}, trials, err
	}
	if !found {
		return Trial{}, trials, fmt.Errorf("grid search: no successful trial for %s", metricName)
	}
	return best, trials, nil
}

func (g *GridSearch) better(v, best float64) bool {
	if g.maximize {
		return v > best
	}
	return v < best
}

func (g *GridSearch) run(ctx context.Context, build Builder, params map[string]float64, metricName string) Trial {
	trial := Trial{Params: params}

	exp, err := build(params)
	if err != nil {
		trial.Err = err
		return trial
	}
	if err := exp.Setup(); err != nil {
		trial.Err = err
		return trial
	}
	result, err := exp.Run(ctx)
	if err != nil {
		trial.Err = err
		return trial
	}

	val, ok := result.Metrics[metricName]
	if !ok {
		trial.Err = fmt.Errorf("unknown metric: %s", metricName)
		return trial
	}
	trial.Value = val
	return trial
}

func (g *GridSearch) searchRecursive(
	ctx context.Context,
	depth int,
	current map[string]float64,
	visit func(map[string]float64),
) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if depth == len(g.paramNames) {
		visit(current)
		return nil
	}

	paramName := g.paramNames[depth]
	for _, val := range g.ranges[depth] {
		newParams := make(map[string]float64, len(current)+1)
		for k, v := range current {
			newParams[k] = v
		}
		newParams[paramName] = val

		if err := g.searchRecursive(ctx, depth+1, newParams, visit); err != nil {
			return err
		}
	}
	return nil
}

// Linspace returns n evenly spaced values from lo to hi inclusive.
func Linspace(lo, hi float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{lo}
	}
	out := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	return out
}
