// Package optim tunes controller parameters by running closed-loop
// experiments over a grid of values.
package optim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/san-kum/wbcsim/internal/config"
	"github.com/san-kum/wbcsim/internal/experiment"
	"github.com/san-kum/wbcsim/internal/sim"
)

var ErrEmptyGrid = errors.New("optim: empty parameter grid")

// Trial is one grid point and the metric it scored. Runs that stopped
// early on consecutive failures score +Inf.
type Trial struct {
	Params   map[string]float64
	Score    float64
	Failures float64
	Stopped  bool
}

type GridSearch struct {
	paramNames []string
	ranges     [][]float64

	// Parallel bounds how many experiments run at once.
	Parallel int
}

func NewGridSearch(params []string, ranges [][]float64) *GridSearch {
	return &GridSearch{paramNames: params, ranges: ranges, Parallel: 4}
}

// Points enumerates every combination, the last parameter varying fastest.
func (g *GridSearch) Points() []map[string]float64 {
	if len(g.paramNames) == 0 || len(g.paramNames) != len(g.ranges) {
		return nil
	}
	points := []map[string]float64{{}}
	for i, name := range g.paramNames {
		var next []map[string]float64
		for _, p := range points {
			for _, v := range g.ranges[i] {
				q := make(map[string]float64, len(p)+1)
				for k, pv := range p {
					q[k] = pv
				}
				q[name] = v
				next = append(next, q)
			}
		}
		points = next
	}
	return points
}

// Search runs one experiment per grid point, each on a fresh config from
// base, and returns the trials ranked by ascending metric.
func (g *GridSearch) Search(
	ctx context.Context,
	base func() *config.Config,
	metricName string,
	opts ...experiment.Option,
) ([]Trial, error) {
	points := g.Points()
	if len(points) == 0 {
		return nil, ErrEmptyGrid
	}

	jobs := make([]sim.Job, len(points))
	for i, p := range points {
		cfg := base()
		for _, name := range g.paramNames {
			if err := cfg.SetParam(name, p[name]); err != nil {
				return nil, err
			}
		}
		jobs[i] = experiment.New(label(g.paramNames, p), cfg, opts...).Job()
	}

	trials := make([]Trial, 0, len(points))
	for start := 0; start < len(jobs); start += g.chunk() {
		end := min(start+g.chunk(), len(jobs))
		results, err := sim.NewBatch(jobs[start:end]...).Run(ctx)
		if err != nil {
			return nil, err
		}
		for i, res := range results {
			score, ok := res.Metrics[metricName]
			if !ok {
				return nil, fmt.Errorf("optim: unknown metric %q", metricName)
			}
			tr := Trial{Params: points[start+i], Score: score, Failures: res.Metrics["failures"]}
			if res.Stopped() || math.IsNaN(score) {
				tr.Stopped = true
				tr.Score = math.Inf(1)
			}
			trials = append(trials, tr)
		}
	}

	sort.SliceStable(trials, func(i, j int) bool { return trials[i].Score < trials[j].Score })
	return trials, nil
}

func (g *GridSearch) chunk() int {
	if g.Parallel < 1 {
		return 1
	}
	return g.Parallel
}

func label(names []string, p map[string]float64) string {
	s := ""
	for i, n := range names {
		if i > 0 {
			s += ","
		}
		s += fmt.Sprintf("%s=%g", n, p[n])
	}
	return s
}
