// Package automation runs scripted sequences of experiments and
// randomized robustness trials.
package automation

import (
	"context"
	"fmt"
	"math/rand"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/wbcsim/internal/config"
	"github.com/san-kum/wbcsim/internal/experiment"
	"github.com/san-kum/wbcsim/internal/sim"
	"github.com/san-kum/wbcsim/internal/storage"
)

// Scenario defines a scripted simulation sequence
type Scenario struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Steps       []ScenarioStep `yaml:"steps"`
}

// ScenarioStep is one run: a preset or config file, overrides, and
// an optional name to save the run under.
type ScenarioStep struct {
	Preset     string             `yaml:"preset"`
	Config     string             `yaml:"config"`
	Integrator string             `yaml:"integrator"`
	Dt         float64            `yaml:"dt"`
	Duration   float64            `yaml:"duration"`
	Ticks      int                `yaml:"ticks"`
	Params     map[string]float64 `yaml:"params"`
	SaveAs     string             `yaml:"save_as"`
}

// StepResult pairs a finished step with its stored run, if saved.
type StepResult struct {
	Name   string
	RunID  string
	Result *sim.Result
}

func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if len(scenario.Steps) == 0 {
		return nil, fmt.Errorf("scenario %s has no steps", path)
	}
	return &scenario, nil
}

// Build resolves the step's configuration: config file if given, else
// the preset, then the overrides.
func (s ScenarioStep) Build() (*config.Config, error) {
	var cfg *config.Config
	switch {
	case s.Config != "":
		c, err := config.Load(s.Config)
		if err != nil {
			return nil, err
		}
		cfg = c
	default:
		name := s.Preset
		if name == "" {
			name = "floating"
		}
		if cfg = config.GetPreset(name); cfg == nil {
			return nil, fmt.Errorf("unknown preset %q", name)
		}
	}

	if s.Integrator != "" {
		cfg.Sim.Integrator = s.Integrator
	}
	if s.Dt > 0 {
		cfg.Sim.Dt = s.Dt
	}
	if s.Duration > 0 {
		cfg.Sim.Duration = s.Duration
	}
	if s.Ticks > 0 {
		cfg.Sim.Ticks = s.Ticks
	}
	for name, v := range s.Params {
		if err := cfg.SetParam(name, v); err != nil {
			return nil, err
		}
	}
	return cfg, cfg.Validate()
}

func (s ScenarioStep) name(i int) string {
	switch {
	case s.SaveAs != "":
		return s.SaveAs
	case s.Preset != "":
		return s.Preset
	}
	return fmt.Sprintf("step%d", i+1)
}

// RunScenario executes the steps in order, stopping at the first error.
// Steps with save_as are written to store when it is non-nil.
func RunScenario(ctx context.Context, scenario *Scenario, store *storage.Store, logger *zap.Logger) ([]StepResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	results := make([]StepResult, 0, len(scenario.Steps))

	for i, step := range scenario.Steps {
		name := step.name(i)
		logger.Info("scenario step",
			zap.String("scenario", scenario.Name),
			zap.Int("step", i+1),
			zap.Int("of", len(scenario.Steps)),
			zap.String("name", name))

		cfg, err := step.Build()
		if err != nil {
			return results, fmt.Errorf("step %d: %w", i+1, err)
		}
		exp := experiment.New(name, cfg, experiment.WithLogger(logger))
		if err := exp.Setup(); err != nil {
			return results, fmt.Errorf("step %d setup: %w", i+1, err)
		}
		result, err := exp.Run(ctx)
		if err != nil {
			return results, fmt.Errorf("step %d run: %w", i+1, err)
		}

		sr := StepResult{Name: name, Result: result}
		if step.SaveAs != "" && store != nil {
			sr.RunID, err = store.Save(storage.RunInfo{
				Preset:     step.SaveAs,
				Profile:    exp.Profile().String(),
				Dt:         cfg.Sim.Dt,
				Integrator: cfg.Sim.Integrator,
			}, result)
			if err != nil {
				return results, fmt.Errorf("step %d save: %w", i+1, err)
			}
		}
		results = append(results, sr)
	}

	return results, nil
}

// MonteCarloConfig perturbs the initial joint velocities of a preset.
type MonteCarloConfig struct {
	Preset       string
	Perturbation float64
	NumTrials    int
	Ticks        int
	Seed         int64
}

type MonteCarloResult struct {
	TrialID      int
	InitVelocity []float64
	Failures     float64
	TrackingRMS  float64

	// Stable is false when the run stopped early.
	Stable bool
}

// RunMonteCarlo runs NumTrials concurrent trials, each starting from
// the home configuration with joint velocities drawn uniformly from
// ±Perturbation.
func RunMonteCarlo(ctx context.Context, cfg *MonteCarloConfig) ([]MonteCarloResult, error) {
	if cfg.NumTrials <= 0 {
		return nil, fmt.Errorf("num trials must be positive, got %d", cfg.NumTrials)
	}
	rng := rand.New(rand.NewSource(cfg.Seed))

	jobs := make([]sim.Job, cfg.NumTrials)
	inits := make([][]float64, cfg.NumTrials)
	for trial := range jobs {
		c := config.GetPreset(cfg.Preset)
		if c == nil {
			return nil, fmt.Errorf("unknown preset %q", cfg.Preset)
		}
		if cfg.Ticks > 0 {
			c.Sim.Ticks = cfg.Ticks
		}
		// one stream per trial keeps draws independent of goroutine order
		trng := rand.New(rand.NewSource(rng.Int63()))
		idx := trial
		// the floating base starts at rest
		first := 0
		if c.Robot.FloatingBase {
			first = 6
		}
		jobs[trial] = experiment.New(fmt.Sprintf("trial%d", trial), c).PerturbedJob(func(_, v0 []float64) {
			for i := first; i < len(v0); i++ {
				v0[i] = (trng.Float64()*2 - 1) * cfg.Perturbation
			}
			inits[idx] = append([]float64(nil), v0...)
		})
	}

	results, err := sim.NewBatch(jobs...).Run(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]MonteCarloResult, len(results))
	for i, res := range results {
		out[i] = MonteCarloResult{
			TrialID:      i,
			InitVelocity: inits[i],
			Failures:     res.Metrics["failures"],
			TrackingRMS:  res.Metrics["tracking_rms"],
			Stable:       !res.Stopped(),
		}
	}
	return out, nil
}

// StableFraction is the share of trials that ran to completion.
func StableFraction(results []MonteCarloResult) float64 {
	if len(results) == 0 {
		return 0
	}
	n := 0
	for _, r := range results {
		if r.Stable {
			n++
		}
	}
	return float64(n) / float64(len(results))
}
