package config

import (
	"errors"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/wbcsim/internal/logging"
	"github.com/san-kum/wbcsim/internal/qp"
)

const (
	DefaultDt        = 0.001
	DefaultDuration  = 2.0
	DefaultFriction  = 0.6
	DefaultQaccBound = 100.0

	DefaultIntegrator             = "semi_implicit"
	DefaultMaxConsecutiveFailures = 50

	DefaultToeHeight    = -0.839273
	DefaultToeAmplitude = 0.10
	DefaultCoMHeight    = 0.892442
	DefaultCoMAmplitude = 0.05
	DefaultFrequency    = 0.004
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

type Config struct {
	Robot      RobotConfig      `yaml:"robot"`
	Controller ControllerConfig `yaml:"controller"`
	Solver     qp.Settings      `yaml:"solver"`
	Sim        SimConfig        `yaml:"sim"`
	Log        logging.Config   `yaml:"log"`
}

type RobotConfig struct {
	// Description is a YAML robot description; empty selects the built-in biped.
	Description  string `yaml:"description,omitempty"`
	FloatingBase bool   `yaml:"floating_base"`
}

// TaskGains configure one motion task. A single-element slice is
// broadcast over every row of the task; an empty Kd selects critical
// damping 2√Kp.
type TaskGains struct {
	Kp     []float64 `yaml:"kp"`
	Kd     []float64 `yaml:"kd,omitempty"`
	Weight []float64 `yaml:"weight"`
}

type RegularizationConfig struct {
	Qacc  float64 `yaml:"qacc"`
	Force float64 `yaml:"force"`
}

// ReferenceConfig is the sinusoid tracked during a run. Frequency is in
// radians per control tick.
type ReferenceConfig struct {
	ToeHeight    float64 `yaml:"toe_height"`
	ToeAmplitude float64 `yaml:"toe_amplitude"`
	CoMHeight    float64 `yaml:"com_height"`
	CoMAmplitude float64 `yaml:"com_amplitude"`
	Frequency    float64 `yaml:"frequency"`
}

type ControllerConfig struct {
	Torso           TaskGains            `yaml:"torso"`
	RightToe        TaskGains            `yaml:"right_toe"`
	LeftToe         TaskGains            `yaml:"left_toe"`
	CoM             TaskGains            `yaml:"com"`
	AngularMomentum TaskGains            `yaml:"angular_momentum"`
	JointsNominal   TaskGains            `yaml:"joints_nominal"`
	Regularization  RegularizationConfig `yaml:"regularization"`
	Friction        float64              `yaml:"friction"`
	// MaxNormalForce of 0 leaves the normal contact force unbounded above.
	MaxNormalForce float64         `yaml:"max_normal_force"`
	QaccBound      float64         `yaml:"qacc_bound"`
	Reference      ReferenceConfig `yaml:"reference"`
}

type SimConfig struct {
	Dt       float64 `yaml:"dt"`
	Duration float64 `yaml:"duration"`
	// Ticks overrides Duration when positive.
	Ticks int `yaml:"ticks,omitempty"`
	// ContactMask is the initial active-contact mask; empty means every
	// contact on a floating base and none on a fixed base.
	ContactMask []bool `yaml:"contact_mask,omitempty"`
	// Integrator names the plant integrator.
	Integrator string `yaml:"integrator"`
	// MaxConsecutiveFailures stops a run after that many failed ticks in a
	// row; 0 never stops.
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"`
}

func critical(kp []float64) []float64 {
	kd := make([]float64, len(kp))
	for i, k := range kp {
		kd[i] = 2 * math.Sqrt(k)
	}
	return kd
}

func fill(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// ReferenceLeftToeGains is the left-toe gain set of the reference
// controller: Kp 500 on every axis, damping taken from the right-toe
// stiffness and a weight 1000 times the torso's. On the built-in biped
// its light passive toe links let that stiffness drive a knee
// self-motion until the closed chains and the q̈ bound conflict, so the
// defaults do not use it.
func ReferenceLeftToeGains() TaskGains {
	rightKp := []float64{100, 100, 100, 500, 500, 500}
	return TaskGains{Kp: fill(6, 500), Kd: critical(rightKp), Weight: fill(6, 1e6)}
}

// DefaultControllerConfig is the reference gain set of the biped, with
// both toes on the right-toe gains.
func DefaultControllerConfig() ControllerConfig {
	torsoKp := []float64{0, 0, 0, 500, 500, 500}
	rightKp := []float64{100, 100, 100, 500, 500, 500}
	toeWeight := []float64{500, 500, 500, 1000, 1000, 1000}
	torsoWeight := fill(6, 1000)
	comKp := fill(3, 500)
	return ControllerConfig{
		Torso:           TaskGains{Kp: torsoKp, Kd: critical(torsoKp), Weight: torsoWeight},
		RightToe:        TaskGains{Kp: rightKp, Kd: critical(rightKp), Weight: toeWeight},
		LeftToe:         TaskGains{Kp: append([]float64(nil), rightKp...), Kd: critical(rightKp), Weight: append([]float64(nil), toeWeight...)},
		CoM:             TaskGains{Kp: comKp, Kd: critical(comKp), Weight: fill(3, 500)},
		AngularMomentum: TaskGains{Kp: fill(3, 100), Weight: fill(3, 10)},
		JointsNominal:   TaskGains{Kp: []float64{100}, Kd: []float64{0.5}, Weight: []float64{1}},
		Regularization:  RegularizationConfig{Qacc: 1e-3, Force: 1e-5},
		Friction:        DefaultFriction,
		QaccBound:       DefaultQaccBound,
		Reference: ReferenceConfig{
			ToeHeight:    DefaultToeHeight,
			ToeAmplitude: DefaultToeAmplitude,
			CoMHeight:    DefaultCoMHeight,
			CoMAmplitude: DefaultCoMAmplitude,
			Frequency:    DefaultFrequency,
		},
	}
}

func DefaultConfig() *Config {
	return &Config{
		Robot:      RobotConfig{FloatingBase: true},
		Controller: DefaultControllerConfig(),
		Solver:     qp.DefaultSettings(),
		Sim: SimConfig{
			Dt:                     DefaultDt,
			Duration:               DefaultDuration,
			Integrator:             DefaultIntegrator,
			MaxConsecutiveFailures: DefaultMaxConsecutiveFailures,
		},
		Log: logging.DefaultConfig(),
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
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

// Resolve expands g over a task of dim rows. A nil kd means critical
// damping.
func (g TaskGains) Resolve(dim int) (kp, kd, weight []float64, err error) {
	expand := func(field string, v []float64, optional bool) ([]float64, error) {
		switch {
		case len(v) == 0 && optional:
			return nil, nil
		case len(v) == 1:
			return fill(dim, v[0]), nil
		case len(v) == dim:
			return append([]float64(nil), v...), nil
		}
		return nil, fmt.Errorf("%w: %s has %d entries, task has %d rows", ErrInvalidConfig, field, len(v), dim)
	}
	if kp, err = expand("kp", g.Kp, false); err != nil {
		return nil, nil, nil, err
	}
	if kd, err = expand("kd", g.Kd, true); err != nil {
		return nil, nil, nil, err
	}
	if kd == nil {
		kd = critical(kp)
	}
	if weight, err = expand("weight", g.Weight, false); err != nil {
		return nil, nil, nil, err
	}
	for _, vals := range [][]float64{kp, kd, weight} {
		for _, v := range vals {
			if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, nil, nil, fmt.Errorf("%w: gains and weights must be finite and non-negative", ErrInvalidConfig)
			}
		}
	}
	return kp, kd, weight, nil
}

// NumTicks is the number of control ticks a run takes.
func (s SimConfig) NumTicks() int {
	if s.Ticks > 0 {
		return s.Ticks
	}
	return int(math.Round(s.Duration / s.Dt))
}

func (c *Config) Validate() error {
	s, ct := c.Sim, c.Controller
	switch {
	case s.Dt <= 0 || math.IsNaN(s.Dt):
		return fmt.Errorf("%w: sim.dt must be positive, got %g", ErrInvalidConfig, s.Dt)
	case s.MaxConsecutiveFailures < 0:
		return fmt.Errorf("%w: sim.max_consecutive_failures must not be negative", ErrInvalidConfig)
	case s.Ticks < 0:
		return fmt.Errorf("%w: sim.ticks must not be negative", ErrInvalidConfig)
	case s.Ticks == 0 && !(s.Duration > 0):
		return fmt.Errorf("%w: sim.duration must be positive, got %g", ErrInvalidConfig, s.Duration)
	case !(ct.Friction > 0):
		return fmt.Errorf("%w: controller.friction must be positive, got %g", ErrInvalidConfig, ct.Friction)
	case ct.MaxNormalForce < 0:
		return fmt.Errorf("%w: controller.max_normal_force must not be negative", ErrInvalidConfig)
	case !(ct.QaccBound > 0):
		return fmt.Errorf("%w: controller.qacc_bound must be positive, got %g", ErrInvalidConfig, ct.QaccBound)
	case ct.Regularization.Qacc < 0 || ct.Regularization.Force < 0:
		return fmt.Errorf("%w: regularization weights must not be negative", ErrInvalidConfig)
	}
	tasks := map[string]struct {
		g   TaskGains
		dim int
	}{
		"torso":            {ct.Torso, 6},
		"right_toe":        {ct.RightToe, 6},
		"left_toe":         {ct.LeftToe, 6},
		"com":              {ct.CoM, 3},
		"angular_momentum": {ct.AngularMomentum, 3},
	}
	for name, task := range tasks {
		if _, _, _, err := task.g.Resolve(task.dim); err != nil {
			return fmt.Errorf("controller.%s: %w", name, err)
		}
	}
	// joint count depends on the robot, so only broadcast gains are checked here
	for _, v := range [][]float64{ct.JointsNominal.Kp, ct.JointsNominal.Weight} {
		if len(v) == 0 {
			return fmt.Errorf("%w: controller.joints_nominal needs kp and weight", ErrInvalidConfig)
		}
	}
	if err := c.Solver.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
