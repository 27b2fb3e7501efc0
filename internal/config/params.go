package config

import (
	"fmt"
	"sort"
	"strings"
)

// ParamNames lists the names accepted by SetParam.
func ParamNames() []string {
	names := []string{
		"friction", "max_normal_force", "qacc_bound",
		"regularization.qacc", "regularization.force",
		"reference.toe_height", "reference.toe_amplitude",
		"reference.com_height", "reference.com_amplitude", "reference.frequency",
	}
	for task := range taskNames {
		for _, field := range []string{"kp", "kp_scale", "weight", "weight_scale"} {
			names = append(names, task+"."+field)
		}
	}
	sort.Strings(names)
	return names
}

var taskNames = map[string]func(*ControllerConfig) *TaskGains{
	"torso":            func(c *ControllerConfig) *TaskGains { return &c.Torso },
	"right_toe":        func(c *ControllerConfig) *TaskGains { return &c.RightToe },
	"left_toe":         func(c *ControllerConfig) *TaskGains { return &c.LeftToe },
	"com":              func(c *ControllerConfig) *TaskGains { return &c.CoM },
	"angular_momentum": func(c *ControllerConfig) *TaskGains { return &c.AngularMomentum },
	"joints_nominal":   func(c *ControllerConfig) *TaskGains { return &c.JointsNominal },
}

// SetParam sets one controller parameter by name. For a task,
// "<task>.kp" and "<task>.weight" replace every entry with v while the
// _scale forms multiply the current entries; kd is left as configured.
func (c *Config) SetParam(name string, v float64) error {
	ct := &c.Controller
	scalars := map[string]*float64{
		"friction":                &ct.Friction,
		"max_normal_force":        &ct.MaxNormalForce,
		"qacc_bound":              &ct.QaccBound,
		"regularization.qacc":     &ct.Regularization.Qacc,
		"regularization.force":    &ct.Regularization.Force,
		"reference.toe_height":    &ct.Reference.ToeHeight,
		"reference.toe_amplitude": &ct.Reference.ToeAmplitude,
		"reference.com_height":    &ct.Reference.CoMHeight,
		"reference.com_amplitude": &ct.Reference.CoMAmplitude,
		"reference.frequency":     &ct.Reference.Frequency,
	}
	if p, ok := scalars[name]; ok {
		*p = v
		return nil
	}

	task, field, _ := strings.Cut(name, ".")
	gains, ok := taskNames[task]
	if !ok {
		return fmt.Errorf("%w: unknown parameter %q", ErrInvalidConfig, name)
	}
	g := gains(ct)
	switch field {
	case "kp":
		g.Kp = []float64{v}
	case "kp_scale":
		g.Kp = scaled(g.Kp, v)
	case "weight":
		g.Weight = []float64{v}
	case "weight_scale":
		g.Weight = scaled(g.Weight, v)
	default:
		return fmt.Errorf("%w: unknown parameter %q", ErrInvalidConfig, name)
	}
	return nil
}

func scaled(xs []float64, k float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = x * k
	}
	return out
}
