package config

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if !cfg.Robot.FloatingBase {
		t.Error("expected floating base by default")
	}
	if cfg.Sim.Dt <= 0 {
		t.Error("dt should be positive")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	if got := cfg.Sim.NumTicks(); got != 2000 {
		t.Errorf("expected 2000 ticks, got %d", got)
	}
}

func TestDefaultGains(t *testing.T) {
	c := DefaultControllerConfig()

	kp, kd, w, err := c.LeftToe.Resolve(6)
	if err != nil {
		t.Fatal(err)
	}
	rkp, rkd, rw, err := c.RightToe.Resolve(6)
	if err != nil {
		t.Fatal(err)
	}
	for i := range 6 {
		if kp[i] != rkp[i] || kd[i] != rkd[i] || w[i] != rw[i] {
			t.Fatalf("left toe %v %v %v, right toe %v %v %v", kp, kd, w, rkp, rkd, rw)
		}
	}
	if kp[0] != 100 || w[5] != 1000 {
		t.Errorf("left toe kp %v weight %v", kp, w)
	}
	// toe gains are copies, scaling one toe leaves the other alone
	c.LeftToe.Weight[0] = 7
	if c.RightToe.Weight[0] != 500 {
		t.Errorf("right toe weight aliases left toe")
	}

	ref := ReferenceLeftToeGains()
	kp, kd, w, err = ref.Resolve(6)
	if err != nil {
		t.Fatal(err)
	}
	if kp[0] != 500 || w[0] != 1e6 {
		t.Errorf("reference left toe kp %v weight %v", kp, w)
	}
	// reference left toe damping follows the right toe stiffness
	if kd[0] != 20 || math.Abs(kd[5]-2*math.Sqrt(500)) > 1e-12 {
		t.Errorf("reference left toe kd %v", kd)
	}

	kp, kd, _, err = c.JointsNominal.Resolve(12)
	if err != nil {
		t.Fatal(err)
	}
	if len(kp) != 12 || kp[11] != 100 || kd[3] != 0.5 {
		t.Errorf("joints nominal kp %v kd %v", kp, kd)
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		gains   TaskGains
		wantErr bool
	}{
		{"broadcast", TaskGains{Kp: []float64{4}, Weight: []float64{1}}, false},
		{"full", TaskGains{Kp: []float64{1, 2, 3}, Kd: []float64{1, 1, 1}, Weight: []float64{1, 1, 1}}, false},
		{"missing kp", TaskGains{Weight: []float64{1}}, true},
		{"wrong length", TaskGains{Kp: []float64{1, 2}, Weight: []float64{1}}, true},
		{"negative weight", TaskGains{Kp: []float64{1}, Weight: []float64{-1}}, true},
		{"nan gain", TaskGains{Kp: []float64{math.NaN()}, Weight: []float64{1}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, kd, _, err := tt.gains.Resolve(3)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && tt.gains.Kd == nil && kd[0] != 2*math.Sqrt(tt.gains.Kp[0]) {
				t.Errorf("expected critical damping, got %v", kd)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero dt", func(c *Config) { c.Sim.Dt = 0 }},
		{"no duration", func(c *Config) { c.Sim.Duration = 0 }},
		{"zero friction", func(c *Config) { c.Controller.Friction = 0 }},
		{"zero qacc bound", func(c *Config) { c.Controller.QaccBound = 0 }},
		{"short torso gains", func(c *Config) { c.Controller.Torso.Kp = []float64{1, 2} }},
		{"bad solver", func(c *Config) { c.Solver.MaxIter = 0 }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestTicksOverrideDuration(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sim.Duration = 0
	cfg.Sim.Ticks = 50
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Sim.NumTicks() != 50 {
		t.Errorf("expected 50 ticks, got %d", cfg.Sim.NumTicks())
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	data := []byte("robot:\n  floating_base: false\ncontroller:\n  friction: 0.9\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Robot.FloatingBase || cfg.Controller.Friction != 0.9 {
		t.Errorf("file values not applied: %+v", cfg.Robot)
	}
	if cfg.Controller.QaccBound != DefaultQaccBound || cfg.Solver.MaxIter == 0 {
		t.Error("defaults lost for keys absent from the file")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("sim:\n  dt: -1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestGetPreset(t *testing.T) {
	cfg := GetPreset("fixed")
	if cfg == nil {
		t.Fatal("expected preset, got nil")
	}
	if cfg.Robot.FloatingBase {
		t.Error("fixed preset has a floating base")
	}
	cfg.Controller.Friction = 5
	if GetPreset("fixed").Controller.Friction != DefaultFriction {
		t.Error("presets share state between calls")
	}
	if GetPreset("nonexistent") != nil {
		t.Error("expected nil for nonexistent preset")
	}
}

func TestListPresets(t *testing.T) {
	presets := ListPresets()
	if len(presets) != len(Presets) {
		t.Fatalf("expected %d presets, got %d", len(Presets), len(presets))
	}
	for _, name := range presets {
		if err := GetPreset(name).Validate(); err != nil {
			t.Errorf("preset %s invalid: %v", name, err)
		}
	}
}

func TestSetParam(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		name  string
		value float64
		check func() bool
	}{
		{"friction", 0.9, func() bool { return cfg.Controller.Friction == 0.9 }},
		{"reference.com_amplitude", 0.02, func() bool { return cfg.Controller.Reference.CoMAmplitude == 0.02 }},
		{"com.kp", 300, func() bool { return len(cfg.Controller.CoM.Kp) == 1 && cfg.Controller.CoM.Kp[0] == 300 }},
		{"torso.kp_scale", 2, func() bool { return cfg.Controller.Torso.Kp[0] == 0 && cfg.Controller.Torso.Kp[5] == 1000 }},
		{"right_toe.weight_scale", 0.5, func() bool { return cfg.Controller.RightToe.Weight[3] == 500 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := cfg.SetParam(tt.name, tt.value); err != nil {
				t.Fatal(err)
			}
			if !tt.check() {
				t.Errorf("%s=%g not applied", tt.name, tt.value)
			}
		})
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("config invalid after SetParam: %v", err)
	}

	for _, bad := range []string{"gravity", "com.kd", "knee.kp"} {
		if err := cfg.SetParam(bad, 1); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%s: expected ErrInvalidConfig, got %v", bad, err)
		}
	}
	if len(ParamNames()) != 10+6*4 {
		t.Errorf("unexpected parameter count %d", len(ParamNames()))
	}
}
