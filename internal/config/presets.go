package config

import "sort"

// Presets build fresh configurations so callers may modify the result.
var Presets = map[string]func() *Config{
	"floating": func() *Config {
		return DefaultConfig()
	},
	"floating-deep": func() *Config {
		cfg := DefaultConfig()
		cfg.Controller.Reference.CoMAmplitude = 0.08
		cfg.Sim.Duration = 4.0
		return cfg
	},
	"floating-quick": func() *Config {
		cfg := DefaultConfig()
		cfg.Controller.Reference.Frequency = 0.01
		cfg.Controller.Friction = 0.8
		return cfg
	},
	"fixed": func() *Config {
		cfg := DefaultConfig()
		cfg.Robot.FloatingBase = false
		return cfg
	},
	"fixed-wide": func() *Config {
		cfg := DefaultConfig()
		cfg.Robot.FloatingBase = false
		cfg.Controller.Reference.ToeAmplitude = 0.15
		cfg.Sim.Duration = 4.0
		return cfg
	},
}

func GetPreset(name string) *Config {
	build, ok := Presets[name]
	if !ok {
		return nil
	}
	return build()
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
