package experiment

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/san-kum/wbcsim/internal/config"
	"github.com/san-kum/wbcsim/internal/integrators"
	"github.com/san-kum/wbcsim/internal/robot"
	"github.com/san-kum/wbcsim/internal/sim"
)

// Registry resolves the names a configuration refers to.
type Registry struct {
	models map[string]func(floatingBase bool) (*robot.Tree, error)
}

func NewRegistry() *Registry {
	r := &Registry{
		models: make(map[string]func(bool) (*robot.Tree, error)),
	}
	r.models["biped"] = robot.NewBiped
	return r
}

// Model builds a fresh tree for rc. Description is a registered model name
// ("biped" when empty) or the path of a YAML description file.
func (r *Registry) Model(rc config.RobotConfig) (*robot.Tree, error) {
	name := rc.Description
	if name == "" {
		name = "biped"
	}
	if fn, ok := r.models[name]; ok {
		return fn(rc.FloatingBase)
	}
	if ext := filepath.Ext(name); ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unknown model: %s (available: %s)", name, strings.Join(r.ListModels(), ", "))
	}
	desc, err := robot.LoadDescription(name)
	if err != nil {
		return nil, err
	}
	return robot.NewTree(desc, rc.FloatingBase)
}

func (r *Registry) Integrator(name string) (sim.Integrator, error) {
	integ, ok := integrators.New(name)
	if !ok {
		return nil, fmt.Errorf("unknown integrator: %s (available: %s)", name, strings.Join(integrators.Names(), ", "))
	}
	return integ, nil
}

func (r *Registry) ListModels() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
