package robot

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Description is the serializable form of a rigid-body tree. Joints are
// listed parents first; a joint whose Parent is empty hangs off the base.
type Description struct {
	Name         string      `yaml:"name"`
	Base         BodySpec    `yaml:"base"`
	BasePosition [3]float64  `yaml:"base_position"`
	Joints       []JointSpec `yaml:"joints"`
	Frames       []FrameSpec `yaml:"frames"`
	Gravity      float64     `yaml:"gravity"`
}

type BodySpec struct {
	Name    string     `yaml:"name"`
	Mass    float64    `yaml:"mass"`
	CoM     [3]float64 `yaml:"com"`
	Inertia [3]float64 `yaml:"inertia"`
}

// JointSpec describes a revolute joint and the body it moves. Origin is
// the joint position in the parent body frame; Axis is expressed in the
// parent body frame.
type JointSpec struct {
	Name        string     `yaml:"name"`
	Parent      string     `yaml:"parent"`
	Origin      [3]float64 `yaml:"origin"`
	Axis        [3]float64 `yaml:"axis"`
	Actuated    bool       `yaml:"actuated"`
	EffortLimit float64    `yaml:"effort_limit"`
	Home        float64    `yaml:"home"`
	Body        BodySpec   `yaml:"body"`
}

type FrameSpec struct {
	Name   string     `yaml:"name"`
	Body   string     `yaml:"body"`
	Offset [3]float64 `yaml:"offset"`
}

func LoadDescription(path string) (*Description, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var desc Description
	if err := yaml.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	return &desc, nil
}

func SaveDescription(path string, desc *Description) error {
	data, err := yaml.Marshal(desc)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks name uniqueness, parent ordering and physical values.
func (d *Description) Validate() error {
	if d.Base.Name == "" {
		return fmt.Errorf("%w: base body has no name", ErrInvalidDescription)
	}
	if d.Base.Mass <= 0 {
		return fmt.Errorf("%w: base body %q needs positive mass", ErrInvalidDescription, d.Base.Name)
	}
	bodies := map[string]bool{d.Base.Name: true}
	joints := map[string]bool{}
	for _, j := range d.Joints {
		if j.Name == "" || joints[j.Name] {
			return fmt.Errorf("%w: joint name %q empty or duplicated", ErrInvalidDescription, j.Name)
		}
		joints[j.Name] = true
		if j.Parent != "" && !bodies[j.Parent] {
			return fmt.Errorf("%w: joint %q references parent %q before it is defined", ErrInvalidDescription, j.Name, j.Parent)
		}
		if j.Body.Name == "" || bodies[j.Body.Name] {
			return fmt.Errorf("%w: body name %q empty or duplicated", ErrInvalidDescription, j.Body.Name)
		}
		if j.Body.Mass < 0 {
			return fmt.Errorf("%w: body %q has negative mass", ErrInvalidDescription, j.Body.Name)
		}
		if j.Axis == [3]float64{} {
			return fmt.Errorf("%w: joint %q has a zero axis", ErrInvalidDescription, j.Name)
		}
		if j.Actuated && j.EffortLimit <= 0 {
			return fmt.Errorf("%w: actuated joint %q needs a positive effort limit", ErrInvalidDescription, j.Name)
		}
		bodies[j.Body.Name] = true
	}
	frames := map[string]bool{}
	for _, f := range d.Frames {
		if f.Name == "" || frames[f.Name] || bodies[f.Name] {
			return fmt.Errorf("%w: frame name %q empty or duplicated", ErrInvalidDescription, f.Name)
		}
		if !bodies[f.Body] {
			return fmt.Errorf("%w: frame %q attached to unknown body %q", ErrInvalidDescription, f.Name, f.Body)
		}
		frames[f.Name] = true
	}
	return nil
}
