package sim

import (
	"github.com/san-kum/wbcsim/internal/robot"
	"github.com/san-kum/wbcsim/internal/tsc"
)

// Plant simulates a robot model of its own, separate from the
// controller's, with the active contacts held as bilateral constraints.
type Plant struct {
	model *robot.Tree
	mask  []bool
}

func NewPlant(model *robot.Tree, contacts []string, pairs []robot.LinkPair) (*Plant, error) {
	if err := model.SetContactVirtualLinks(contacts); err != nil {
		return nil, err
	}
	if err := model.SetConnectedVirtualLinkPairs(pairs); err != nil {
		return nil, err
	}
	return &Plant{model: model, mask: make([]bool, len(contacts))}, nil
}

// SetContactMask selects the contacts the plant holds fixed.
func (p *Plant) SetContactMask(mask []bool) { p.mask = append(p.mask[:0], mask...) }

func (p *Plant) NV() int              { return p.model.NV() }
func (p *Plant) NA() int              { return p.model.NA() }
func (p *Plant) Model() *robot.Tree   { return p.model }
func (p *Plant) IsFloatingBase() bool { return p.model.IsFloatingBase() }

func (p *Plant) Acceleration(q, v, tau []float64) ([]float64, error) {
	if err := p.model.Recompute(q, v, p.mask); err != nil {
		return nil, err
	}
	if err := tsc.UpdateClosedChain(p.model); err != nil {
		return nil, err
	}
	return p.model.ForwardDynamics(tau)
}

func (p *Plant) Integrate(q, v []float64, dt float64) ([]float64, error) {
	return p.model.Integrate(q, v, dt)
}
