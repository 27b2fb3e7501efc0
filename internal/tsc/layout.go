package tsc

import "github.com/san-kum/wbcsim/internal/robot"

// Layout describes the decision vector of one tick:
//
//	x = [q̈ (NV) | contact forces (3 per active contact) | chain forces (one per link pair)]
//
// It changes size whenever the active-contact mask does.
type Layout struct {
	NV       int
	Contacts int
	Chains   int
}

func NewLayout(model robot.Model) Layout {
	return Layout{
		NV:       model.NV(),
		Contacts: model.ActiveContacts(),
		Chains:   len(model.ConnectedVirtualLinkPairs()),
	}
}

func (l Layout) Size() int        { return l.NV + l.ForceSize() + l.Chains }
func (l Layout) ForceSize() int   { return 3 * l.Contacts }
func (l Layout) QaccOffset() int  { return 0 }
func (l Layout) ForceOffset() int { return l.NV }
func (l Layout) ChainOffset() int { return l.NV + l.ForceSize() }
