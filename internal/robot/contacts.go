package robot

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/wbcsim/internal/linalg"
)

// SetContactVirtualLinks registers the ordered contact points. It resets
// the contact mask to all-inactive until the next Recompute.
func (t *Tree) SetContactVirtualLinks(names []string) error {
	for _, n := range names {
		if _, err := t.lookup(n); err != nil {
			return fmt.Errorf("contact virtual link: %w", err)
		}
	}
	t.contactLinks = append([]string(nil), names...)
	if t.data != nil {
		t.data.mask = make([]bool, len(names))
		t.computeContacts()
	}
	return nil
}

func (t *Tree) ContactVirtualLinks() []string {
	return append([]string(nil), t.contactLinks...)
}

func (t *Tree) ContactMask() []bool {
	if t.data == nil {
		return make([]bool, len(t.contactLinks))
	}
	return append([]bool(nil), t.data.mask...)
}

func (t *Tree) ActiveContacts() int {
	n := 0
	for _, on := range t.ContactMask() {
		if on {
			n++
		}
	}
	return n
}

// computeContacts stacks the translational Jacobian rows of the active
// contact points, in registration order.
func (t *Tree) computeContacts() {
	d := t.data
	nv := t.NV()
	vel := mat.NewVecDense(nv, d.v)
	var jacs, plus, minus []mat.Matrix
	for i, name := range t.contactLinks {
		if !d.mask[i] {
			continue
		}
		j, _ := t.frameJacobian(d.kin, name)
		jp, _ := t.frameJacobian(d.kinPlus, name)
		jm, _ := t.frameJacobian(d.kinMinus, name)
		jacs = append(jacs, linalg.Block(j, 0, 0, 3, nv))
		plus = append(plus, linalg.Block(jp, 0, 0, 3, nv))
		minus = append(minus, linalg.Block(jm, 0, 0, 3, nv))
	}
	d.contactJac = linalg.VStack(nv, jacs...)
	d.contactJdotV = centralDiff(linalg.VStack(nv, plus...), linalg.VStack(nv, minus...), vel)
}

func (t *Tree) ContactJacobian() *mat.Dense { return t.data.contactJac }
func (t *Tree) ContactJdotV() *mat.VecDense { return t.data.contactJdotV }

func (t *Tree) SetConnectedVirtualLinkPairs(pairs []LinkPair) error {
	for _, p := range pairs {
		if _, err := t.lookup(p.First); err != nil {
			return fmt.Errorf("connected virtual link: %w", err)
		}
		if _, err := t.lookup(p.Second); err != nil {
			return fmt.Errorf("connected virtual link: %w", err)
		}
	}
	t.linkPairs = append([]LinkPair(nil), pairs...)
	if t.data != nil {
		t.data.chainT, t.data.chainTdot = nil, nil
		t.data.chainJac, t.data.chainDrift = nil, nil
	}
	return nil
}

func (t *Tree) ConnectedVirtualLinkPairs() []LinkPair {
	return append([]LinkPair(nil), t.linkPairs...)
}

func (t *Tree) relativeJacobian(k *kinematics, i int) (*mat.Dense, error) {
	if i < 0 || i >= len(t.linkPairs) {
		return nil, fmt.Errorf("%w: link pair %d of %d", ErrDimensionMismatch, i, len(t.linkPairs))
	}
	first, err := t.frameJacobian(k, t.linkPairs[i].First)
	if err != nil {
		return nil, err
	}
	second, err := t.frameJacobian(k, t.linkPairs[i].Second)
	if err != nil {
		return nil, err
	}
	first.Sub(first, second)
	return first, nil
}

// RelativeJacobianForPair returns J(first) − J(second) for link pair i.
func (t *Tree) RelativeJacobianForPair(i int) (*mat.Dense, error) {
	d, err := t.snapshot()
	if err != nil {
		return nil, err
	}
	return t.relativeJacobian(d.kin, i)
}

func (t *Tree) RelativeJdotVForPair(i int) (*mat.VecDense, error) {
	d, err := t.snapshot()
	if err != nil {
		return nil, err
	}
	plus, err := t.relativeJacobian(d.kinPlus, i)
	if err != nil {
		return nil, err
	}
	minus, _ := t.relativeJacobian(d.kinMinus, i)
	return centralDiff(plus, minus, mat.NewVecDense(t.NV(), d.v)), nil
}

// SetConstraintForceSubspace stores T and Ṫ, both 6p×p for p link pairs.
func (t *Tree) SetConstraintForceSubspace(T, Tdot *mat.Dense) error {
	d, err := t.snapshot()
	if err != nil {
		return err
	}
	p := len(t.linkPairs)
	for _, m := range []*mat.Dense{T, Tdot} {
		if linalg.Rows(m) != 6*p || linalg.Cols(m) != p {
			return fmt.Errorf("%w: constraint force subspace is %dx%d, want %dx%d",
				ErrDimensionMismatch, linalg.Rows(m), linalg.Cols(m), 6*p, p)
		}
	}
	d.chainT, d.chainTdot = T, Tdot
	return nil
}

// ComputeClosedChainTerm folds the constraint force subspace into the
// closed-chain Jacobian Tᵀ·J_rel and its drift Tᵀ·J̇_rel·v + Ṫᵀ·J_rel·v.
func (t *Tree) ComputeClosedChainTerm() error {
	d, err := t.snapshot()
	if err != nil {
		return err
	}
	p, nv := len(t.linkPairs), t.NV()
	if p == 0 {
		d.chainJac, d.chainDrift = &mat.Dense{}, &mat.VecDense{}
		return nil
	}
	if d.chainT == nil {
		return fmt.Errorf("%w: constraint force subspace not set", ErrNotComputed)
	}
	rel := linalg.Zeros(6*p, nv)
	relDot := linalg.ZeroVec(6 * p)
	for i := 0; i < p; i++ {
		j, err := t.RelativeJacobianForPair(i)
		if err != nil {
			return err
		}
		jd, err := t.RelativeJdotVForPair(i)
		if err != nil {
			return err
		}
		linalg.SetBlock(rel, 6*i, 0, j)
		linalg.SetSegment(relDot, 6*i, jd)
	}

	jac := linalg.Zeros(p, nv)
	jac.Mul(d.chainT.T(), rel)

	relVel := linalg.MulVec(rel, mat.NewVecDense(nv, d.v))
	drift := linalg.ZeroVec(p)
	drift.MulVec(d.chainT.T(), relDot)
	var tdotTerm mat.VecDense
	tdotTerm.MulVec(d.chainTdot.T(), relVel)
	drift.AddVec(drift, &tdotTerm)

	d.chainJac, d.chainDrift = jac, drift
	return nil
}

// ClosedChainJacobian is valid after ComputeClosedChainTerm.
func (t *Tree) ClosedChainJacobian() *mat.Dense {
	if t.data == nil || t.data.chainJac == nil {
		return &mat.Dense{}
	}
	return t.data.chainJac
}

func (t *Tree) ClosedChainDrift() *mat.VecDense {
	if t.data == nil || t.data.chainDrift == nil {
		return &mat.VecDense{}
	}
	return t.data.chainDrift
}
