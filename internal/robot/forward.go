package robot

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/wbcsim/internal/linalg"
)

// constraintCompliance regularizes the constrained forward-dynamics KKT
// system so redundant contact rows (four points on one rigid foot) keep
// it non-singular.
const constraintCompliance = 1e-8

// ForwardDynamics returns the generalized acceleration produced by the
// actuator torques tau (actuated order) on the current snapshot. Active
// contacts and closed chains are treated as bilateral constraints:
//
//	M·v̇ + h = Sᵀτ + Gᵀλ,  G·v̇ = −drift,  G = [J_c; J_cc].
//
// Call ComputeClosedChainTerm first when link pairs are registered.
func (t *Tree) ForwardDynamics(tau []float64) ([]float64, error) {
	d, err := t.snapshot()
	if err != nil {
		return nil, err
	}
	if len(tau) != t.NA() {
		return nil, fmt.Errorf("%w: got %d torques for %d actuators", ErrDimensionMismatch, len(tau), t.NA())
	}
	nv := t.NV()

	rhs := linalg.ZeroVec(nv)
	for i, vi := range t.actuated {
		rhs.SetVec(vi, tau[i])
	}
	rhs.SubVec(rhs, d.bias)

	g := linalg.VStack(nv, d.contactJac, t.ClosedChainJacobian())
	drift := linalg.Concat(d.contactJdotV, t.ClosedChainDrift())
	nc := linalg.Rows(g)

	kkt := linalg.Zeros(nv+nc, nv+nc)
	linalg.SetBlock(kkt, 0, 0, d.mass)
	if nc > 0 {
		linalg.SetBlock(kkt, nv, 0, g)
		linalg.SetBlock(kkt, 0, nv, g.T())
		for i := 0; i < nc; i++ {
			kkt.Set(nv+i, nv+i, -constraintCompliance)
		}
	}
	b := linalg.ZeroVec(nv + nc)
	linalg.SetSegment(b, 0, rhs)
	if nc > 0 {
		neg := linalg.ZeroVec(nc)
		neg.ScaleVec(-1, drift)
		linalg.SetSegment(b, nv, neg)
	}

	var sol mat.VecDense
	if err := sol.SolveVec(kkt, b); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) || sol.Len() == 0 {
			return nil, fmt.Errorf("%w: %v", ErrSingular, err)
		}
	}
	return linalg.Vec(linalg.Segment(&sol, 0, nv)), nil
}
