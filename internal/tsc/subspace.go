package tsc

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/wbcsim/internal/linalg"
	"github.com/san-kum/wbcsim/internal/robot"
)

// BuildConstraintForceSubspace returns the rod-model subspace of the
// model's link pairs at the current snapshot. For pair i, column i of T
// holds p_first − p_second in rows 6i..6i+2 and column i of Ṫ holds the
// first three rows of J_rel,i·v. Both are 6p×p and empty when no pairs
// are registered.
func BuildConstraintForceSubspace(model robot.Model) (T, Tdot *mat.Dense, err error) {
	pairs := model.ConnectedVirtualLinkPairs()
	p := len(pairs)
	T, Tdot = linalg.Zeros(6*p, p), linalg.Zeros(6*p, p)
	if p == 0 {
		return T, Tdot, nil
	}
	v := model.Velocity()
	if len(v) != model.NV() {
		return nil, nil, robot.ErrNotComputed
	}
	vel := mat.NewVecDense(len(v), v)
	for i, pair := range pairs {
		first, err := model.FramePose(pair.First)
		if err != nil {
			return nil, nil, fmt.Errorf("link pair %d: %w", i, err)
		}
		second, err := model.FramePose(pair.Second)
		if err != nil {
			return nil, nil, fmt.Errorf("link pair %d: %w", i, err)
		}
		rel, err := model.RelativeJacobianForPair(i)
		if err != nil {
			return nil, nil, fmt.Errorf("link pair %d: %w", i, err)
		}
		d := first.P.Sub(second.P)
		rv := linalg.MulVec(linalg.Block(rel, 0, 0, 3, model.NV()), vel)
		for r := 0; r < 3; r++ {
			T.Set(6*i+r, i, d[r])
			Tdot.Set(6*i+r, i, rv.AtVec(r))
		}
	}
	return T, Tdot, nil
}

// UpdateClosedChain builds the subspace, hands it to the model and folds
// it into the model's closed-chain term.
func UpdateClosedChain(model robot.Model) error {
	T, Tdot, err := BuildConstraintForceSubspace(model)
	if err != nil {
		return err
	}
	if err := model.SetConstraintForceSubspace(T, Tdot); err != nil {
		return err
	}
	return model.ComputeClosedChainTerm()
}
