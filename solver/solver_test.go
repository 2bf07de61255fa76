package solver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackalign/stackalign/sparse"
)

// anchoredSystem constrains x0 - x1 = 0 with a strong prior pulling x0
// toward 3, so both unknowns should land near 3.
func anchoredSystem() *sparse.System {
	return &sparse.System{
		A: sparse.CSR{
			Data:    []float64{1, -1},
			Indices: []int64{0, 1},
			Indptr:  []int64{0, 2},
		},
		Weights: []float64{1},
		Reg:     []float64{100, 1e-6},
		X0:      []float64{3, 0},
	}
}

func TestSolve(t *testing.T) {
	t.Run("AgreementWithPrior", func(t *testing.T) {
		res, err := Solve(anchoredSystem(), 1)
		require.NoError(t, err)

		assert.InDelta(t, 3.0, res.X[0], 1e-6)
		assert.InDelta(t, 3.0, res.X[1], 1e-4)
		assert.Equal(t, 1, res.Rows)
		assert.Equal(t, 2, res.Cols)
		assert.Less(t, res.Precision, 1e-10)
		// The agreement constraint itself is nearly satisfied.
		assert.Less(t, res.ErrorNorm, 1e-3)
	})

	t.Run("ZeroWeightRowIgnored", func(t *testing.T) {
		sys := anchoredSystem()
		// A second, contradictory row with zero weight must not move the
		// solution.
		sys.A.Data = append(sys.A.Data, 1, 1)
		sys.A.Indices = append(sys.A.Indices, 0, 1)
		sys.A.Indptr = append(sys.A.Indptr, 4)
		sys.Weights = append(sys.Weights, 0)

		res, err := Solve(sys, 1)
		require.NoError(t, err)
		assert.InDelta(t, 3.0, res.X[0], 1e-6)
		assert.InDelta(t, 3.0, res.X[1], 1e-4)
	})

	t.Run("RegularizationOnlySnapToPrior", func(t *testing.T) {
		// With no constraint rows at all, K = R and x = x0 exactly.
		sys := &sparse.System{
			A: sparse.CSR{
				Data:    []float64{0},
				Indices: []int64{0},
				Indptr:  []int64{0, 1, 1},
			},
			Weights: []float64{0, 0},
			Reg:     []float64{2, 5},
			X0:      []float64{7, -4},
		}
		res, err := Solve(sys, 1)
		require.NoError(t, err)
		assert.InDelta(t, 7.0, res.X[0], 1e-12)
		assert.InDelta(t, -4.0, res.X[1], 1e-12)
	})

	t.Run("NotPositiveDefinite", func(t *testing.T) {
		sys := anchoredSystem()
		// Degenerate regularization leaves a singular normal matrix once
		// the one constraint cannot pin both unknowns.
		sys.Reg = []float64{0, 0}
		sys.Weights = []float64{0}
		_, err := Solve(sys, 1)
		assert.ErrorIs(t, err, ErrNotPositiveDefinite)
	})

	t.Run("ValidationErrors", func(t *testing.T) {
		sys := anchoredSystem()
		sys.Reg = sys.Reg[:1]
		_, err := Solve(sys, 1)
		require.Error(t, err)

		sys = anchoredSystem()
		sys.Weights = nil
		_, err = Solve(sys, 1)
		require.Error(t, err)

		sys = anchoredSystem()
		sys.X0 = nil
		_, err = Solve(sys, 1)
		require.Error(t, err)
	})

	t.Run("AxisDiagnostics", func(t *testing.T) {
		sys := &sparse.System{
			A: sparse.CSR{
				Data:    []float64{1, 1, 1, 1},
				Indices: []int64{0, 1, 0, 1},
				Indptr:  []int64{0, 1, 2, 3, 4},
			},
			Weights: []float64{1, 1, 1, 1},
			Reg:     []float64{1, 1},
			X0:      []float64{2, 4},
		}
		res, err := Solve(sys, 2)
		require.NoError(t, err)
		require.Len(t, res.AxisMean, 2)
		require.Len(t, res.AxisStd, 2)
		// Rows interleave the two columns, so each axis sees one unknown:
		// x = [2/3, 4/3] and the per-axis means follow.
		assert.InDelta(t, 2.0/3.0, res.AxisMean[0], 1e-10)
		assert.InDelta(t, 4.0/3.0, res.AxisMean[1], 1e-10)
		assert.InDelta(t, 0, res.AxisStd[0], 1e-10)
	})
}

func TestResultString(t *testing.T) {
	res, err := Solve(anchoredSystem(), 2)
	require.NoError(t, err)
	s := res.String()
	assert.Contains(t, s, "1 x 2 system")
	assert.Contains(t, s, "precision")
	assert.Contains(t, s, "axis 0")
}
