package model

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackalign/stackalign/tile"
)

func testMatch(n int) *tile.PointMatch {
	m := &tile.PointMatch{PID: "p", QID: "q"}
	for i := 0; i < n; i++ {
		m.P = append(m.P, [2]float64{float64(i), float64(2 * i)})
		m.Q = append(m.Q, [2]float64{float64(i) + 10, float64(2*i) - 5})
	}
	return m
}

func TestByName(t *testing.T) {
	m, err := ByName("affine")
	require.NoError(t, err)
	assert.Equal(t, 6, m.DOF())

	m, err = ByName("similarity")
	require.NoError(t, err)
	assert.Equal(t, 4, m.DOF())

	_, err = ByName("projective")
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestChoosePoints(t *testing.T) {
	t.Run("InsufficientPoints", func(t *testing.T) {
		_, _, err := choosePoints(testMatch(2), 3, 0, false, nil)
		assert.ErrorIs(t, err, ErrInsufficientPoints)
	})

	t.Run("AllZeroWeights", func(t *testing.T) {
		m := testMatch(4)
		m.W = []float64{0, 0, 0, 0}
		_, _, err := choosePoints(m, 3, 0, false, nil)
		assert.ErrorIs(t, err, ErrZeroWeights)
	})

	t.Run("NilWeightsMeanOne", func(t *testing.T) {
		idx, w, err := choosePoints(testMatch(4), 3, 0, false, nil)
		require.NoError(t, err)
		assert.Equal(t, []int{0, 1, 2, 3}, idx)
		assert.Equal(t, []float64{1, 1, 1, 1}, w)
	})

	t.Run("CapFromFront", func(t *testing.T) {
		idx, _, err := choosePoints(testMatch(10), 3, 4, false, nil)
		require.NoError(t, err)
		assert.Equal(t, []int{0, 1, 2, 3}, idx)
	})

	t.Run("RandomCapIsSeedStable", func(t *testing.T) {
		a, _, err := choosePoints(testMatch(10), 3, 4, true, rand.New(rand.NewSource(7)))
		require.NoError(t, err)
		b, _, err := choosePoints(testMatch(10), 3, 4, true, rand.New(rand.NewSource(7)))
		require.NoError(t, err)
		assert.Equal(t, a, b)
		assert.Len(t, a, 4)
	})
}

// blockResidual applies the block rows to a stacked parameter vector and
// returns the per-row products, which should vanish when the parameters map
// both tiles' points onto the same world coordinates.
func blockResidual(b *SubBlock, params []float64) []float64 {
	out := make([]float64, len(b.Weights))
	for r := range out {
		var sum float64
		for i := b.Indptr[r]; i < b.Indptr[r+1]; i++ {
			sum += b.Data[i] * params[b.Indices[i]]
		}
		out[r] = sum
	}
	return out
}

func TestAffineSubBlock(t *testing.T) {
	m := testMatch(5)

	t.Run("Shape", func(t *testing.T) {
		b, err := Affine{}.SubBlock(m, 0, 6, 3, 0, false, nil)
		require.NoError(t, err)
		assert.Equal(t, 5, b.NPoints)
		assert.Len(t, b.Weights, 10)
		assert.Len(t, b.Indptr, 11)
		assert.Len(t, b.Data, 60)
		assert.Equal(t, int64(60), b.Indptr[10])
	})

	t.Run("ZeroResidualAtTruth", func(t *testing.T) {
		// q = p + (10, -5), so tile p under identity and tile q with a
		// compensating translation agree exactly.
		params := []float64{
			1, 0, 0, 0, 1, 0,
			1, 0, -10, 0, 1, 5,
		}
		b, err := Affine{}.SubBlock(m, 0, 6, 3, 0, false, nil)
		require.NoError(t, err)
		for r, v := range blockResidual(b, params) {
			assert.InDelta(t, 0, v, 1e-12, "row %d", r)
		}
	})

	t.Run("WeightPerPointOnBothRows", func(t *testing.T) {
		mw := testMatch(3)
		mw.W = []float64{0.1, 0.2, 0.3}
		b, err := Affine{}.SubBlock(mw, 0, 6, 3, 0, false, nil)
		require.NoError(t, err)
		assert.Equal(t, []float64{0.1, 0.1, 0.2, 0.2, 0.3, 0.3}, b.Weights)
	})

	t.Run("Regularization", func(t *testing.T) {
		r := Affine{}.Regularization(RegConfig{Lambda: 2, TranslationFactor: 0.5})
		assert.Equal(t, []float64{2, 2, 1, 2, 2, 1}, r)
	})
}

func TestSimilaritySubBlock(t *testing.T) {
	m := testMatch(4)

	t.Run("Shape", func(t *testing.T) {
		b, err := Similarity{}.SubBlock(m, 0, 4, 3, 0, false, nil)
		require.NoError(t, err)
		assert.Equal(t, 4, b.NPoints)
		assert.Len(t, b.Weights, 8)
		assert.Len(t, b.Data, 48)
	})

	t.Run("ZeroResidualAtTruth", func(t *testing.T) {
		params := []float64{
			1, 0, 0, 0,
			1, 0, -10, 5,
		}
		b, err := Similarity{}.SubBlock(m, 0, 4, 3, 0, false, nil)
		require.NoError(t, err)
		for r, v := range blockResidual(b, params) {
			assert.InDelta(t, 0, v, 1e-12, "row %d", r)
		}
	})

	t.Run("RotationResidual", func(t *testing.T) {
		// A rotated source tile and an identity target disagree unless the
		// rotation is applied, so the identity stack must not be a root.
		params := []float64{
			0, 1, 0, 0,
			1, 0, 0, 0,
		}
		b, err := Similarity{}.SubBlock(m, 0, 4, 3, 0, false, nil)
		require.NoError(t, err)
		res := blockResidual(b, params)
		var nonzero bool
		for _, v := range res {
			if v != 0 {
				nonzero = true
			}
		}
		assert.True(t, nonzero)
	})

	t.Run("Regularization", func(t *testing.T) {
		r := Similarity{}.Regularization(RegConfig{Lambda: 4, TranslationFactor: 0.25})
		assert.Equal(t, []float64{4, 4, 1, 1}, r)
	})
}
