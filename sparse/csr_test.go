package sparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoRow returns a valid 2x4 part with two entries per row.
func twoRow() Part {
	return Part{
		CSR: CSR{
			Data:    []float64{1, -1, 2, -2},
			Indices: []int64{0, 1, 2, 3},
			Indptr:  []int64{0, 2, 4},
		},
		Weights: []float64{1, 0.5},
	}
}

func TestCSRValidate(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		p := twoRow()
		require.NoError(t, p.CSR.Validate(4))
		assert.Equal(t, 2, p.CSR.Rows())
		assert.Equal(t, 4, p.CSR.NNZ())
	})

	t.Run("EmptyIsValid", func(t *testing.T) {
		var c CSR
		require.NoError(t, c.Validate(10))
		assert.True(t, c.Empty())
		assert.Equal(t, 0, c.Rows())
	})

	t.Run("IndptrMustStartAtZero", func(t *testing.T) {
		c := twoRow().CSR
		c.Indptr[0] = 1
		assert.ErrorIs(t, c.Validate(4), ErrIndptrInvariant)
	})

	t.Run("IndptrMustBeNonDecreasing", func(t *testing.T) {
		c := twoRow().CSR
		c.Indptr = []int64{0, 3, 2}
		assert.ErrorIs(t, c.Validate(4), ErrIndptrInvariant)
	})

	t.Run("IndptrMustEndAtNNZ", func(t *testing.T) {
		c := twoRow().CSR
		c.Indptr[len(c.Indptr)-1] = 3
		assert.ErrorIs(t, c.Validate(4), ErrIndptrInvariant)
	})

	t.Run("IndexOutOfRange", func(t *testing.T) {
		c := twoRow().CSR
		c.Indices[3] = 4
		assert.ErrorIs(t, c.Validate(4), ErrIndexRange)

		c.Indices[3] = -1
		assert.ErrorIs(t, c.Validate(4), ErrIndexRange)
	})

	t.Run("ZeroColsSkipsRangeCheck", func(t *testing.T) {
		c := twoRow().CSR
		c.Indices[3] = 1000
		require.NoError(t, c.Validate(0))
	})
}

func TestPartValidate(t *testing.T) {
	t.Run("WeightPerRow", func(t *testing.T) {
		p := twoRow()
		require.NoError(t, p.Validate(4))

		p.Weights = p.Weights[:1]
		assert.ErrorIs(t, p.Validate(4), ErrWeightLength)
	})

	t.Run("EmptyPartNeedsNoWeights", func(t *testing.T) {
		var p Part
		require.NoError(t, p.Validate(4))
	})
}
