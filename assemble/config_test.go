package assemble

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPairWeight(t *testing.T) {
	t.Run("MontageConstant", func(t *testing.T) {
		c := DefaultConfig()
		c.MontageWeight = 2.0
		assert.Equal(t, 2.0, c.PairWeight(4, 4))
	})

	t.Run("CrossConstant", func(t *testing.T) {
		c := DefaultConfig()
		c.CrossWeight = 0.5
		assert.Equal(t, 0.5, c.PairWeight(4, 5))
		assert.Equal(t, 0.5, c.PairWeight(5, 4))
	})

	t.Run("InverseDZ", func(t *testing.T) {
		c := DefaultConfig()
		c.CrossWeight = 6.0
		c.InverseDZ = true
		assert.Equal(t, 3.0, c.PairWeight(0, 1))
		assert.Equal(t, 2.0, c.PairWeight(0, 2))
		// Same-section pairs never take the inverse-distance path.
		c.MontageWeight = 5.0
		assert.Equal(t, 5.0, c.PairWeight(3, 3))
	})

	t.Run("DepthTableScalesConstant", func(t *testing.T) {
		c := DefaultConfig()
		c.Depth = []int{0, 1, 2}
		c.DepthWeights = []float64{1.0, 0.4, 0.1}
		c.MontageWeight = 2.0
		c.CrossWeight = 3.0

		assert.Equal(t, 2.0, c.PairWeight(7, 7))
		assert.InDelta(t, 1.2, c.PairWeight(7, 8), 1e-12)
		assert.InDelta(t, 0.3, c.PairWeight(7, 9), 1e-12)
	})

	t.Run("DepthTableOverridesInverseDZ", func(t *testing.T) {
		c := DefaultConfig()
		c.Depth = []int{0, 1}
		c.DepthWeights = []float64{1.0, 1.0}
		c.CrossWeight = 6.0
		c.InverseDZ = true
		assert.Equal(t, 6.0, c.PairWeight(0, 1))
	})

	t.Run("ShortTableFallsBackToConstant", func(t *testing.T) {
		c := DefaultConfig()
		c.Depth = []int{0, 1, 2}
		c.DepthWeights = []float64{1.0}
		c.CrossWeight = 3.0
		assert.Equal(t, 3.0, c.PairWeight(0, 2))
	})
}

func TestNormDepth(t *testing.T) {
	assert.Equal(t, []int{0}, normDepth(nil))
	assert.Equal(t, []int{0, 1, 2}, normDepth([]int{2, 0, 1, 2}))
	assert.Equal(t, []int{1, 3}, normDepth([]int{-3, 1}))
}

func TestEnumeratePairs(t *testing.T) {
	t.Run("SingleSectionIsMontage", func(t *testing.T) {
		pairs := EnumeratePairs([]int{5}, []int{0, 1, 2})
		assert.Equal(t, []PairGroup{{Z1: 5, Z2: 5}}, pairs)
		assert.True(t, pairs[0].Montage())
	})

	t.Run("SkipsMissingSections", func(t *testing.T) {
		pairs := EnumeratePairs([]int{0, 1, 3}, []int{0, 1})
		assert.Equal(t, []PairGroup{
			{Z1: 0, Z2: 0}, {Z1: 0, Z2: 1},
			{Z1: 1, Z2: 1},
			{Z1: 3, Z2: 3},
		}, pairs)
	})

	t.Run("Deterministic", func(t *testing.T) {
		zs := []int{0, 1, 2, 3}
		depth := []int{2, 0, 1}
		first := EnumeratePairs(zs, depth)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, EnumeratePairs(zs, depth))
		}
		// Sections ascending, depths ascending within a section.
		assert.Equal(t, PairGroup{Z1: 0, Z2: 0}, first[0])
		assert.Equal(t, PairGroup{Z1: 0, Z2: 1}, first[1])
		assert.Equal(t, PairGroup{Z1: 0, Z2: 2}, first[2])
	})

	t.Run("Empty", func(t *testing.T) {
		assert.Nil(t, EnumeratePairs(nil, []int{0}))
	})

	t.Run("DepthBeyondRange", func(t *testing.T) {
		pairs := EnumeratePairs([]int{0, 1}, []int{0, 5})
		assert.Equal(t, []PairGroup{{Z1: 0, Z2: 0}, {Z1: 1, Z2: 1}}, pairs)
	})
}
