package tile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSet(t *testing.T) {
	tiles := []Tile{
		{ID: "c", Z: 0, Params: []float64{1, 0, 0, 0, 1, 0}},
		{ID: "a", Z: 0, Params: []float64{1, 0, 0, 0, 1, 0}},
		{ID: "b", Z: 1, Params: []float64{1, 0, 0, 0, 1, 0}},
	}

	t.Run("SortsByID", func(t *testing.T) {
		s, err := NewSet(tiles)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, s.IDs())
		assert.Equal(t, 3, s.Len())
		assert.Equal(t, int64(18), s.TotalDOF())

		assert.Equal(t, int64(0), s.Offset(0))
		assert.Equal(t, int64(6), s.Offset(1))
		assert.Equal(t, int64(12), s.Offset(2))
	})

	t.Run("InputOrderIrrelevant", func(t *testing.T) {
		reversed := []Tile{tiles[2], tiles[1], tiles[0]}
		s1, err := NewSet(tiles)
		require.NoError(t, err)
		s2, err := NewSet(reversed)
		require.NoError(t, err)
		assert.Equal(t, s1.IDs(), s2.IDs())
	})

	t.Run("DuplicateID", func(t *testing.T) {
		_, err := NewSet([]Tile{
			{ID: "a", Params: []float64{1}},
			{ID: "a", Params: []float64{1}},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate")
	})

	t.Run("ZeroDOF", func(t *testing.T) {
		_, err := NewSet([]Tile{{ID: "a"}})
		require.Error(t, err)
	})
}

func TestSetLookup(t *testing.T) {
	s, err := NewSet([]Tile{
		{ID: "t2", Params: []float64{1, 0, 0, 0}},
		{ID: "t0", Params: []float64{1, 0, 0, 0}},
		{ID: "t1", Params: []float64{1, 0, 0, 0}},
	})
	require.NoError(t, err)

	t.Run("AgreesWithSearchSorted", func(t *testing.T) {
		for _, id := range []string{"t0", "t1", "t2"} {
			i, ok := s.Lookup(id)
			j, ok2 := s.SearchSorted(id)
			require.True(t, ok)
			require.True(t, ok2)
			assert.Equal(t, i, j)
			assert.Equal(t, id, s.Tile(i).ID)
		}
	})

	t.Run("Missing", func(t *testing.T) {
		_, ok := s.Lookup("nope")
		assert.False(t, ok)
		_, ok = s.SearchSorted("nope")
		assert.False(t, ok)
	})
}
