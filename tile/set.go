package tile

import (
	"fmt"
	"sort"
)

// Set is the fixed global tile ordering for one alignment run.
//
// Tiles are sorted once by ID; that sort order is the single source of truth
// for column indexing and is shared read-only across all assembly workers.
// Lookup uses a map built at construction time; SearchSorted keeps the
// equivalent binary-search path available.
type Set struct {
	tiles   []Tile
	index   map[string]int
	offsets []int64
	total   int64
}

// NewSet builds the global ordering from an unordered tile collection.
// Duplicate IDs and zero-DOF tiles are rejected.
func NewSet(tiles []Tile) (*Set, error) {
	s := &Set{
		tiles:   make([]Tile, len(tiles)),
		index:   make(map[string]int, len(tiles)),
		offsets: make([]int64, len(tiles)),
	}
	copy(s.tiles, tiles)
	sort.Slice(s.tiles, func(i, j int) bool { return s.tiles[i].ID < s.tiles[j].ID })

	for i := range s.tiles {
		t := &s.tiles[i]
		if t.DOF() == 0 {
			return nil, fmt.Errorf("tile %q has no parameters", t.ID)
		}
		if _, dup := s.index[t.ID]; dup {
			return nil, fmt.Errorf("duplicate tile id %q", t.ID)
		}
		s.index[t.ID] = i
		s.offsets[i] = s.total
		s.total += int64(t.DOF())
	}
	return s, nil
}

// Len returns the tile count.
func (s *Set) Len() int { return len(s.tiles) }

// Tile returns the tile at position i in global order.
func (s *Set) Tile(i int) *Tile { return &s.tiles[i] }

// TotalDOF returns the total scalar degrees of freedom across all tiles.
func (s *Set) TotalDOF() int64 { return s.total }

// Lookup resolves a tile ID to its position in global order.
func (s *Set) Lookup(id string) (int, bool) {
	i, ok := s.index[id]
	return i, ok
}

// SearchSorted resolves a tile ID by binary search over the sorted IDs.
// It always agrees with Lookup; it exists so the O(log T) path stays
// exercised and comparable.
func (s *Set) SearchSorted(id string) (int, bool) {
	i := sort.Search(len(s.tiles), func(j int) bool { return s.tiles[j].ID >= id })
	if i < len(s.tiles) && s.tiles[i].ID == id {
		return i, true
	}
	return 0, false
}

// Offset returns the column-block offset of the tile at position i.
func (s *Set) Offset(i int) int64 { return s.offsets[i] }

// IDs returns the tile IDs in global order.
func (s *Set) IDs() []string {
	ids := make([]string, len(s.tiles))
	for i := range s.tiles {
		ids[i] = s.tiles[i].ID
	}
	return ids
}
