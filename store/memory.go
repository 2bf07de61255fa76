package store

import (
	"context"
	"sort"
	"sync"

	"github.com/stackalign/stackalign/tile"
)

// Memory is an in-process MatchStore and TileStore. It is used by tests and
// by small single-process runs where the data already lives in memory.
type Memory struct {
	mu      sync.RWMutex
	tiles   map[string][]tile.Tile // keyed by stack
	matches map[[2]int][]tile.PointMatch
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		tiles:   make(map[string][]tile.Tile),
		matches: make(map[[2]int][]tile.PointMatch),
	}
}

// AddTiles appends tiles to a stack.
func (s *Memory) AddTiles(stack string, tiles ...tile.Tile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tiles[stack] = append(s.tiles[stack], tiles...)
}

// AddMatches appends point matches for the section pair (z1, z2).
func (s *Memory) AddMatches(z1, z2 int, matches ...tile.PointMatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(z1, z2)
	s.matches[key] = append(s.matches[key], matches...)
}

// Matches implements MatchStore.
func (s *Memory) Matches(_ context.Context, z1, z2 int) ([]tile.PointMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.matches[pairKey(z1, z2)]
	out := make([]tile.PointMatch, len(src))
	copy(out, src)
	return out, nil
}

// Tiles implements TileStore.
func (s *Memory) Tiles(_ context.Context, stack string, zFirst, zLast int) ([]tile.Tile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all, ok := s.tiles[stack]
	if !ok {
		return nil, ErrStackNotFound
	}
	var out []tile.Tile
	for _, t := range all {
		if t.Z >= zFirst && t.Z <= zLast {
			out = append(out, t)
		}
	}
	return out, nil
}

// ZValues implements TileStore.
func (s *Memory) ZValues(_ context.Context, stack string) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all, ok := s.tiles[stack]
	if !ok {
		return nil, ErrStackNotFound
	}
	seen := make(map[int]struct{})
	for _, t := range all {
		seen[t.Z] = struct{}{}
	}
	zs := make([]int, 0, len(seen))
	for z := range seen {
		zs = append(zs, z)
	}
	sort.Ints(zs)
	return zs, nil
}

// WriteTiles implements TileStore. Tiles with IDs already present in the
// stack are replaced; new IDs are appended.
func (s *Memory) WriteTiles(_ context.Context, stack string, tiles []tile.Tile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.tiles[stack]
	byID := make(map[string]int, len(existing))
	for i, t := range existing {
		byID[t.ID] = i
	}
	for _, t := range tiles {
		if i, ok := byID[t.ID]; ok {
			existing[i] = t
		} else {
			byID[t.ID] = len(existing)
			existing = append(existing, t)
		}
	}
	s.tiles[stack] = existing
	return nil
}

// pairKey normalizes the section pair so (z1, z2) and (z2, z1) address the
// same match collection.
func pairKey(z1, z2 int) [2]int {
	if z2 < z1 {
		z1, z2 = z2, z1
	}
	return [2]int{z1, z2}
}
