package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/stackalign/stackalign/tile"
)

// Dir is a MatchStore and TileStore backed by JSON files on the local file
// system. Layout under the root directory:
//
//	<root>/<stack>/tiles.json            all tiles of the stack
//	<root>/matches/matches_<z1>_<z2>.json matches for one section pair
//
// A missing match file is an empty result, not an error; the match store and
// the tile stack are allowed to disagree.
type Dir struct {
	root string
}

// NewDir creates a store rooted at dir.
func NewDir(dir string) *Dir {
	return &Dir{root: dir}
}

type tilesFile struct {
	Tiles []tile.Tile `json:"tiles"`
}

type matchesFile struct {
	Matches []tile.PointMatch `json:"matches"`
}

func (s *Dir) matchPath(z1, z2 int) string {
	key := pairKey(z1, z2)
	return filepath.Join(s.root, "matches", fmt.Sprintf("matches_%d_%d.json", key[0], key[1]))
}

// Matches implements MatchStore. Each call opens the pair's file
// independently; there is no shared handle state across workers.
func (s *Dir) Matches(_ context.Context, z1, z2 int) ([]tile.PointMatch, error) {
	raw, err := os.ReadFile(s.matchPath(z1, z2))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read matches for (%d,%d): %w", z1, z2, err)
	}
	var f matchesFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode matches for (%d,%d): %w", z1, z2, err)
	}
	return f.Matches, nil
}

func (s *Dir) readStack(stack string) ([]tile.Tile, error) {
	raw, err := os.ReadFile(filepath.Join(s.root, stack, "tiles.json"))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrStackNotFound, stack)
	}
	if err != nil {
		return nil, fmt.Errorf("read stack %s: %w", stack, err)
	}
	var f tilesFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("decode stack %s: %w", stack, err)
	}
	return f.Tiles, nil
}

// Tiles implements TileStore.
func (s *Dir) Tiles(_ context.Context, stack string, zFirst, zLast int) ([]tile.Tile, error) {
	all, err := s.readStack(stack)
	if err != nil {
		return nil, err
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
func (s *Dir) ZValues(_ context.Context, stack string) ([]int, error) {
	all, err := s.readStack(stack)
	if err != nil {
		return nil, err
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

// WriteTiles implements TileStore. The stack file is replaced atomically via
// a rename.
func (s *Dir) WriteTiles(_ context.Context, stack string, tiles []tile.Tile) error {
	existing, err := s.readStack(stack)
	if err == nil {
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
		tiles = existing
	}

	dir := filepath.Join(s.root, stack)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(tilesFile{Tiles: tiles}, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(dir, "tiles.json.tmp")
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, "tiles.json"))
}

// WriteMatches writes the match file for one section pair. It exists so test
// fixtures and exporters can populate a directory store.
func (s *Dir) WriteMatches(z1, z2 int, matches []tile.PointMatch) error {
	p := s.matchPath(z1, z2)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(matchesFile{Matches: matches}, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, raw, 0o644)
}
