// Package store defines the external data boundaries of an alignment run:
// where point matches come from, where tiles come from, and where solved
// parameters go back to.
//
// Implementations must be safe for concurrent use; every assembly worker
// performs its own independent queries.
package store

import (
	"context"
	"errors"

	"github.com/stackalign/stackalign/tile"
)

// ErrStackNotFound is returned when a tile stack does not exist.
//
// Implementations should return an error satisfying
// errors.Is(err, ErrStackNotFound).
var ErrStackNotFound = errors.New("stack not found")

// MatchStore serves point matches between two sections.
//
// An empty result is valid and must be returned as an empty slice with a nil
// error; only transport or decoding failures are errors.
type MatchStore interface {
	// Matches returns all point matches between tiles of sections z1 and z2.
	Matches(ctx context.Context, z1, z2 int) ([]tile.PointMatch, error)
}

// TileStore serves tile metadata and accepts solved parameters.
type TileStore interface {
	// Tiles returns the tiles of the stack with z in [zFirst, zLast],
	// carrying current parameter values.
	Tiles(ctx context.Context, stack string, zFirst, zLast int) ([]tile.Tile, error)

	// ZValues returns the section indices present in the stack, ascending.
	ZValues(ctx context.Context, stack string) ([]int, error)

	// WriteTiles writes tiles with solved parameters back to the stack.
	WriteTiles(ctx context.Context, stack string, tiles []tile.Tile) error
}
