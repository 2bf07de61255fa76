package assemble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/stackalign/stackalign/model"
	"github.com/stackalign/stackalign/sparse"
	"github.com/stackalign/stackalign/store"
	"github.com/stackalign/stackalign/tile"
)

// ErrEmptySystem is returned when no tile-pair group contributed a single
// constraint row, so there is nothing to merge or solve.
var ErrEmptySystem = errors.New("assembled system has no constraints")

// Builder orchestrates the worker pool over all tile-pair groups and turns
// the collected chunks into the global system.
type Builder struct {
	Matches store.MatchStore
	Set     *tile.Set
	Model   model.TransformModel
	Config  Config
	Reg     model.RegConfig
	Workers int
	Log     *slog.Logger
}

// Assembly is the collected output of one fan-out: all chunks in enumeration
// order, the union of their used-tile masks, and the resulting ID partition.
type Assembly struct {
	Pairs     []PairGroup
	Chunks    []*Chunk
	Used      *roaring.Bitmap
	UsedIDs   []string
	UnusedIDs []string
}

// Assemble runs one assembly task per tile-pair group on a fixed worker pool
// and waits for all of them (full barrier) before unioning the used masks.
//
// Any task error aborts the whole run; there is no retry and no
// partial-result recovery.
func (b *Builder) Assemble(ctx context.Context, zs []int) (*Assembly, error) {
	log := b.Log
	if log == nil {
		log = slog.Default()
	}

	for i := 0; i < b.Set.Len(); i++ {
		if dof := b.Set.Tile(i).DOF(); dof != b.Model.DOF() {
			return nil, fmt.Errorf("tile %q has %d parameters, model %s needs %d",
				b.Set.Tile(i).ID, dof, b.Model.Name(), b.Model.DOF())
		}
	}

	pairs := EnumeratePairs(zs, b.Config.Depth)
	if len(pairs) == 0 {
		return nil, fmt.Errorf("%w: no tile-pair groups for sections %v", ErrEmptySystem, zs)
	}

	asm := &Assembly{
		Pairs:  pairs,
		Chunks: make([]*Chunk, len(pairs)),
		Used:   roaring.New(),
	}

	worker := &Assembler{
		Matches: b.Matches,
		Tiles:   b.Set,
		Model:   b.Model,
		Config:  b.Config,
		Log:     log,
	}

	pool := NewWorkerPool(b.Workers)
	defer pool.Close()

	errs := make([]error, len(pairs))
	var wg sync.WaitGroup
	for i := range pairs {
		i := i
		wg.Add(1)
		err := pool.Submit(ctx, func() {
			defer wg.Done()
			asm.Chunks[i], errs[i] = worker.Assemble(ctx, pairs[i])
		})
		if err != nil {
			wg.Done()
			errs[i] = err
			break
		}
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("assembly task for pair (%d,%d) failed: %w",
				pairs[i].Z1, pairs[i].Z2, err)
		}
	}

	totalDOF := b.Set.TotalDOF()
	for i, c := range asm.Chunks {
		if c == nil {
			// Submission stopped early; treat the tail as empty.
			asm.Chunks[i] = emptyChunk()
			continue
		}
		if err := c.Validate(totalDOF, b.Set.Len()); err != nil {
			return nil, fmt.Errorf("chunk for pair (%d,%d): %w", pairs[i].Z1, pairs[i].Z2, err)
		}
		// Tasks are independent and a tile may appear in several groups;
		// the run-level mask is the union.
		asm.Used.Or(c.Used)
	}

	for i := 0; i < b.Set.Len(); i++ {
		id := b.Set.Tile(i).ID
		if asm.Used.Contains(uint32(i)) {
			asm.UsedIDs = append(asm.UsedIDs, id)
		} else {
			asm.UnusedIDs = append(asm.UnusedIDs, id)
		}
	}

	log.InfoContext(ctx, "assembly complete",
		"pairs", len(pairs),
		"tiles_used", len(asm.UsedIDs),
		"tiles_unused", len(asm.UnusedIDs))

	return asm, nil
}

// RegVector returns the regularization vector for one tile: the tile's own
// vector when it carries one, otherwise the model-derived default.
func (b *Builder) RegVector(t *tile.Tile) []float64 {
	if len(t.Reg) == t.DOF() {
		return t.Reg
	}
	return b.Model.Regularization(b.Reg)
}

// RegAndX0 concatenates the regularization diagonal and initial parameter
// vector of the used tiles, in global tile order.
func (b *Builder) RegAndX0(asm *Assembly) (reg, x0 []float64) {
	for i := 0; i < b.Set.Len(); i++ {
		if !asm.Used.Contains(uint32(i)) {
			continue
		}
		t := b.Set.Tile(i)
		reg = append(reg, b.RegVector(t)...)
		x0 = append(x0, t.Params...)
	}
	return reg, x0
}

// System merges the assembly's chunks, builds the regularization diagonal and
// initial vector, and slices out the columns of unused tiles.
func (b *Builder) System(asm *Assembly) (*sparse.System, error) {
	parts := make([]sparse.Part, len(asm.Chunks))
	for i, c := range asm.Chunks {
		parts[i] = c.Part
	}
	merged := sparse.Concat(parts)
	if merged.CSR.Empty() {
		return nil, ErrEmptySystem
	}
	if err := merged.Validate(b.Set.TotalDOF()); err != nil {
		return nil, fmt.Errorf("merged system: %w", err)
	}

	reg, x0 := b.RegAndX0(asm)

	// Expand the per-tile used mask to one boolean per scalar DOF.
	keep := make([]bool, b.Set.TotalDOF())
	for i := 0; i < b.Set.Len(); i++ {
		if !asm.Used.Contains(uint32(i)) {
			continue
		}
		off := b.Set.Offset(i)
		for d := 0; d < b.Set.Tile(i).DOF(); d++ {
			keep[off+int64(d)] = true
		}
	}

	sliced, cols, err := sparse.SliceColumns(merged.CSR, keep)
	if err != nil {
		return nil, fmt.Errorf("slice unused-tile columns: %w", err)
	}
	if cols != len(x0) {
		return nil, fmt.Errorf("sliced to %d columns but x0 has %d entries", cols, len(x0))
	}

	return &sparse.System{
		A:       sliced,
		Weights: merged.Weights,
		Reg:     reg,
		X0:      x0,
	}, nil
}
