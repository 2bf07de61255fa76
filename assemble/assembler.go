package assemble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/stackalign/stackalign/model"
	"github.com/stackalign/stackalign/sparse"
	"github.com/stackalign/stackalign/store"
	"github.com/stackalign/stackalign/tile"
)

// Assembler builds the chunk for one tile-pair group. One task of the worker
// pool runs Assemble once; the assembler itself holds only shared read-only
// state and is safe for concurrent use.
type Assembler struct {
	Matches store.MatchStore
	Tiles   *tile.Set
	Model   model.TransformModel
	Config  Config
	Log     *slog.Logger
}

// Assemble fetches the pair's matches, filters them against the global tile
// set and accumulates the local CSR part.
//
// Buffers are pre-allocated for the worst case (every match contributing
// MaxPoints points) and truncated to the reached row and non-zero counts at
// the end. Matches with insufficient points or all-zero weights are skipped
// without marking their tiles used. A malformed sub-block is fatal.
func (a *Assembler) Assemble(ctx context.Context, pair PairGroup) (*Chunk, error) {
	log := a.Log
	if log == nil {
		log = slog.Default()
	}

	t0 := time.Now()
	matches, err := a.Matches.Matches(ctx, pair.Z1, pair.Z2)
	if err != nil {
		return nil, fmt.Errorf("fetch matches for pair (%d,%d): %w", pair.Z1, pair.Z2, err)
	}
	loaded := len(matches)

	// The stack and the match store may disagree; drop matches whose tiles
	// are not part of this run.
	pidx := make([]int, 0, len(matches))
	qidx := make([]int, 0, len(matches))
	kept := matches[:0]
	for i := range matches {
		pi, ok := a.Tiles.Lookup(matches[i].PID)
		if !ok {
			continue
		}
		qi, ok := a.Tiles.Lookup(matches[i].QID)
		if !ok {
			continue
		}
		kept = append(kept, matches[i])
		pidx = append(pidx, pi)
		qidx = append(qidx, qi)
	}
	matches = kept

	if len(matches) == 0 {
		log.DebugContext(ctx, "no usable matches for pair",
			"z1", pair.Z1, "z2", pair.Z2, "loaded", loaded)
		return emptyChunk(), nil
	}

	log.DebugContext(ctx, "loaded matches",
		"z1", pair.Z1, "z2", pair.Z2,
		"loaded", loaded, "using", len(matches),
		"elapsed", time.Since(t0))

	maxPts := a.Config.MaxPoints
	if maxPts <= 0 {
		// Without a cap the worst case is the largest match in the group.
		for i := range matches {
			if n := matches[i].NumPoints(); n > maxPts {
				maxPts = n
			}
		}
	}

	nnzPerRow := a.Model.NNZPerRow()
	rowsPerPt := a.Model.RowsPerPoint()
	maxRows := rowsPerPt * maxPts * len(matches)
	maxNNZ := maxRows * nnzPerRow

	chunk := &Chunk{
		Part: sparse.Part{
			CSR: sparse.CSR{
				Data:    make([]float64, maxNNZ),
				Indices: make([]int64, maxNNZ),
				Indptr:  make([]int64, maxRows+1),
			},
			Weights: make([]float64, maxRows),
		},
		Used:  roaring.New(),
		ZList: []int{pair.Z1, pair.Z2},
	}

	pairWeight := a.Config.PairWeight(pair.Z1, pair.Z2)
	rng := rand.New(rand.NewSource(a.Config.Seed ^ pairSeed(pair)))

	var nrows, nnz int
	for k := range matches {
		colP := a.Tiles.Offset(pidx[k])
		colQ := a.Tiles.Offset(qidx[k])

		sub, err := a.Model.SubBlock(&matches[k], colP, colQ,
			a.Config.MinPoints, a.Config.MaxPoints, a.Config.ChooseRandom, rng)
		if errors.Is(err, model.ErrInsufficientPoints) || errors.Is(err, model.ErrZeroWeights) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("pair (%d,%d) match %s-%s: %w",
				pair.Z1, pair.Z2, matches[k].PID, matches[k].QID, err)
		}

		chunk.Used.Add(uint32(pidx[k]))
		chunk.Used.Add(uint32(qidx[k]))

		copy(chunk.Part.CSR.Data[nnz:], sub.Data)
		copy(chunk.Part.CSR.Indices[nnz:], sub.Indices)
		base := chunk.Part.CSR.Indptr[nrows]
		for r := 1; r < len(sub.Indptr); r++ {
			chunk.Part.CSR.Indptr[nrows+r] = sub.Indptr[r] + base
		}
		for r, w := range sub.Weights {
			chunk.Part.Weights[nrows+r] = w * pairWeight
		}

		nrows += len(sub.Weights)
		nnz += len(sub.Data)
	}

	if nrows == 0 {
		log.DebugContext(ctx, "all matches skipped for pair", "z1", pair.Z1, "z2", pair.Z2)
		return emptyChunk(), nil
	}

	// Pre-allocation was an upper bound; cut the buffers down to what was
	// actually written.
	chunk.Part.CSR.Data = chunk.Part.CSR.Data[:nnz]
	chunk.Part.CSR.Indices = chunk.Part.CSR.Indices[:nnz]
	chunk.Part.CSR.Indptr = chunk.Part.CSR.Indptr[:nrows+1]
	chunk.Part.Weights = chunk.Part.Weights[:nrows]

	return chunk, nil
}

// pairSeed derives a stable per-pair RNG seed so random subsampling is
// reproducible and independent of task scheduling.
func pairSeed(pair PairGroup) int64 {
	return int64(pair.Z1)*1_000_003 + int64(pair.Z2)
}
