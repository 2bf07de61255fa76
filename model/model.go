// Package model defines the capability contract that turns one point
// correspondence into a local sparse sub-block of the global design matrix,
// together with the built-in transform families implementing it.
//
// Every row of a sub-block encodes one homogeneous agreement constraint: the
// source tile's transformed coordinate minus the target tile's transformed
// coordinate. The constraint target is zero, so the right-hand side of the
// solved system comes entirely from regularization.
package model

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/stackalign/stackalign/tile"
)

var (
	// ErrInsufficientPoints signals that a match has fewer points than the
	// configured minimum. The match is skipped, never fatal.
	ErrInsufficientPoints = errors.New("insufficient points for match")

	// ErrZeroWeights signals that every point weight of a match is zero.
	// The match contributes nothing and is skipped.
	ErrZeroWeights = errors.New("all point weights are zero")

	// ErrBadSubBlock indicates a sub-block with inconsistent array lengths.
	// This is a fatal assembly error.
	ErrBadSubBlock = errors.New("malformed sub-block")

	// ErrUnknownModel is returned by ByName for unrecognized model names.
	ErrUnknownModel = errors.New("unknown transform model")
)

// SubBlock is the local CSR contribution of a single point match.
// Indptr is zero-based relative to the block; the assembler re-bases it.
type SubBlock struct {
	Data    []float64
	Indices []int64
	Indptr  []int64
	Weights []float64
	NPoints int
}

// validate checks the internal consistency of the block against the model's
// fixed per-row shape.
func (b *SubBlock) validate(nnzPerRow, rowsPerPoint int) error {
	rows := b.NPoints * rowsPerPoint
	if len(b.Weights) != rows {
		return fmt.Errorf("%w: %d weights for %d rows", ErrBadSubBlock, len(b.Weights), rows)
	}
	if len(b.Indptr) != rows+1 {
		return fmt.Errorf("%w: indptr length %d, want %d", ErrBadSubBlock, len(b.Indptr), rows+1)
	}
	if len(b.Data) != rows*nnzPerRow || len(b.Indices) != len(b.Data) {
		return fmt.Errorf("%w: %d values, %d indices for %d rows of %d",
			ErrBadSubBlock, len(b.Data), len(b.Indices), rows, nnzPerRow)
	}
	return nil
}

// RegConfig configures the per-tile regularization vectors a model derives.
// Translation parameters commonly need a much smaller pull toward the prior
// than the linear part, hence the separate factor.
type RegConfig struct {
	Lambda            float64 `json:"lambda"`
	TranslationFactor float64 `json:"translation_factor"`
}

// TransformModel produces local sub-blocks for one transform family.
//
// Implementations are stateless and safe for concurrent use; the assembler
// invokes one shared instance from every worker task.
type TransformModel interface {
	// Name is the stable configuration name of the family.
	Name() string

	// DOF is the fixed per-tile parameter count.
	DOF() int

	// RowsPerPoint is the number of constraint rows one point pair yields.
	RowsPerPoint() int

	// NNZPerRow is the fixed non-zero count of every constraint row.
	NNZPerRow() int

	// Identity returns the parameter vector of the identity transform.
	Identity() []float64

	// Regularization derives a tile's regularization vector from cfg.
	Regularization(cfg RegConfig) []float64

	// SubBlock builds the local constraint block for one match, given the
	// global column-block offsets of its two tiles. It returns
	// ErrInsufficientPoints when the match has fewer than minPts points and
	// ErrZeroWeights when every point weight is zero; both mean "skip".
	// When the match has more than maxPts points, maxPts are kept, chosen
	// at random when subsample is true and from the front otherwise.
	SubBlock(m *tile.PointMatch, colP, colQ int64, minPts, maxPts int, subsample bool, rng *rand.Rand) (*SubBlock, error)
}

// ByName selects a built-in model by configuration name.
func ByName(name string) (TransformModel, error) {
	switch name {
	case "affine":
		return Affine{}, nil
	case "similarity":
		return Similarity{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
}

// choosePoints applies the min/max/subsample policy shared by all models.
// It returns the selected point indices of the match.
func choosePoints(m *tile.PointMatch, minPts, maxPts int, subsample bool, rng *rand.Rand) ([]int, []float64, error) {
	n := m.NumPoints()
	if n < minPts {
		return nil, nil, fmt.Errorf("%w: %d < %d", ErrInsufficientPoints, n, minPts)
	}
	w := m.W
	if w == nil {
		w = make([]float64, n)
		for i := range w {
			w[i] = 1
		}
	}
	allZero := true
	for _, v := range w {
		if v != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return nil, nil, ErrZeroWeights
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	if maxPts > 0 && n > maxPts {
		if subsample && rng != nil {
			rng.Shuffle(n, func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		}
		idx = idx[:maxPts]
	}
	return idx, w, nil
}
