// Package sparse holds the compressed-sparse-row building blocks of the
// alignment system: the CSR triple itself, lossless concatenation of
// independently assembled parts, and column slicing for unused tiles.
package sparse

import (
	"errors"
	"fmt"
)

var (
	// ErrIndptrInvariant is returned when a row-pointer array violates the
	// CSR contract (length, monotonicity, or terminal value).
	ErrIndptrInvariant = errors.New("indptr invariant violated")

	// ErrIndexRange is returned when a column index falls outside the system.
	ErrIndexRange = errors.New("column index out of range")

	// ErrWeightLength is returned when the weight vector does not have one
	// entry per row.
	ErrWeightLength = errors.New("weight vector length mismatch")
)

// CSR is a compressed-sparse-row matrix triple.
//
// Indptr always has Rows()+1 entries, starts at zero and is non-decreasing;
// Indptr[r] .. Indptr[r+1] delimit the entries of row r within Data/Indices.
type CSR struct {
	Data    []float64
	Indices []int64
	Indptr  []int64
}

// Rows returns the number of rows encoded by the triple.
func (c *CSR) Rows() int {
	if len(c.Indptr) == 0 {
		return 0
	}
	return len(c.Indptr) - 1
}

// NNZ returns the number of stored entries.
func (c *CSR) NNZ() int { return len(c.Data) }

// Empty reports whether the triple encodes no rows at all.
func (c *CSR) Empty() bool { return len(c.Data) == 0 && len(c.Indptr) == 0 }

// Validate checks the CSR invariants against a total column count.
// cols <= 0 skips the index-range check.
func (c *CSR) Validate(cols int64) error {
	if c.Empty() {
		return nil
	}
	if len(c.Indptr) < 1 || c.Indptr[0] != 0 {
		return fmt.Errorf("%w: indptr must start at 0", ErrIndptrInvariant)
	}
	for i := 1; i < len(c.Indptr); i++ {
		if c.Indptr[i] < c.Indptr[i-1] {
			return fmt.Errorf("%w: decreasing at entry %d", ErrIndptrInvariant, i)
		}
	}
	if last := c.Indptr[len(c.Indptr)-1]; last != int64(len(c.Data)) {
		return fmt.Errorf("%w: last entry %d != nnz %d", ErrIndptrInvariant, last, len(c.Data))
	}
	if len(c.Indices) != len(c.Data) {
		return fmt.Errorf("%w: indices length %d != data length %d", ErrIndptrInvariant, len(c.Indices), len(c.Data))
	}
	if cols > 0 {
		for i, idx := range c.Indices {
			if idx < 0 || idx >= cols {
				return fmt.Errorf("%w: entry %d has column %d, want [0,%d)", ErrIndexRange, i, idx, cols)
			}
		}
	}
	return nil
}

// Part couples a CSR block with its per-row weight vector. It is the shape
// every assembly task produces and the merge step consumes.
type Part struct {
	CSR     CSR
	Weights []float64
}

// Validate checks the coupled invariants of the part.
func (p *Part) Validate(cols int64) error {
	if err := p.CSR.Validate(cols); err != nil {
		return err
	}
	if len(p.Weights) != p.CSR.Rows() && !(p.CSR.Empty() && len(p.Weights) == 0) {
		return fmt.Errorf("%w: %d weights for %d rows", ErrWeightLength, len(p.Weights), p.CSR.Rows())
	}
	return nil
}

// System is the assembled global linear system: the design matrix over the
// surviving (used-tile) columns, the diagonal of the row weight matrix, the
// diagonal of the regularization matrix, and the initial parameter vector.
type System struct {
	A       CSR
	Weights []float64
	Reg     []float64
	X0      []float64
}

// Cols returns the column count of the system, which equals the total
// degrees of freedom of the used tiles.
func (s *System) Cols() int { return len(s.X0) }
