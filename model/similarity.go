package model

import (
	"math/rand"

	"github.com/stackalign/stackalign/tile"
)

// Similarity is the four-parameter rotation+scale+translation family.
//
// Parameter order per tile is [a b tx ty] with
// x' = a*x - b*y + tx and y' = b*x + a*y + ty.
type Similarity struct{}

func (Similarity) Name() string      { return "similarity" }
func (Similarity) DOF() int          { return 4 }
func (Similarity) RowsPerPoint() int { return 2 }
func (Similarity) NNZPerRow() int    { return 6 }

func (Similarity) Identity() []float64 { return []float64{1, 0, 0, 0} }

func (s Similarity) Regularization(cfg RegConfig) []float64 {
	r := make([]float64, s.DOF())
	for i := range r {
		r[i] = cfg.Lambda
	}
	r[2] = cfg.Lambda * cfg.TranslationFactor
	r[3] = cfg.Lambda * cfg.TranslationFactor
	return r
}

func (s Similarity) SubBlock(m *tile.PointMatch, colP, colQ int64, minPts, maxPts int, subsample bool, rng *rand.Rand) (*SubBlock, error) {
	idx, w, err := choosePoints(m, minPts, maxPts, subsample, rng)
	if err != nil {
		return nil, err
	}

	npts := len(idx)
	rows := npts * s.RowsPerPoint()
	nnz := s.NNZPerRow()
	b := &SubBlock{
		Data:    make([]float64, rows*nnz),
		Indices: make([]int64, rows*nnz),
		Indptr:  make([]int64, rows+1),
		Weights: make([]float64, rows),
		NPoints: npts,
	}

	for k, pi := range idx {
		px, py := m.P[pi][0], m.P[pi][1]
		qx, qy := m.Q[pi][0], m.Q[pi][1]

		// x row: a_p*px - b_p*py + tx_p - (a_q*qx - b_q*qy + tx_q) = 0
		r := 2 * k
		o := r * nnz
		b.Data[o+0], b.Indices[o+0] = px, colP+0
		b.Data[o+1], b.Indices[o+1] = -py, colP+1
		b.Data[o+2], b.Indices[o+2] = 1, colP+2
		b.Data[o+3], b.Indices[o+3] = -qx, colQ+0
		b.Data[o+4], b.Indices[o+4] = qy, colQ+1
		b.Data[o+5], b.Indices[o+5] = -1, colQ+2

		// y row: b_p*px + a_p*py + ty_p - (b_q*qx + a_q*qy + ty_q) = 0
		o += nnz
		b.Data[o+0], b.Indices[o+0] = py, colP+0
		b.Data[o+1], b.Indices[o+1] = px, colP+1
		b.Data[o+2], b.Indices[o+2] = 1, colP+3
		b.Data[o+3], b.Indices[o+3] = -qy, colQ+0
		b.Data[o+4], b.Indices[o+4] = -qx, colQ+1
		b.Data[o+5], b.Indices[o+5] = -1, colQ+3

		b.Indptr[r+1] = b.Indptr[r] + int64(nnz)
		b.Indptr[r+2] = b.Indptr[r+1] + int64(nnz)
		b.Weights[r] = w[pi]
		b.Weights[r+1] = w[pi]
	}

	if err := b.validate(nnz, s.RowsPerPoint()); err != nil {
		return nil, err
	}
	return b, nil
}
