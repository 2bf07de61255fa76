package model

import (
	"math/rand"

	"github.com/stackalign/stackalign/tile"
)

// Affine is the six-parameter affine family.
//
// Parameter order per tile is [a b tx c d ty] with
// x' = a*x + b*y + tx and y' = c*x + d*y + ty.
// Each point pair yields two rows (x and y agreement), each touching three
// parameters of the source tile and three of the target tile.
type Affine struct{}

func (Affine) Name() string      { return "affine" }
func (Affine) DOF() int          { return 6 }
func (Affine) RowsPerPoint() int { return 2 }
func (Affine) NNZPerRow() int    { return 6 }

func (Affine) Identity() []float64 { return []float64{1, 0, 0, 0, 1, 0} }

func (a Affine) Regularization(cfg RegConfig) []float64 {
	r := make([]float64, a.DOF())
	for i := range r {
		r[i] = cfg.Lambda
	}
	// tx and ty
	r[2] = cfg.Lambda * cfg.TranslationFactor
	r[5] = cfg.Lambda * cfg.TranslationFactor
	return r
}

func (a Affine) SubBlock(m *tile.PointMatch, colP, colQ int64, minPts, maxPts int, subsample bool, rng *rand.Rand) (*SubBlock, error) {
	idx, w, err := choosePoints(m, minPts, maxPts, subsample, rng)
	if err != nil {
		return nil, err
	}

	npts := len(idx)
	rows := npts * a.RowsPerPoint()
	nnz := a.NNZPerRow()
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

		// x row: a_p*px + b_p*py + tx_p - a_q*qx - b_q*qy - tx_q = 0
		r := 2 * k
		o := r * nnz
		b.Data[o+0], b.Indices[o+0] = px, colP+0
		b.Data[o+1], b.Indices[o+1] = py, colP+1
		b.Data[o+2], b.Indices[o+2] = 1, colP+2
		b.Data[o+3], b.Indices[o+3] = -qx, colQ+0
		b.Data[o+4], b.Indices[o+4] = -qy, colQ+1
		b.Data[o+5], b.Indices[o+5] = -1, colQ+2

		// y row: c_p*px + d_p*py + ty_p - c_q*qx - d_q*qy - ty_q = 0
		o += nnz
		b.Data[o+0], b.Indices[o+0] = px, colP+3
		b.Data[o+1], b.Indices[o+1] = py, colP+4
		b.Data[o+2], b.Indices[o+2] = 1, colP+5
		b.Data[o+3], b.Indices[o+3] = -qx, colQ+3
		b.Data[o+4], b.Indices[o+4] = -qy, colQ+4
		b.Data[o+5], b.Indices[o+5] = -1, colQ+5

		b.Indptr[r+1] = b.Indptr[r] + int64(nnz)
		b.Indptr[r+2] = b.Indptr[r+1] + int64(nnz)
		b.Weights[r] = w[pi]
		b.Weights[r+1] = w[pi]
	}

	if err := b.validate(nnz, a.RowsPerPoint()); err != nil {
		return nil, err
	}
	return b, nil
}
