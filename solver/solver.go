// Package solver solves the regularized weighted least-squares system the
// assembly stage produces.
//
// The solved system is K x = rhs with K = Aᵗ W A + R and rhs = R x0: the
// point-match constraints are homogeneous, so the right-hand side comes
// entirely from the regularization pull toward the initial parameters. K is
// symmetric positive definite whenever the tile graph is connected and the
// regularization is non-degenerate; the Cholesky factorization failing is
// the canonical symptom of an under-constrained or disconnected tile set.
package solver

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/stackalign/stackalign/sparse"
)

// ErrNotPositiveDefinite is returned when the normal-equations matrix cannot
// be factorized. This is fatal for the enclosing solve; there is no retry.
var ErrNotPositiveDefinite = errors.New("normal-equations matrix not positive definite")

// Result is the solved parameter vector with residual diagnostics.
type Result struct {
	// X is the solved parameter vector over the used-tile columns.
	X []float64

	// Rows and Cols are the design-matrix shape.
	Rows, Cols int

	// Precision is |K x - rhs| / |rhs|, a factorization quality check.
	Precision float64

	// ErrorNorm is |A x|, the total constraint violation.
	ErrorNorm float64

	// Mean and Std summarize |A x| per constraint row.
	Mean, Std float64

	// AxisMean and AxisStd summarize |A x| per axis when constraint rows
	// interleave axes (index r%axes); nil when axes <= 1.
	AxisMean, AxisStd []float64
}

// String formats the diagnostics the way run logs report them.
func (r *Result) String() string {
	s := fmt.Sprintf("solved %d x %d system\n precision: %0.3e\n error norm: %0.3e\n |Ax|: %0.3f +/- %0.3f",
		r.Rows, r.Cols, r.Precision, r.ErrorNorm, r.Mean, r.Std)
	for i := range r.AxisMean {
		s += fmt.Sprintf("\n axis %d: %0.3f +/- %0.3f", i, r.AxisMean[i], r.AxisStd[i])
	}
	return s
}

// Solve factorizes the regularized weighted normal equations and returns the
// parameter vector. axes is the number of interleaved constraint axes per
// point (2 for planar models); it only shapes the diagnostics.
func Solve(sys *sparse.System, axes int) (*Result, error) {
	n := sys.Cols()
	rows := sys.A.Rows()
	if n == 0 {
		return nil, fmt.Errorf("solve: empty system")
	}
	if len(sys.Reg) != n {
		return nil, fmt.Errorf("solve: regularization length %d, want %d", len(sys.Reg), n)
	}
	if len(sys.Weights) != rows {
		return nil, fmt.Errorf("solve: %d weights for %d rows", len(sys.Weights), rows)
	}
	if err := sys.A.Validate(int64(n)); err != nil {
		return nil, fmt.Errorf("solve: %w", err)
	}

	// K = AᵗWA + R, accumulated row by row from the CSR triple. Each row
	// contributes the weighted outer product of its non-zero pattern.
	K := mat.NewSymDense(n, nil)
	for r := 0; r < rows; r++ {
		w := sys.Weights[r]
		if w == 0 {
			continue
		}
		start, end := sys.A.Indptr[r], sys.A.Indptr[r+1]
		for i := start; i < end; i++ {
			ci, vi := int(sys.A.Indices[i]), sys.A.Data[i]
			wvi := w * vi
			for j := i; j < end; j++ {
				cj, vj := int(sys.A.Indices[j]), sys.A.Data[j]
				a, b := ci, cj
				if a > b {
					a, b = b, a
				}
				K.SetSym(a, b, K.At(a, b)+wvi*vj)
			}
		}
	}
	for d := 0; d < n; d++ {
		K.SetSym(d, d, K.At(d, d)+sys.Reg[d])
	}

	rhs := mat.NewVecDense(n, nil)
	for d := 0; d < n; d++ {
		rhs.SetVec(d, sys.Reg[d]*sys.X0[d])
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(K); !ok {
		return nil, fmt.Errorf("%w: %d x %d from %d constraint rows", ErrNotPositiveDefinite, n, n, rows)
	}

	x := mat.NewVecDense(n, nil)
	if err := chol.SolveVecTo(x, rhs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotPositiveDefinite, err)
	}

	res := &Result{
		X:    make([]float64, n),
		Rows: rows,
		Cols: n,
	}
	copy(res.X, x.RawVector().Data)

	res.Precision = precision(K, x, rhs)
	residuals := rowResiduals(&sys.A, res.X)
	res.ErrorNorm = norm2(residuals)
	res.Mean, res.Std = absStats(residuals, 0, 1)
	if axes > 1 {
		res.AxisMean = make([]float64, axes)
		res.AxisStd = make([]float64, axes)
		for a := 0; a < axes; a++ {
			res.AxisMean[a], res.AxisStd[a] = absStats(residuals, a, axes)
		}
	}
	return res, nil
}

// rowResiduals computes A x per constraint row.
func rowResiduals(a *sparse.CSR, x []float64) []float64 {
	out := make([]float64, a.Rows())
	for r := range out {
		var sum float64
		for i := a.Indptr[r]; i < a.Indptr[r+1]; i++ {
			sum += a.Data[i] * x[a.Indices[i]]
		}
		out[r] = sum
	}
	return out
}

// precision computes |K x - rhs| / |rhs|.
func precision(K *mat.SymDense, x, rhs *mat.VecDense) float64 {
	var kx mat.VecDense
	kx.MulVec(K, x)
	kx.SubVec(&kx, rhs)
	num := mat.Norm(&kx, 2)
	den := mat.Norm(rhs, 2)
	if den == 0 {
		return num
	}
	return num / den
}

// absStats returns mean and standard deviation of |v| over the strided
// subsequence starting at offset.
func absStats(v []float64, offset, stride int) (mean, std float64) {
	var n int
	for i := offset; i < len(v); i += stride {
		mean += math.Abs(v[i])
		n++
	}
	if n == 0 {
		return 0, 0
	}
	mean /= float64(n)
	for i := offset; i < len(v); i += stride {
		d := math.Abs(v[i]) - mean
		std += d * d
	}
	std = math.Sqrt(std / float64(n))
	return mean, std
}

// norm2 returns the Euclidean norm of v.
func norm2(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}
