package sparse

import "fmt"

// SliceColumns drops the columns of c whose keep entry is false and renumbers
// the surviving columns in order. Rows are preserved as-is.
//
// Unused tiles contribute no equations, so no stored entry may reference a
// dropped column; such an entry is reported as an error rather than silently
// discarded, because it means the used-tile mask and the matrix disagree.
func SliceColumns(c CSR, keep []bool) (CSR, int, error) {
	remap := make([]int64, len(keep))
	var next int64
	for i, k := range keep {
		if k {
			remap[i] = next
			next++
		} else {
			remap[i] = -1
		}
	}

	out := CSR{
		Data:    make([]float64, len(c.Data)),
		Indices: make([]int64, len(c.Indices)),
		Indptr:  make([]int64, len(c.Indptr)),
	}
	copy(out.Data, c.Data)
	copy(out.Indptr, c.Indptr)
	for i, idx := range c.Indices {
		if idx < 0 || idx >= int64(len(remap)) {
			return CSR{}, 0, fmt.Errorf("%w: column %d with %d columns total", ErrIndexRange, idx, len(remap))
		}
		mapped := remap[idx]
		if mapped < 0 {
			return CSR{}, 0, fmt.Errorf("%w: entry %d references dropped column %d", ErrIndexRange, i, idx)
		}
		out.Indices[i] = mapped
	}
	return out, int(next), nil
}
