package sparse

// Concat merges an ordered collection of parts into a single part.
//
// Empty parts contribute nothing and are skipped. Data, index and weight
// arrays are appended verbatim; row-pointer arrays are appended without their
// leading zero, offset by the accumulator's final row-pointer value, because
// every part's pointers are zero-based. Row order follows input order; the
// least-squares content of the system is order-independent, so callers only
// rely on the order for reproducible diagnostics and file output.
//
// The inputs are never mutated; the result owns fresh arrays.
func Concat(parts []Part) Part {
	var nnz, rows int
	any := false
	for i := range parts {
		if parts[i].CSR.Empty() {
			continue
		}
		any = true
		nnz += parts[i].CSR.NNZ()
		rows += parts[i].CSR.Rows()
	}
	if !any {
		return Part{}
	}

	out := Part{
		CSR: CSR{
			Data:    make([]float64, 0, nnz),
			Indices: make([]int64, 0, nnz),
			Indptr:  make([]int64, 1, rows+1),
		},
		Weights: make([]float64, 0, rows),
	}
	out.CSR.Indptr[0] = 0

	for i := range parts {
		p := &parts[i]
		if p.CSR.Empty() {
			continue
		}
		out.CSR.Data = append(out.CSR.Data, p.CSR.Data...)
		out.CSR.Indices = append(out.CSR.Indices, p.CSR.Indices...)
		out.Weights = append(out.Weights, p.Weights...)

		base := out.CSR.Indptr[len(out.CSR.Indptr)-1]
		for _, ptr := range p.CSR.Indptr[1:] {
			out.CSR.Indptr = append(out.CSR.Indptr, ptr+base)
		}
	}
	return out
}
