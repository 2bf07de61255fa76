package assemble

// PairGroup identifies one tile-pair group: the two section indices whose
// point-match collection contributes constraints.
type PairGroup struct {
	Z1 int `json:"z1"`
	Z2 int `json:"z2"`
}

// Depth returns the absolute section distance of the group.
func (g PairGroup) Depth() int {
	d := g.Z2 - g.Z1
	if d < 0 {
		d = -d
	}
	return d
}

// Montage reports whether the group is a same-section group.
func (g PairGroup) Montage() bool { return g.Z1 == g.Z2 }

// EnumeratePairs produces the ordered tile-pair groups for the given section
// indices and pairing depths.
//
// A single section yields one montage group regardless of depth. Multiple
// sections yield one group per (z, z+d) with d in the depth list and z+d
// present in zs. Enumeration order is deterministic: sections ascending,
// depths ascending within a section. Downstream only relies on the order for
// reproducible diagnostics and file output.
func EnumeratePairs(zs []int, depth []int) []PairGroup {
	if len(zs) == 0 {
		return nil
	}
	if len(zs) == 1 {
		return []PairGroup{{Z1: zs[0], Z2: zs[0]}}
	}

	present := make(map[int]struct{}, len(zs))
	for _, z := range zs {
		present[z] = struct{}{}
	}

	var pairs []PairGroup
	for _, z := range zs {
		for _, d := range normDepth(depth) {
			z2 := z + d
			if _, ok := present[z2]; !ok {
				continue
			}
			pairs = append(pairs, PairGroup{Z1: z, Z2: z2})
		}
	}
	return pairs
}
