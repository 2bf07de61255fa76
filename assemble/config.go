// Package assemble turns pairwise point correspondences into the global
// sparse linear system: it enumerates tile-pair groups, runs one assembly
// task per group on a fixed worker pool, merges the resulting chunks and
// builds the regularized system over the used-tile columns.
package assemble

import "sort"

// Config is the matrix-assembly configuration. Field names mirror the knobs
// recorded into persisted metadata.
type Config struct {
	// MinPoints is the minimum point count for a match to contribute.
	MinPoints int `json:"npts_min"`
	// MaxPoints caps the points taken from one match. 0 means no cap.
	MaxPoints int `json:"npts_max"`
	// ChooseRandom subsamples capped matches at random instead of taking
	// the leading points.
	ChooseRandom bool `json:"choose_random"`
	// Seed feeds the per-pair subsampling RNG so runs are reproducible.
	Seed int64 `json:"random_seed"`

	// Depth lists the section distances to pair. {0} is a montage;
	// {0,1,2} pairs every section with itself and its two successors.
	Depth []int `json:"depth"`

	// MontageWeight and CrossWeight are the pair-level weight constants for
	// same-section and cross-section pairs.
	MontageWeight float64 `json:"montage_pt_weight"`
	CrossWeight   float64 `json:"cross_pt_weight"`
	// InverseDZ divides the cross weight by (|dz|+1).
	InverseDZ bool `json:"inverse_dz"`
	// DepthWeights, when non-nil, is parallel to Depth and scales the
	// montage/cross constant per section distance, overriding InverseDZ.
	DepthWeights []float64 `json:"explicit_weight_by_depth,omitempty"`
}

// DefaultConfig returns the assembly defaults.
func DefaultConfig() Config {
	return Config{
		MinPoints:     3,
		MaxPoints:     500,
		Depth:         []int{0},
		MontageWeight: 1.0,
		CrossWeight:   1.0,
	}
}

// PairWeight returns the weight factor applied to every row a section pair
// contributes.
//
// Precedence: an explicit depth-weight table, when configured, scales the
// montage/cross constant and fully overrides the inverse-distance path.
// Without a table, montage pairs use the montage constant and cross pairs use
// the cross constant, divided by (|dz|+1) when InverseDZ is set.
func (c *Config) PairWeight(z1, z2 int) float64 {
	dz := z2 - z1
	if dz < 0 {
		dz = -dz
	}
	base := c.CrossWeight
	if dz == 0 {
		base = c.MontageWeight
	}

	if len(c.DepthWeights) > 0 {
		for i, d := range c.Depth {
			if d == dz && i < len(c.DepthWeights) {
				return c.DepthWeights[i] * base
			}
		}
		// Pairs are enumerated from Depth, so a miss here means the table
		// is shorter than the depth list; fall through to the constant.
		return base
	}

	if dz == 0 {
		return c.MontageWeight
	}
	w := c.CrossWeight
	if c.InverseDZ {
		w /= float64(dz + 1)
	}
	return w
}

// normDepth returns the depth list sorted ascending with duplicates removed.
func normDepth(depth []int) []int {
	if len(depth) == 0 {
		return []int{0}
	}
	out := make([]int, 0, len(depth))
	seen := make(map[int]struct{}, len(depth))
	for _, d := range depth {
		if d < 0 {
			d = -d
		}
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Ints(out)
	return out
}
