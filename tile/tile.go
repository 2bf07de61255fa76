// Package tile defines the tile and point-match records the assembly engine
// consumes, and the fixed global ordering that maps tiles to column blocks.
package tile

// Tile is one image patch with its own transform parameters.
//
// Params holds the current parameter values in solve-vector order; its length
// is the tile's degree-of-freedom count. Reg optionally carries a per-tile
// regularization vector of the same length; when nil the builder derives one
// from the configured model.
type Tile struct {
	ID     string    `json:"id"`
	Z      int       `json:"z"`
	Params []float64 `json:"params"`
	Reg    []float64 `json:"reg,omitempty"`
}

// DOF returns the tile's scalar degree-of-freedom count.
func (t *Tile) DOF() int { return len(t.Params) }

// PointMatch is a correspondence record between two tiles: parallel arrays of
// matched point coordinates with optional per-point weights.
type PointMatch struct {
	PID string       `json:"pId"`
	QID string       `json:"qId"`
	P   [][2]float64 `json:"p"`
	Q   [][2]float64 `json:"q"`
	// W is optional; nil means every point has weight 1.
	W []float64 `json:"w,omitempty"`
}

// NumPoints returns the number of point pairs in the match.
func (m *PointMatch) NumPoints() int { return len(m.P) }
