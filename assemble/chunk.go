package assemble

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/stackalign/stackalign/sparse"
)

// Chunk is the immutable partial result of one assembly task: a (possibly
// empty) CSR part, the bitmap of tile positions it marked used, and the
// section indices it touched.
//
// A chunk is produced once, consumed once by the merge step, and never
// mutated in between.
type Chunk struct {
	Part  sparse.Part
	Used  *roaring.Bitmap
	ZList []int
}

// emptyChunk returns the canonical empty contribution. Zero matches for a
// pair is a valid outcome, not an error.
func emptyChunk() *Chunk {
	return &Chunk{Used: roaring.New()}
}

// Empty reports whether the chunk carries no constraint rows.
func (c *Chunk) Empty() bool { return c.Part.CSR.Empty() }

// Rows returns the constraint-row count of the chunk.
func (c *Chunk) Rows() int { return c.Part.CSR.Rows() }

// Validate checks the chunk invariants: CSR shape, weight length, column
// indices within [0, totalDOF) and used positions within the tile count.
func (c *Chunk) Validate(totalDOF int64, tileCount int) error {
	if err := c.Part.Validate(totalDOF); err != nil {
		return err
	}
	if c.Used == nil {
		return fmt.Errorf("chunk has no used-tile mask")
	}
	if !c.Used.IsEmpty() && c.Used.Maximum() >= uint32(tileCount) {
		return fmt.Errorf("used-tile mask names position %d of %d tiles", c.Used.Maximum(), tileCount)
	}
	return nil
}
