package stackalign

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackalign/stackalign/assemble"
	"github.com/stackalign/stackalign/model"
	"github.com/stackalign/stackalign/persistence"
	"github.com/stackalign/stackalign/store"
	"github.com/stackalign/stackalign/tile"
)

// worldMatch synthesizes a noise-free point match between two tiles whose
// true placements are pure translations: a world point w appears at w-off in
// each tile's local frame, so the identity-plus-translation transforms map
// both observations back onto w exactly.
func worldMatch(pID, qID string, pOff, qOff [2]float64, worldPts [][2]float64) tile.PointMatch {
	m := tile.PointMatch{PID: pID, QID: qID}
	for _, w := range worldPts {
		m.P = append(m.P, [2]float64{w[0] - pOff[0], w[1] - pOff[1]})
		m.Q = append(m.Q, [2]float64{w[0] - qOff[0], w[1] - qOff[1]})
	}
	return m
}

var gridPts = [][2]float64{
	{0, 0}, {50, 0}, {0, 50}, {50, 50}, {25, 25}, {10, 40}, {40, 10},
}

// anchorReg pins every parameter of one tile to its prior, fixing the
// global gauge that homogeneous match constraints leave free. Without an
// anchor the weak default priors let the whole montage drift and contract.
func anchorReg(dof int) []float64 {
	reg := make([]float64, dof)
	for i := range reg {
		reg[i] = 1e6
	}
	return reg
}

// montageFixture builds a three-tile single-section stack with consistent
// pairwise matches. True placements: A at the origin, B shifted +100 in x,
// C shifted +100 in y. A is anchored to its identity prior.
func montageFixture() *store.Memory {
	db := store.NewMemory()
	identity := func(id string, z int) tile.Tile {
		return tile.Tile{ID: id, Z: z, Params: []float64{1, 0, 0, 0, 1, 0}}
	}
	anchor := identity("A", 0)
	anchor.Reg = anchorReg(6)
	db.AddTiles("acq1", anchor, identity("B", 0), identity("C", 0))

	offA := [2]float64{0, 0}
	offB := [2]float64{100, 0}
	offC := [2]float64{0, 100}
	db.AddMatches(0, 0,
		worldMatch("A", "B", offA, offB, gridPts),
		worldMatch("B", "C", offB, offC, gridPts),
		worldMatch("A", "C", offA, offC, gridPts),
	)
	return db
}

func newTestAligner(t *testing.T, db *store.Memory, opts ...Option) *Aligner {
	t.Helper()
	opts = append([]Option{WithLogger(NoopLogger())}, opts...)
	al, err := New(db, db, opts...)
	require.NoError(t, err)
	return al
}

func solvedParams(t *testing.T, db *store.Memory, stack, id string) []float64 {
	t.Helper()
	tiles, err := db.Tiles(context.Background(), stack, -1000, 1000)
	require.NoError(t, err)
	for _, ti := range tiles {
		if ti.ID == id {
			return ti.Params
		}
	}
	t.Fatalf("tile %s not found in %s", id, stack)
	return nil
}

func TestMontageSolve(t *testing.T) {
	ctx := context.Background()
	db := montageFixture()

	al := newTestAligner(t, db, WithOutput(OutputStack))
	result, err := al.Run(ctx, "acq1", 0, 0)
	require.NoError(t, err)

	require.Len(t, result.Sections, 1)
	sec := result.Sections[0]
	assert.Equal(t, []int{0}, sec.Zs)
	assert.Equal(t, 3, sec.TilesUsed)
	assert.Equal(t, 0, sec.TilesUnused)

	require.NotNil(t, sec.Solve)
	// 3 pairs x 7 points x 2 rows over 3 tiles of 6 parameters.
	assert.Equal(t, 42, sec.Solve.Rows)
	assert.Equal(t, 18, sec.Solve.Cols)
	assert.Less(t, sec.Solve.Mean, 1e-3)

	// With A anchored to its prior the placements are absolute: B sits
	// +100 in x, C +100 in y, relative offsets likewise.
	pa := solvedParams(t, db, "acq1", "A")
	pb := solvedParams(t, db, "acq1", "B")
	pc := solvedParams(t, db, "acq1", "C")
	assert.InDelta(t, 100, pb[2]-pa[2], 1e-3)
	assert.InDelta(t, 0, pb[5]-pa[5], 1e-3)
	assert.InDelta(t, 0, pc[2]-pa[2], 1e-3)
	assert.InDelta(t, 100, pc[5]-pa[5], 1e-3)

	// Linear parts stay near identity.
	for _, p := range [][]float64{pa, pb, pc} {
		assert.InDelta(t, 1, p[0], 1e-3)
		assert.InDelta(t, 0, p[1], 1e-3)
		assert.InDelta(t, 0, p[3], 1e-3)
		assert.InDelta(t, 1, p[4], 1e-3)
	}
}

func TestMontageLoopsSections(t *testing.T) {
	ctx := context.Background()
	db := montageFixture()

	// A second section with its own independent pair.
	db.AddTiles("acq1",
		tile.Tile{ID: "D", Z: 1, Params: []float64{1, 0, 0, 0, 1, 0}},
		tile.Tile{ID: "E", Z: 1, Params: []float64{1, 0, 0, 0, 1, 0}},
	)
	db.AddMatches(1, 1, worldMatch("D", "E", [2]float64{0, 0}, [2]float64{60, 0}, gridPts))

	metrics := &BasicMetricsCollector{}
	al := newTestAligner(t, db, WithMetrics(metrics))
	result, err := al.Run(ctx, "acq1", 0, 1)
	require.NoError(t, err)

	require.Len(t, result.Sections, 2)
	assert.Equal(t, []int{0}, result.Sections[0].Zs)
	assert.Equal(t, []int{1}, result.Sections[1].Zs)
	assert.Equal(t, int64(2), metrics.AssemblyCount.Load())
	assert.Equal(t, int64(2), metrics.SolveCount.Load())
	assert.Equal(t, int64(0), metrics.SolveErrors.Load())
}

func Test3DSolve(t *testing.T) {
	ctx := context.Background()
	db := montageFixture()

	// Section 1 repeats the layout one section up, tied to section 0 by
	// cross matches at the same placements.
	identity := func(id string, z int) tile.Tile {
		return tile.Tile{ID: id, Z: z, Params: []float64{1, 0, 0, 0, 1, 0}}
	}
	db.AddTiles("acq1", identity("A1", 1), identity("B1", 1))
	db.AddMatches(1, 1, worldMatch("A1", "B1", [2]float64{0, 0}, [2]float64{100, 0}, gridPts))
	db.AddMatches(0, 1,
		worldMatch("A", "A1", [2]float64{0, 0}, [2]float64{0, 0}, gridPts),
		worldMatch("B", "B1", [2]float64{100, 0}, [2]float64{100, 0}, gridPts),
	)

	cfg := assemble.DefaultConfig()
	cfg.Depth = []int{0, 1}

	al := newTestAligner(t, db,
		WithSolveType(Solve3D),
		WithAssembly(cfg),
		WithOutput(OutputStack),
	)
	result, err := al.Run(ctx, "acq1", 0, 1)
	require.NoError(t, err)

	require.Len(t, result.Sections, 1)
	sec := result.Sections[0]
	assert.Equal(t, []int{0, 1}, sec.Zs)
	assert.Equal(t, 5, sec.TilesUsed)
	require.NotNil(t, sec.Solve)
	assert.Equal(t, 30, sec.Solve.Cols)

	// Cross-section agreement: A1 lands on A.
	pa := solvedParams(t, db, "acq1", "A")
	pa1 := solvedParams(t, db, "acq1", "A1")
	assert.InDelta(t, 0, pa1[2]-pa[2], 1e-3)
	assert.InDelta(t, 0, pa1[5]-pa[5], 1e-3)
}

func TestProfileOnly(t *testing.T) {
	ctx := context.Background()
	al := newTestAligner(t, montageFixture(), WithProfileOnly())

	result, err := al.Run(ctx, "acq1", 0, 0)
	require.NoError(t, err)
	assert.True(t, result.Profiled)
	require.Len(t, result.Sections, 1)
	assert.Nil(t, result.Sections[0].Solve)
}

func TestPersistAndReload(t *testing.T) {
	ctx := context.Background()
	bs := persistence.NewMemStore()

	t.Run("PersistInsteadOfSolve", func(t *testing.T) {
		metrics := &BasicMetricsCollector{}
		al := newTestAligner(t, montageFixture(),
			WithOutput(OutputPersist),
			WithPersistStore(bs),
			WithMetrics(metrics),
			WithRunID("persist-run"),
		)
		result, err := al.Run(ctx, "acq1", 0, 0)
		require.NoError(t, err)
		require.Len(t, result.Sections, 1)
		assert.Nil(t, result.Sections[0].Solve)
		assert.NotEmpty(t, result.Sections[0].DataFiles)
		assert.Equal(t, int64(1), metrics.PersistCount.Load())
		assert.Equal(t, int64(0), metrics.SolveCount.Load())
		assert.Contains(t, bs.Names(), persistence.MetadataName)
	})

	t.Run("SolveFromPersisted", func(t *testing.T) {
		db := montageFixture()
		al := newTestAligner(t, db,
			WithSource(SourcePersisted),
			WithPersistStore(bs),
			WithOutput(OutputStack),
		)
		result, err := al.Run(ctx, "acq1", 0, 0)
		require.NoError(t, err)
		require.Len(t, result.Sections, 1)
		require.NotNil(t, result.Sections[0].Solve)

		// The reloaded system is the byte-identical merge, so the solution
		// matches the direct solve.
		directDB := montageFixture()
		direct := newTestAligner(t, directDB, WithOutput(OutputStack))
		_, err = direct.Run(ctx, "acq1", 0, 0)
		require.NoError(t, err)

		for _, id := range []string{"A", "B", "C"} {
			got := solvedParams(t, db, "acq1", id)
			want := solvedParams(t, directDB, "acq1", id)
			require.Len(t, got, 6)
			for i := range got {
				assert.InDelta(t, want[i], got[i], 1e-9, "tile %s param %d", id, i)
			}
		}
	})

	t.Run("ParamsOnlyWritesPriors", func(t *testing.T) {
		db := store.NewMemory()
		db.AddTiles("fresh",
			tile.Tile{ID: "A", Z: 0, Params: make([]float64, 6)},
			tile.Tile{ID: "B", Z: 0, Params: make([]float64, 6)},
			tile.Tile{ID: "C", Z: 0, Params: make([]float64, 6)},
		)
		al := newTestAligner(t, db,
			WithSource(SourceParamsOnly),
			WithPersistStore(bs),
			WithOutput(OutputStack),
		)
		result, err := al.Run(ctx, "fresh", 0, 0)
		require.NoError(t, err)
		require.Len(t, result.Sections, 1)
		assert.Nil(t, result.Sections[0].Solve)

		// The persisted run's priors were identity transforms.
		got := solvedParams(t, db, "fresh", "B")
		assert.Equal(t, []float64{1, 0, 0, 0, 1, 0}, got)
	})

	t.Run("ReloadHonorsRecordedModel", func(t *testing.T) {
		// The system was persisted under the affine model; an aligner
		// configured for similarity must still write 6-parameter tiles.
		db := store.NewMemory()
		db.AddTiles("remodel", tile.Tile{ID: "A", Z: 0, Params: make([]float64, 6)})
		al := newTestAligner(t, db,
			WithModel(model.Similarity{}),
			WithSource(SourceParamsOnly),
			WithPersistStore(bs),
			WithOutput(OutputStack),
		)
		_, err := al.Run(ctx, "remodel", 0, 0)
		require.NoError(t, err)

		for _, id := range []string{"A", "B", "C"} {
			got := solvedParams(t, db, "remodel", id)
			assert.Equal(t, []float64{1, 0, 0, 0, 1, 0}, got, "tile %s", id)
		}
	})
}

func TestRunErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("PersistModeNeedsStore", func(t *testing.T) {
		_, err := New(store.NewMemory(), store.NewMemory(), WithOutput(OutputPersist))
		assert.ErrorIs(t, err, ErrNoPersistStore)

		_, err = New(store.NewMemory(), store.NewMemory(), WithSource(SourcePersisted))
		assert.ErrorIs(t, err, ErrNoPersistStore)
	})

	t.Run("NoSectionsInRange", func(t *testing.T) {
		al := newTestAligner(t, montageFixture())
		_, err := al.Run(ctx, "acq1", 10, 20)
		assert.ErrorIs(t, err, ErrNoSections)
	})

	t.Run("MissingStack", func(t *testing.T) {
		al := newTestAligner(t, montageFixture())
		_, err := al.Run(ctx, "nope", 0, 0)
		assert.ErrorIs(t, err, store.ErrStackNotFound)
	})

	t.Run("SimilarityRejectsAffineTiles", func(t *testing.T) {
		al := newTestAligner(t, montageFixture(), WithModel(model.Similarity{}))
		_, err := al.Run(ctx, "acq1", 0, 0)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parameters")
	})
}

func TestSimilarityMontage(t *testing.T) {
	ctx := context.Background()
	db := store.NewMemory()
	identity := func(id string) tile.Tile {
		return tile.Tile{ID: id, Z: 0, Params: []float64{1, 0, 0, 0}}
	}
	anchor := identity("A")
	anchor.Reg = anchorReg(4)
	db.AddTiles("acq1", anchor, identity("B"))
	db.AddMatches(0, 0, worldMatch("A", "B", [2]float64{0, 0}, [2]float64{80, 20}, gridPts))

	al := newTestAligner(t, db, WithModel(model.Similarity{}), WithOutput(OutputStack))
	result, err := al.Run(ctx, "acq1", 0, 0)
	require.NoError(t, err)

	require.Len(t, result.Sections, 1)
	require.NotNil(t, result.Sections[0].Solve)
	assert.Equal(t, 8, result.Sections[0].Solve.Cols)

	pa := solvedParams(t, db, "acq1", "A")
	pb := solvedParams(t, db, "acq1", "B")
	require.Len(t, pa, 4)
	assert.InDelta(t, 80, pb[2]-pa[2], 1e-3)
	assert.InDelta(t, 20, pb[3]-pa[3], 1e-3)
	// Rotation stays near zero.
	assert.InDelta(t, 0, math.Abs(pa[1]), 1e-3)
}
