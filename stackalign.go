// Package stackalign aligns a serial stack of overlapping image tiles by
// solving for per-tile transform parameters that make corresponding feature
// points agree across tiles.
//
// The pipeline enumerates tile-pair groups, assembles per-group sparse
// constraint chunks on a fixed worker pool, merges them into one global CSR
// system, and solves the regularized weighted normal equations. Assembled
// systems can alternatively be persisted to a blob store and solved later.
//
// Quick start:
//
//	db := store.NewMemory()
//	// ... populate tiles and matches ...
//	al, err := stackalign.New(db, db,
//	    stackalign.WithModel(model.Affine{}),
//	    stackalign.WithSolveType(stackalign.SolveMontage),
//	    stackalign.WithOutput(stackalign.OutputStack),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := al.Run(ctx, "mystack", 0, 10)
package stackalign

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stackalign/stackalign/assemble"
	"github.com/stackalign/stackalign/model"
	"github.com/stackalign/stackalign/persistence"
	"github.com/stackalign/stackalign/solver"
	"github.com/stackalign/stackalign/store"
	"github.com/stackalign/stackalign/tile"
)

// Aligner runs alignment solves against a tile store and a match store.
type Aligner struct {
	tiles   store.TileStore
	matches store.MatchStore
	opts    options
}

// New creates an Aligner. tiles supplies tile metadata and accepts solved
// parameters; matches supplies point correspondences.
func New(tiles store.TileStore, matches store.MatchStore, opts ...Option) (*Aligner, error) {
	o := defaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	if o.runID == "" {
		o.runID = uuid.NewString()
	}
	if needsPersist(o) && o.persist == nil {
		return nil, ErrNoPersistStore
	}
	return &Aligner{tiles: tiles, matches: matches, opts: o}, nil
}

func needsPersist(o options) bool {
	return o.output == OutputPersist || o.source == SourcePersisted || o.source == SourceParamsOnly
}

// SectionResult reports the outcome for one solved system: a single section
// in montage mode, the full range in 3D mode.
type SectionResult struct {
	Zs          []int
	TilesUsed   int
	TilesUnused int
	// Solve is nil when the system was persisted or profiled, not solved.
	Solve *solver.Result
	// DataFiles lists the persisted chunk files, persist mode only.
	DataFiles []string
}

// RunResult is the outcome of a whole run.
type RunResult struct {
	RunID    string
	Sections []SectionResult
	// Profiled reports a requested early exit after assembly.
	Profiled bool
}

// runConfig is the configuration snapshot recorded with persisted systems
// and compared on reload.
type runConfig struct {
	SolveType SolveType       `json:"solve_type"`
	Model     string          `json:"transformation"`
	Assembly  assemble.Config `json:"matrix_assembly"`
	Reg       model.RegConfig `json:"regularization"`
	Workers   int             `json:"n_parallel_jobs"`
}

func (a *Aligner) configJSON() json.RawMessage {
	raw, err := json.Marshal(runConfig{
		SolveType: a.opts.solveType,
		Model:     a.opts.model.Name(),
		Assembly:  a.opts.assembly,
		Reg:       a.opts.reg,
		Workers:   a.opts.workers,
	})
	if err != nil {
		return nil
	}
	return raw
}

// Run executes the configured solve over stack sections [zFirst, zLast].
//
// Montage mode loops over the stack's sections in that range, building and
// solving one independent system per section; 3D mode builds one system
// spanning the whole range. A failed solve aborts the run; empty sections
// are logged and skipped.
func (a *Aligner) Run(ctx context.Context, stack string, zFirst, zLast int) (*RunResult, error) {
	log := a.opts.logger.WithRun(a.opts.runID).WithStack(stack)
	t0 := time.Now()
	result := &RunResult{RunID: a.opts.runID}

	if a.opts.source != SourceStore {
		sec, err := a.runFromPersisted(ctx, stack, log)
		if err != nil {
			return nil, err
		}
		result.Sections = append(result.Sections, *sec)
		log.Info("run complete", "elapsed", time.Since(t0))
		return result, nil
	}

	zs, err := a.sectionRange(ctx, stack, zFirst, zLast)
	if err != nil {
		return nil, err
	}

	switch a.opts.solveType {
	case SolveMontage:
		for _, z := range zs {
			sec, err := a.assembleAndSolve(ctx, stack, []int{z}, log.WithSection(z))
			if errors.Is(err, errProfileAbort) {
				result.Profiled = true
				if sec != nil {
					result.Sections = append(result.Sections, *sec)
				}
				return result, nil
			}
			if err != nil {
				return nil, fmt.Errorf("montage z=%d: %w", z, err)
			}
			if sec != nil {
				result.Sections = append(result.Sections, *sec)
			}
		}
	case Solve3D:
		sec, err := a.assembleAndSolve(ctx, stack, zs, log.WithSections(zs[0], zs[len(zs)-1]))
		if errors.Is(err, errProfileAbort) {
			result.Profiled = true
			if sec != nil {
				result.Sections = append(result.Sections, *sec)
			}
			return result, nil
		}
		if err != nil {
			return nil, fmt.Errorf("3d sections %d..%d: %w", zs[0], zs[len(zs)-1], err)
		}
		if sec != nil {
			result.Sections = append(result.Sections, *sec)
		}
	default:
		return nil, fmt.Errorf("unknown solve type %q", a.opts.solveType)
	}

	log.Info("run complete", "systems", len(result.Sections), "elapsed", time.Since(t0))
	return result, nil
}

// sectionRange intersects the requested range with the sections actually
// present in the stack.
func (a *Aligner) sectionRange(ctx context.Context, stack string, zFirst, zLast int) ([]int, error) {
	inStack, err := a.tiles.ZValues(ctx, stack)
	if err != nil {
		return nil, fmt.Errorf("list sections of %s: %w", stack, err)
	}
	var zs []int
	for _, z := range inStack {
		if z >= zFirst && z <= zLast {
			zs = append(zs, z)
		}
	}
	if len(zs) == 0 {
		return nil, fmt.Errorf("%w: %s [%d,%d]", ErrNoSections, stack, zFirst, zLast)
	}
	return zs, nil
}

// assembleAndSolve builds one system over zs and solves or persists it.
// It returns (nil, nil) for a section with no tiles.
func (a *Aligner) assembleAndSolve(ctx context.Context, stack string, zs []int, log *Logger) (*SectionResult, error) {
	tiles, err := a.tiles.Tiles(ctx, stack, zs[0], zs[len(zs)-1])
	if err != nil {
		return nil, fmt.Errorf("fetch tiles: %w", err)
	}
	if len(tiles) == 0 {
		if len(zs) == 1 {
			log.Warn("section has no tiles, skipping")
			return nil, nil
		}
		return nil, fmt.Errorf("%w: sections %d..%d", ErrNoTiles, zs[0], zs[len(zs)-1])
	}

	set, err := tile.NewSet(tiles)
	if err != nil {
		return nil, err
	}

	builder := &assemble.Builder{
		Matches: a.matches,
		Set:     set,
		Model:   a.opts.model,
		Config:  a.opts.assembly,
		Reg:     a.opts.reg,
		Workers: a.opts.workers,
		Log:     log.Logger,
	}

	t0 := time.Now()
	asm, err := builder.Assemble(ctx, zs)
	if err != nil {
		a.opts.metrics.RecordAssembly(0, 0, 0, time.Since(t0), err)
		return nil, err
	}

	var rows, nnz int
	for _, c := range asm.Chunks {
		rows += c.Rows()
		nnz += c.Part.CSR.NNZ()
	}
	a.opts.metrics.RecordAssembly(len(asm.Pairs), rows, nnz, time.Since(t0), nil)
	log.Info("system assembled", "rows", rows, "nnz", nnz, "elapsed", time.Since(t0))

	sec := &SectionResult{
		Zs:          zs,
		TilesUsed:   len(asm.UsedIDs),
		TilesUnused: len(asm.UnusedIDs),
	}

	if a.opts.profileOnly {
		log.Info("profiling requested, exiting after assembly")
		return sec, errProfileAbort
	}

	if a.opts.output == OutputPersist {
		return a.persistSystem(ctx, builder, asm, sec, log)
	}

	sys, err := builder.System(asm)
	if err != nil {
		return nil, err
	}

	t0 = time.Now()
	res, err := solver.Solve(sys, a.opts.model.RowsPerPoint())
	a.opts.metrics.RecordSolve(sys.A.Rows(), sys.Cols(), time.Since(t0), err)
	if err != nil {
		return nil, fmt.Errorf("sections %d..%d: %w", zs[0], zs[len(zs)-1], err)
	}
	sec.Solve = res
	log.Info("system solved",
		"rows", res.Rows, "cols", res.Cols,
		"precision", res.Precision, "mean_residual", res.Mean)

	if a.opts.output == OutputStack {
		if err := a.writeSolved(ctx, stack, set, asm, res.X); err != nil {
			return nil, fmt.Errorf("write solved tiles: %w", err)
		}
	}
	return sec, nil
}

// persistSystem serializes the assembled chunks instead of solving.
func (a *Aligner) persistSystem(ctx context.Context, builder *assemble.Builder, asm *assemble.Assembly, sec *SectionResult, log *Logger) (*SectionResult, error) {
	reg, x0 := builder.RegAndX0(asm)
	t0 := time.Now()
	meta, err := persistence.Save(ctx, a.opts.persist, persistence.SaveInput{
		Chunks:    asm.Chunks,
		UsedIDs:   asm.UsedIDs,
		UnusedIDs: asm.UnusedIDs,
		Reg:       reg,
		X0:        x0,
		DOF:       a.opts.model.DOF(),
		Model:     a.opts.model.Name(),
		RunID:     a.opts.runID,
		Config:    a.configJSON(),
	}, persistence.WithCompression(a.opts.compression))
	a.opts.metrics.RecordPersist(len(asm.Chunks), time.Since(t0), err)
	if err != nil {
		return nil, fmt.Errorf("persist system: %w", err)
	}
	sec.DataFiles = meta.DataFiles
	log.Info("system persisted, no solve", "files", len(meta.DataFiles))
	return sec, nil
}

// runFromPersisted reloads a persisted system and solves it, or extracts
// only its parameter vectors in params-only mode.
func (a *Aligner) runFromPersisted(ctx context.Context, stack string, log *Logger) (*SectionResult, error) {
	opts := []persistence.LoadOption{persistence.WithConfigCheck(a.configJSON())}
	if a.opts.source == SourceParamsOnly {
		opts = append(opts, persistence.WithoutData())
	}
	loaded, err := persistence.Load(ctx, a.opts.persist, log.Logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("load persisted system: %w", err)
	}

	// The persisted system was assembled under its recorded model, which
	// wins over whatever this aligner happens to be configured with.
	m := a.opts.model
	if loaded.Meta.Model != "" && loaded.Meta.Model != m.Name() {
		m, err = model.ByName(loaded.Meta.Model)
		if err != nil {
			return nil, fmt.Errorf("persisted system model: %w", err)
		}
		log.Warn("persisted system uses a different model than configured",
			"persisted", loaded.Meta.Model, "configured", a.opts.model.Name())
	}

	sec := &SectionResult{
		TilesUsed:   len(loaded.Meta.UsedTileIDs),
		TilesUnused: len(loaded.Meta.UnusedTileIDs),
	}

	x := loaded.X0
	if a.opts.source == SourcePersisted {
		sys := loaded.System()
		t0 := time.Now()
		res, err := solver.Solve(sys, m.RowsPerPoint())
		a.opts.metrics.RecordSolve(sys.A.Rows(), sys.Cols(), time.Since(t0), err)
		if err != nil {
			return nil, err
		}
		sec.Solve = res
		x = res.X
		log.Info("persisted system solved",
			"rows", res.Rows, "cols", res.Cols, "precision", res.Precision)
	}

	if a.opts.output == OutputStack {
		if err := a.writeSolvedIDs(ctx, stack, loaded.Meta.UsedTileIDs, x, m.DOF()); err != nil {
			return nil, fmt.Errorf("write solved tiles: %w", err)
		}
	}
	return sec, nil
}

// writeSolved writes the solved parameters of the used tiles back to the
// tile store. x is ordered by used tiles in global order.
func (a *Aligner) writeSolved(ctx context.Context, stack string, set *tile.Set, asm *assemble.Assembly, x []float64) error {
	dof := a.opts.model.DOF()
	solved := make([]tile.Tile, 0, len(asm.UsedIDs))
	var k int
	for i := 0; i < set.Len(); i++ {
		if !asm.Used.Contains(uint32(i)) {
			continue
		}
		t := *set.Tile(i)
		t.Params = append([]float64(nil), x[k*dof:(k+1)*dof]...)
		solved = append(solved, t)
		k++
	}
	return a.tiles.WriteTiles(ctx, stack, solved)
}

// writeSolvedIDs writes solved parameters for tiles known only by ID, as
// when reloading a persisted system without the original tile metadata. dof
// is the recorded model's parameter count, which sized the persisted vectors.
func (a *Aligner) writeSolvedIDs(ctx context.Context, stack string, ids []string, x []float64, dof int) error {
	if len(x) != dof*len(ids) {
		return fmt.Errorf("parameter vector length %d for %d tiles of %d DOF", len(x), len(ids), dof)
	}
	solved := make([]tile.Tile, len(ids))
	for i, id := range ids {
		solved[i] = tile.Tile{
			ID:     id,
			Params: append([]float64(nil), x[i*dof:(i+1)*dof]...),
		}
	}
	return a.tiles.WriteTiles(ctx, stack, solved)
}
