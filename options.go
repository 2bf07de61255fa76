package stackalign

import (
	"log/slog"

	"github.com/stackalign/stackalign/assemble"
	"github.com/stackalign/stackalign/model"
	"github.com/stackalign/stackalign/persistence"
)

// SolveType selects the run shape.
type SolveType string

const (
	// SolveMontage builds and solves one independent system per section.
	SolveMontage SolveType = "montage"
	// Solve3D builds one system spanning the full section range.
	Solve3D SolveType = "3d"
)

// Source selects where the system comes from.
type Source string

const (
	// SourceStore assembles from the match store.
	SourceStore Source = "store"
	// SourcePersisted reloads a previously persisted system and solves it.
	SourcePersisted Source = "persisted"
	// SourceParamsOnly reloads only the parameter vectors of a persisted
	// system, skipping the constraint data; nothing is solved.
	SourceParamsOnly Source = "params-only"
)

// Output selects where solved parameters go.
type Output string

const (
	// OutputNone discards the solved vector after reporting diagnostics.
	OutputNone Output = "none"
	// OutputStack writes solved parameters back to the tile store.
	OutputStack Output = "stack"
	// OutputPersist serializes the assembled system instead of solving.
	OutputPersist Output = "persist"
)

type options struct {
	logger      *Logger
	metrics     MetricsCollector
	model       model.TransformModel
	assembly    assemble.Config
	reg         model.RegConfig
	workers     int
	solveType   SolveType
	source      Source
	output      Output
	persist     persistence.BlobStore
	compression persistence.Compression
	profileOnly bool
	runID       string
}

func defaultOptions() options {
	return options{
		logger:      NewTextLogger(slog.LevelInfo),
		metrics:     NoopMetricsCollector{},
		model:       model.Affine{},
		assembly:    assemble.DefaultConfig(),
		reg:         model.RegConfig{Lambda: 1e-3, TranslationFactor: 1e-5},
		solveType:   SolveMontage,
		source:      SourceStore,
		output:      OutputNone,
		compression: persistence.CompressionZstd,
	}
}

// Option configures an Aligner.
type Option func(*options)

// WithLogger sets the logger. nil restores the default text logger.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m MetricsCollector) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithModel sets the transform model. The default is the affine family.
func WithModel(m model.TransformModel) Option {
	return func(o *options) {
		if m != nil {
			o.model = m
		}
	}
}

// WithAssembly sets the matrix-assembly configuration.
func WithAssembly(cfg assemble.Config) Option {
	return func(o *options) { o.assembly = cfg }
}

// WithRegularization sets the regularization derivation for tiles that do
// not carry their own vector.
func WithRegularization(cfg model.RegConfig) Option {
	return func(o *options) { o.reg = cfg }
}

// WithWorkers sets the worker-pool size. <= 0 defaults to GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithSolveType selects montage or 3D solving.
func WithSolveType(t SolveType) Option {
	return func(o *options) { o.solveType = t }
}

// WithSource selects where the system comes from.
func WithSource(s Source) Option {
	return func(o *options) { o.source = s }
}

// WithOutput selects what happens to the solved parameters.
func WithOutput(out Output) Option {
	return func(o *options) { o.output = out }
}

// WithPersistStore sets the blob store used for persisted systems, required
// by OutputPersist, SourcePersisted and SourceParamsOnly.
func WithPersistStore(bs persistence.BlobStore) Option {
	return func(o *options) { o.persist = bs }
}

// WithCompression selects the persisted chunk-file compression.
func WithCompression(c persistence.Compression) Option {
	return func(o *options) { o.compression = c }
}

// WithProfileOnly aborts the run after assembly, before solving. The early
// exit is deliberate and reported as a successful profiled run.
func WithProfileOnly() Option {
	return func(o *options) { o.profileOnly = true }
}

// WithRunID fixes the run ID instead of generating one.
func WithRunID(id string) Option {
	return func(o *options) {
		if id != "" {
			o.runID = id
		}
	}
}
