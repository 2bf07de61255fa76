// Command stackalign runs tile-stack alignment solves from the command line.
//
// Tiles and point matches are read from a directory-backed store; solved
// transforms are written back to the same store or the assembled system is
// persisted to a local directory or an S3-compatible bucket for a later solve.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/cobra"

	"github.com/stackalign/stackalign"
	"github.com/stackalign/stackalign/assemble"
	"github.com/stackalign/stackalign/model"
	"github.com/stackalign/stackalign/persistence"
	minioblob "github.com/stackalign/stackalign/persistence/minio"
	"github.com/stackalign/stackalign/store"
)

var (
	flagDataDir   string
	flagStack     string
	flagZFirst    int
	flagZLast     int
	flagSolveType string
	flagModel     string
	flagSource    string
	flagOutput    string
	flagWorkers   int
	flagProfile   bool
	flagRunID     string

	flagLambda      float64
	flagTransFactor float64
	flagMinPoints   int
	flagMaxPoints   int
	flagChooseRand  bool
	flagSeed        int64
	flagDepth       []int
	flagMontageW    float64
	flagCrossW      float64
	flagInverseDZ   bool
	flagDepthW      []float64

	flagPersistDir  string
	flagCompression string

	flagS3Endpoint  string
	flagS3Bucket    string
	flagS3Prefix    string
	flagS3AccessKey string
	flagS3SecretKey string
	flagS3Secure    bool

	flagMatchRPS float64

	flagLogLevel  string
	flagLogFormat string
)

var rootCmd = &cobra.Command{
	Use:   "stackalign",
	Short: "Sparse-system alignment solver for tiled image stacks",
	Long: `stackalign assembles and solves the sparse linear systems that align
overlapping image tiles within and across the sections of a serial stack.

Examples:
  stackalign solve --data ./data --stack acq1 --z-first 0 --z-last 10
  stackalign solve --data ./data --stack acq1 --z-first 0 --z-last 0 \
      --solve-type montage --output stack
  stackalign solve --data ./data --stack acq1 --z-first 0 --z-last 100 \
      --solve-type 3d --output persist --persist-dir ./solve-acq1
  stackalign solve --data ./data --stack acq1 --source persisted \
      --persist-dir ./solve-acq1 --output stack`,
	SilenceUsage: true,
}

var solveCmd = &cobra.Command{
	Use:   "solve",
	Short: "Assemble and solve an alignment system",
	RunE:  runSolve,
}

func init() {
	f := solveCmd.Flags()
	f.StringVar(&flagDataDir, "data", ".", "root directory of the tile and match store")
	f.StringVar(&flagStack, "stack", "", "stack name (required)")
	f.IntVar(&flagZFirst, "z-first", 0, "first section")
	f.IntVar(&flagZLast, "z-last", 0, "last section")
	f.StringVar(&flagSolveType, "solve-type", string(stackalign.SolveMontage), "montage or 3d")
	f.StringVar(&flagModel, "model", "affine", "transform model: affine or similarity")
	f.StringVar(&flagSource, "source", string(stackalign.SourceStore), "store, persisted or params-only")
	f.StringVar(&flagOutput, "output", string(stackalign.OutputNone), "none, stack or persist")
	f.IntVar(&flagWorkers, "workers", 0, "assembly workers, 0 for GOMAXPROCS")
	f.BoolVar(&flagProfile, "profile", false, "exit after assembly without solving")
	f.StringVar(&flagRunID, "run-id", "", "run identifier, random when empty")

	f.Float64Var(&flagLambda, "lambda", 1e-3, "regularization factor")
	f.Float64Var(&flagTransFactor, "translation-factor", 1e-5, "translation regularization scale")
	f.IntVar(&flagMinPoints, "min-points", 3, "minimum points per tile pair")
	f.IntVar(&flagMaxPoints, "max-points", 500, "maximum points per tile pair")
	f.BoolVar(&flagChooseRand, "choose-random", false, "subsample points randomly instead of taking the first")
	f.Int64Var(&flagSeed, "seed", 0, "subsample seed base")
	f.IntSliceVar(&flagDepth, "depth", []int{0}, "section depth offsets to pair")
	f.Float64Var(&flagMontageW, "montage-weight", 1.0, "weight for same-section pairs")
	f.Float64Var(&flagCrossW, "cross-weight", 1.0, "weight for cross-section pairs")
	f.BoolVar(&flagInverseDZ, "inverse-dz", false, "scale cross-section weight by 1/dz")
	f.Float64SliceVar(&flagDepthW, "depth-weights", nil, "per-depth weight table matching --depth")

	f.StringVar(&flagPersistDir, "persist-dir", "", "directory for persisted systems")
	f.StringVar(&flagCompression, "compression", "zstd", "chunk compression: none, zstd or lz4")

	f.StringVar(&flagS3Endpoint, "s3-endpoint", "", "S3-compatible endpoint for persisted systems")
	f.StringVar(&flagS3Bucket, "s3-bucket", "", "bucket for persisted systems")
	f.StringVar(&flagS3Prefix, "s3-prefix", "", "key prefix inside the bucket")
	f.StringVar(&flagS3AccessKey, "s3-access-key", "", "access key, falls back to AWS_ACCESS_KEY_ID")
	f.StringVar(&flagS3SecretKey, "s3-secret-key", "", "secret key, falls back to AWS_SECRET_ACCESS_KEY")
	f.BoolVar(&flagS3Secure, "s3-secure", true, "use TLS for the S3 endpoint")

	f.Float64Var(&flagMatchRPS, "match-rps", 0, "rate-limit match fetches to this many requests/s, 0 disables")

	f.StringVar(&flagLogLevel, "log-level", "info", "debug, info, warn or error")
	f.StringVar(&flagLogFormat, "log-format", "text", "text or json")

	_ = solveCmd.MarkFlagRequired("stack")
	rootCmd.AddCommand(solveCmd)
}

func runSolve(cmd *cobra.Command, _ []string) error {
	log, err := buildLogger()
	if err != nil {
		return err
	}

	mdl, err := model.ByName(flagModel)
	if err != nil {
		return err
	}

	comp, err := parseCompression(flagCompression)
	if err != nil {
		return err
	}

	db := store.NewDir(flagDataDir)
	var matches store.MatchStore = db
	if flagMatchRPS > 0 {
		matches = store.NewRateLimited(db, flagMatchRPS, 1)
	}

	opts := []stackalign.Option{
		stackalign.WithLogger(log),
		stackalign.WithModel(mdl),
		stackalign.WithSolveType(stackalign.SolveType(flagSolveType)),
		stackalign.WithSource(stackalign.Source(flagSource)),
		stackalign.WithOutput(stackalign.Output(flagOutput)),
		stackalign.WithWorkers(flagWorkers),
		stackalign.WithRegularization(model.RegConfig{
			Lambda:            flagLambda,
			TranslationFactor: flagTransFactor,
		}),
		stackalign.WithAssembly(buildAssemblyConfig()),
		stackalign.WithCompression(comp),
	}
	if flagProfile {
		opts = append(opts, stackalign.WithProfileOnly())
	}
	if flagRunID != "" {
		opts = append(opts, stackalign.WithRunID(flagRunID))
	}

	persist, err := buildPersistStore()
	if err != nil {
		return err
	}
	if persist != nil {
		opts = append(opts, stackalign.WithPersistStore(persist))
	}

	al, err := stackalign.New(db, matches, opts...)
	if err != nil {
		return err
	}

	result, err := al.Run(cmd.Context(), flagStack, flagZFirst, flagZLast)
	if err != nil {
		return err
	}

	if result.Profiled {
		fmt.Println("assembly profile complete, no solve")
	}
	for _, sec := range result.Sections {
		if sec.Solve != nil {
			fmt.Println(sec.Solve.String())
		}
		if len(sec.DataFiles) > 0 {
			fmt.Printf("persisted %d chunk files\n", len(sec.DataFiles))
		}
	}
	return nil
}

func buildAssemblyConfig() assemble.Config {
	cfg := assemble.Config{
		MinPoints:     flagMinPoints,
		MaxPoints:     flagMaxPoints,
		ChooseRandom:  flagChooseRand,
		Seed:          flagSeed,
		Depth:         flagDepth,
		MontageWeight: flagMontageW,
		CrossWeight:   flagCrossW,
		InverseDZ:     flagInverseDZ,
		DepthWeights:  flagDepthW,
	}
	return cfg
}

func buildLogger() (*stackalign.Logger, error) {
	var level slog.Level
	switch strings.ToLower(flagLogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", flagLogLevel)
	}
	switch strings.ToLower(flagLogFormat) {
	case "text":
		return stackalign.NewTextLogger(level), nil
	case "json":
		return stackalign.NewJSONLogger(level), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", flagLogFormat)
	}
}

func parseCompression(s string) (persistence.Compression, error) {
	switch strings.ToLower(s) {
	case "none":
		return persistence.CompressionNone, nil
	case "zstd":
		return persistence.CompressionZstd, nil
	case "lz4":
		return persistence.CompressionLZ4, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", s)
	}
}

// buildPersistStore prefers the S3 flags when set, then the local directory.
func buildPersistStore() (persistence.BlobStore, error) {
	if flagS3Endpoint != "" {
		access := flagS3AccessKey
		secret := flagS3SecretKey
		if access == "" {
			access = os.Getenv("AWS_ACCESS_KEY_ID")
		}
		if secret == "" {
			secret = os.Getenv("AWS_SECRET_ACCESS_KEY")
		}
		client, err := minio.New(flagS3Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(access, secret, ""),
			Secure: flagS3Secure,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to %s: %w", flagS3Endpoint, err)
		}
		if flagS3Bucket == "" {
			return nil, fmt.Errorf("--s3-bucket is required with --s3-endpoint")
		}
		return minioblob.NewStore(client, flagS3Bucket, flagS3Prefix), nil
	}
	if flagPersistDir != "" {
		return persistence.NewDirStore(flagPersistDir), nil
	}
	return nil, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
