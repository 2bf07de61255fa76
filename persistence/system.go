package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"golang.org/x/sync/errgroup"

	"github.com/stackalign/stackalign/assemble"
	"github.com/stackalign/stackalign/codec"
	"github.com/stackalign/stackalign/sparse"
)

// loadParallelism bounds concurrent chunk-file reads on load.
const loadParallelism = 4

// Metadata is the side file of a persisted system. Chunk files listed in
// DataFiles reproduce the merged system when loaded in order.
type Metadata struct {
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`
	Codec     string    `json:"codec"`
	Model     string    `json:"model"`

	UsedTileIDs   []string `json:"used_tile_ids"`
	UnusedTileIDs []string `json:"unused_tile_ids"`

	// Reg is the regularization diagonal over used-tile columns.
	Reg []float64 `json:"lambda"`
	// X0Blocks holds the initial parameter values, one array per
	// transform-parameter position: X0Blocks[j][t] is parameter j of the
	// t-th used tile.
	X0Blocks [][]float64 `json:"transforms"`

	DataFiles []string `json:"datafile_names"`

	// Config is the full configuration the system was assembled with,
	// recorded verbatim for drift detection on reload.
	Config json.RawMessage `json:"input_args,omitempty"`
}

// X0 flattens X0Blocks back into per-tile concatenated solve order.
func (m *Metadata) X0() []float64 {
	dof := len(m.X0Blocks)
	if dof == 0 {
		return nil
	}
	ntiles := len(m.X0Blocks[0])
	x0 := make([]float64, 0, dof*ntiles)
	for t := 0; t < ntiles; t++ {
		for j := 0; j < dof; j++ {
			x0 = append(x0, m.X0Blocks[j][t])
		}
	}
	return x0
}

// SaveInput bundles everything a persisted system records.
type SaveInput struct {
	Chunks    []*assemble.Chunk
	UsedIDs   []string
	UnusedIDs []string
	Reg       []float64
	X0        []float64
	DOF       int
	Model     string
	RunID     string
	Config    json.RawMessage
}

type saveOptions struct {
	compression Compression
	codec       codec.Codec
}

// SaveOption configures Save.
type SaveOption func(*saveOptions)

// WithCompression selects the chunk-file payload compression.
func WithCompression(c Compression) SaveOption {
	return func(o *saveOptions) { o.compression = c }
}

// WithCodec selects the metadata codec.
func WithCodec(c codec.Codec) SaveOption {
	return func(o *saveOptions) {
		if c != nil {
			o.codec = c
		}
	}
}

// Save persists the assembly losslessly: one data file per non-empty chunk,
// in chunk order, plus the metadata file. Reloading reconstructs a
// byte-identical merged system.
func Save(ctx context.Context, bs BlobStore, in SaveInput, opts ...SaveOption) (*Metadata, error) {
	o := saveOptions{compression: CompressionZstd, codec: codec.Default}
	for _, fn := range opts {
		fn(&o)
	}

	if in.DOF <= 0 {
		return nil, fmt.Errorf("save: DOF must be positive, got %d", in.DOF)
	}
	if len(in.X0)%in.DOF != 0 {
		return nil, fmt.Errorf("save: x0 length %d not a multiple of DOF %d", len(in.X0), in.DOF)
	}

	meta := &Metadata{
		RunID:         in.RunID,
		CreatedAt:     time.Now().UTC(),
		Codec:         o.codec.Name(),
		Model:         in.Model,
		UsedTileIDs:   in.UsedIDs,
		UnusedTileIDs: in.UnusedIDs,
		Reg:           in.Reg,
		Config:        in.Config,
	}

	// One array per parameter position, each over the used tiles.
	ntiles := len(in.X0) / in.DOF
	meta.X0Blocks = make([][]float64, in.DOF)
	for j := 0; j < in.DOF; j++ {
		meta.X0Blocks[j] = make([]float64, ntiles)
		for t := 0; t < ntiles; t++ {
			meta.X0Blocks[j][t] = in.X0[t*in.DOF+j]
		}
	}

	for _, c := range in.Chunks {
		if c.Empty() {
			continue
		}
		name := fmt.Sprintf("csr_%04d.bin", len(meta.DataFiles))
		blob, err := encodeChunkFile(&c.Part, o.compression)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		if err := bs.Put(ctx, name, blob); err != nil {
			return nil, fmt.Errorf("write %s: %w", name, err)
		}
		meta.DataFiles = append(meta.DataFiles, name)
	}

	raw, err := o.codec.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	if err := bs.Put(ctx, MetadataName, raw); err != nil {
		return nil, fmt.Errorf("write metadata: %w", err)
	}
	return meta, nil
}

// Loaded is a reconstructed persisted system.
type Loaded struct {
	Meta Metadata
	// Part is the merged CSR part; empty when loading was metadata-only.
	Part sparse.Part
	Reg  []float64
	X0   []float64
}

// System shapes the loaded arrays into a solvable system.
func (l *Loaded) System() *sparse.System {
	return &sparse.System{
		A:       l.Part.CSR,
		Weights: l.Part.Weights,
		Reg:     l.Reg,
		X0:      l.X0,
	}
}

type loadOptions struct {
	skipData      bool
	currentConfig json.RawMessage
}

// LoadOption configures Load.
type LoadOption func(*loadOptions)

// WithoutData loads only the metadata-derived vectors, skipping the chunk
// data files. Used when the persisted parameters are all that is needed.
func WithoutData() LoadOption {
	return func(o *loadOptions) { o.skipData = true }
}

// WithConfigCheck compares the persisted configuration against the current
// one and logs a warning per differing key. Mismatches are never fatal; the
// run continues with the current configuration.
func WithConfigCheck(current json.RawMessage) LoadOption {
	return func(o *loadOptions) { o.currentConfig = current }
}

// Load reads a persisted system back. Chunk files are fetched in parallel
// but concatenated strictly in listed order with the same row-pointer
// re-basing the in-memory merge applies, so the merged arrays come back
// byte-identical. Chunk files carry global (pre-slice) column indices; the
// used-tile column slice is rebuilt from the metadata's ID partition so the
// loaded system pairs with its used-tile Reg/X0 vectors.
func Load(ctx context.Context, bs BlobStore, log *slog.Logger, opts ...LoadOption) (*Loaded, error) {
	if log == nil {
		log = slog.Default()
	}
	var o loadOptions
	for _, fn := range opts {
		fn(&o)
	}

	rc, err := bs.Open(ctx, MetadataName)
	if err != nil {
		return nil, fmt.Errorf("open metadata: %w", err)
	}
	raw, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	if _, known := codec.ByName(meta.Codec); !known && meta.Codec != "" {
		log.Warn("metadata written by unknown codec", "codec", meta.Codec)
	}

	if o.currentConfig != nil {
		warnConfigDrift(log, meta.Config, o.currentConfig)
	}

	out := &Loaded{Meta: meta, Reg: meta.Reg, X0: meta.X0()}
	if o.skipData {
		return out, nil
	}

	parts := make([]sparse.Part, len(meta.DataFiles))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadParallelism)
	for i, name := range meta.DataFiles {
		i, name := i, name
		g.Go(func() error {
			rc, err := bs.Open(gctx, name)
			if err != nil {
				return fmt.Errorf("open %s: %w", name, err)
			}
			defer rc.Close()
			part, err := decodeChunkFile(rc)
			if err != nil {
				return fmt.Errorf("decode %s: %w", name, err)
			}
			parts[i] = part
			log.Debug("chunk file read", "file", name, "rows", part.CSR.Rows())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := sparse.Concat(parts)
	out.Part, err = sliceUnusedColumns(&meta, merged)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// sliceUnusedColumns drops the column blocks of unused tiles from a merged
// part. The global column order is the full tile set sorted by ID, used and
// unused alike, with one block of len(X0Blocks) scalar parameters per tile.
func sliceUnusedColumns(meta *Metadata, merged sparse.Part) (sparse.Part, error) {
	if merged.CSR.Empty() || len(meta.UnusedTileIDs) == 0 {
		return merged, nil
	}
	dof := len(meta.X0Blocks)
	if dof == 0 {
		return sparse.Part{}, fmt.Errorf("metadata has unused tiles but no parameter blocks to derive DOF")
	}

	used := make(map[string]struct{}, len(meta.UsedTileIDs))
	for _, id := range meta.UsedTileIDs {
		used[id] = struct{}{}
	}
	all := make([]string, 0, len(meta.UsedTileIDs)+len(meta.UnusedTileIDs))
	all = append(all, meta.UsedTileIDs...)
	all = append(all, meta.UnusedTileIDs...)
	sort.Strings(all)

	keep := make([]bool, dof*len(all))
	for i, id := range all {
		if _, ok := used[id]; !ok {
			continue
		}
		for d := 0; d < dof; d++ {
			keep[i*dof+d] = true
		}
	}

	sliced, cols, err := sparse.SliceColumns(merged.CSR, keep)
	if err != nil {
		return sparse.Part{}, fmt.Errorf("slice unused-tile columns: %w", err)
	}
	if want := dof * len(meta.UsedTileIDs); cols != want {
		return sparse.Part{}, fmt.Errorf("sliced to %d columns, want %d for %d used tiles of %d DOF",
			cols, want, len(meta.UsedTileIDs), dof)
	}
	return sparse.Part{CSR: sliced, Weights: merged.Weights}, nil
}

// warnConfigDrift logs one warning per key whose persisted value differs
// from the current invocation.
func warnConfigDrift(log *slog.Logger, persisted, current json.RawMessage) {
	var was, now map[string]any
	if err := json.Unmarshal(persisted, &was); err != nil {
		return
	}
	if err := json.Unmarshal(current, &now); err != nil {
		return
	}
	for k, v := range was {
		cur, ok := now[k]
		if !ok {
			log.Warn("persisted config key not set in this call", "key", k, "from_file", v)
			continue
		}
		if !reflect.DeepEqual(v, cur) {
			log.Warn("config differs from persisted run", "key", k, "from_file", v, "this_call", cur)
		}
	}
}

// encodeChunkFile serializes one chunk part: fixed header, then the four
// arrays through the configured compressor, checksummed uncompressed.
func encodeChunkFile(part *sparse.Part, comp Compression) ([]byte, error) {
	var payload bytes.Buffer
	var sink io.Writer = &payload
	var finish func() error

	switch comp {
	case CompressionNone:
	case CompressionZstd:
		enc, err := zstd.NewWriter(&payload)
		if err != nil {
			return nil, err
		}
		sink, finish = enc, enc.Close
	case CompressionLZ4:
		enc := lz4.NewWriter(&payload)
		sink, finish = enc, enc.Close
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidCompression, comp)
	}

	cw := NewChecksumWriter(sink)
	bw := NewBinaryWriter(cw)
	if err := bw.WriteFloat64Slice(part.CSR.Data); err != nil {
		return nil, err
	}
	if err := bw.WriteInt64Slice(part.CSR.Indices); err != nil {
		return nil, err
	}
	if err := bw.WriteInt64Slice(part.CSR.Indptr); err != nil {
		return nil, err
	}
	if err := bw.WriteFloat64Slice(part.Weights); err != nil {
		return nil, err
	}
	if finish != nil {
		if err := finish(); err != nil {
			return nil, err
		}
	}

	var out bytes.Buffer
	hw := NewBinaryWriter(&out)
	header := &FileHeader{
		Compression: uint8(comp),
		Rows:        uint64(part.CSR.Rows()),
		NNZ:         uint64(part.CSR.NNZ()),
		Checksum:    cw.Sum(),
	}
	if err := hw.WriteHeader(header); err != nil {
		return nil, err
	}
	if _, err := out.Write(payload.Bytes()); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// decodeChunkFile reads one chunk part back and verifies its checksum.
func decodeChunkFile(r io.Reader) (sparse.Part, error) {
	hr := NewBinaryReader(r)
	header, err := hr.ReadHeader()
	if err != nil {
		return sparse.Part{}, err
	}

	var payload io.Reader = r
	switch Compression(header.Compression) {
	case CompressionNone:
	case CompressionZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return sparse.Part{}, err
		}
		defer dec.Close()
		payload = dec
	case CompressionLZ4:
		payload = lz4.NewReader(r)
	default:
		return sparse.Part{}, fmt.Errorf("%w: %d", ErrInvalidCompression, header.Compression)
	}

	cr := NewChecksumReader(payload)
	br := NewBinaryReader(cr)

	rows := int(header.Rows)
	nnz := int(header.NNZ)
	part := sparse.Part{}
	if part.CSR.Data, err = br.ReadFloat64Slice(nnz); err != nil {
		return sparse.Part{}, err
	}
	if part.CSR.Indices, err = br.ReadInt64Slice(nnz); err != nil {
		return sparse.Part{}, err
	}
	if part.CSR.Indptr, err = br.ReadInt64Slice(rows + 1); err != nil {
		return sparse.Part{}, err
	}
	if part.Weights, err = br.ReadFloat64Slice(rows); err != nil {
		return sparse.Part{}, err
	}

	if cr.Sum() != header.Checksum {
		return sparse.Part{}, fmt.Errorf("%w: got 0x%08x, want 0x%08x",
			ErrChecksumMismatch, cr.Sum(), header.Checksum)
	}
	return part, nil
}
