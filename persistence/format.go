// Package persistence reads and writes the on-disk form of an assembled
// system: one binary data file per chunk holding the arrays data, indices,
// indptr and weights, plus a metadata file naming the files in merge order.
// Loading the files in listed order and re-basing indptr the same way the
// in-memory merge does reproduces the exact merged system.
package persistence

import "errors"

const (
	// MagicNumber identifies chunk data files (ASCII: "CSR1").
	MagicNumber = 0x43535231
	// Version is the current file format version (v1.0.0).
	Version = 0x00010000

	// MetadataName is the blob name of the metadata file.
	MetadataName = "solve.json"
)

// Compression selects the block compression of a chunk file payload.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionZstd Compression = 1
	CompressionLZ4  Compression = 2
)

var (
	ErrInvalidMagic       = errors.New("invalid magic number")
	ErrInvalidVersion     = errors.New("unsupported version")
	ErrInvalidCompression = errors.New("unsupported compression")
	ErrChecksumMismatch   = errors.New("payload checksum mismatch")
)

// FileHeader is the fixed-size header at the start of every chunk data file.
// The header is never compressed; the payload that follows holds, in order,
// data (float64 x NNZ), indices (int64 x NNZ), indptr (int64 x Rows+1) and
// weights (float64 x Rows), little-endian.
type FileHeader struct {
	Magic       uint32
	Version     uint32
	Compression uint8
	Padding1    [3]byte
	Rows        uint64
	NNZ         uint64
	Checksum    uint32 // CRC32 (IEEE) of the uncompressed payload
	Padding2    [4]byte
	Reserved    [16]byte
}
