package persistence

import (
	"hash"
	"hash/crc32"
	"io"
)

// CRC32 (IEEE polynomial) is used to detect accidental storage corruption of
// chunk payloads. It is not a tamper-detection mechanism.

// crc32Table is the IEEE polynomial table for checksum computation.
var crc32Table = crc32.MakeTable(crc32.IEEE)

// ChecksumWriter wraps an io.Writer and computes a running CRC32 of
// everything written through it.
type ChecksumWriter struct {
	w    io.Writer
	hash hash.Hash32
}

// NewChecksumWriter creates a new checksumming writer.
func NewChecksumWriter(w io.Writer) *ChecksumWriter {
	return &ChecksumWriter{w: w, hash: crc32.New(crc32Table)}
}

// Write implements io.Writer.
func (cw *ChecksumWriter) Write(p []byte) (int, error) {
	if _, err := cw.hash.Write(p); err != nil {
		return 0, err
	}
	return cw.w.Write(p)
}

// Sum returns the checksum of all bytes written so far.
func (cw *ChecksumWriter) Sum() uint32 { return cw.hash.Sum32() }

// ChecksumReader wraps an io.Reader and computes a running CRC32 of
// everything read through it.
type ChecksumReader struct {
	r    io.Reader
	hash hash.Hash32
}

// NewChecksumReader creates a new checksumming reader.
func NewChecksumReader(r io.Reader) *ChecksumReader {
	return &ChecksumReader{r: r, hash: crc32.New(crc32Table)}
}

// Read implements io.Reader.
func (cr *ChecksumReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 {
		_, _ = cr.hash.Write(p[:n])
	}
	return n, err
}

// Sum returns the checksum of all bytes read so far.
func (cr *ChecksumReader) Sum() uint32 { return cr.hash.Sum32() }
