package persistence

import (
	"encoding/binary"
	"fmt"
	"io"
	"unsafe"
)

// Binary array serialization for chunk payloads. Slices are written as raw
// little-endian bytes via unsafe reinterpretation; this format is only read
// back on little-endian hosts, which covers x86 and ARM deployments.

// BinaryWriter writes chunk payload arrays.
type BinaryWriter struct {
	w         io.Writer
	byteOrder binary.ByteOrder
}

// NewBinaryWriter creates a new binary writer.
func NewBinaryWriter(w io.Writer) *BinaryWriter {
	return &BinaryWriter{w: w, byteOrder: binary.LittleEndian}
}

// WriteHeader writes the file header, stamping magic and version.
func (bw *BinaryWriter) WriteHeader(header *FileHeader) error {
	header.Magic = MagicNumber
	header.Version = Version
	return binary.Write(bw.w, bw.byteOrder, header)
}

// WriteFloat64Slice writes a float64 slice as raw bytes.
func (bw *BinaryWriter) WriteFloat64Slice(vals []float64) error {
	if len(vals) == 0 {
		return nil
	}
	byteSlice := unsafe.Slice((*byte)(unsafe.Pointer(&vals[0])), len(vals)*8)
	_, err := bw.w.Write(byteSlice)
	return err
}

// WriteInt64Slice writes an int64 slice as raw bytes.
func (bw *BinaryWriter) WriteInt64Slice(vals []int64) error {
	if len(vals) == 0 {
		return nil
	}
	byteSlice := unsafe.Slice((*byte)(unsafe.Pointer(&vals[0])), len(vals)*8)
	_, err := bw.w.Write(byteSlice)
	return err
}

// BinaryReader reads chunk payload arrays.
type BinaryReader struct {
	r         io.Reader
	byteOrder binary.ByteOrder
}

// NewBinaryReader creates a new binary reader.
func NewBinaryReader(r io.Reader) *BinaryReader {
	return &BinaryReader{r: r, byteOrder: binary.LittleEndian}
}

// ReadHeader reads and validates the file header.
func (br *BinaryReader) ReadHeader() (*FileHeader, error) {
	var header FileHeader
	if err := binary.Read(br.r, br.byteOrder, &header); err != nil {
		return nil, err
	}
	if header.Magic != MagicNumber {
		return nil, fmt.Errorf("%w: got 0x%08x", ErrInvalidMagic, header.Magic)
	}
	if header.Version != Version {
		return nil, fmt.Errorf("%w: got 0x%08x", ErrInvalidVersion, header.Version)
	}
	return &header, nil
}

// ReadFloat64Slice reads count float64 values.
func (br *BinaryReader) ReadFloat64Slice(count int) ([]float64, error) {
	if count == 0 {
		return nil, nil
	}
	vals := make([]float64, count)
	byteSlice := unsafe.Slice((*byte)(unsafe.Pointer(&vals[0])), count*8)
	if _, err := io.ReadFull(br.r, byteSlice); err != nil {
		return nil, err
	}
	return vals, nil
}

// ReadInt64Slice reads count int64 values.
func (br *BinaryReader) ReadInt64Slice(count int) ([]int64, error) {
	if count == 0 {
		return nil, nil
	}
	vals := make([]int64, count)
	byteSlice := unsafe.Slice((*byte)(unsafe.Pointer(&vals[0])), count*8)
	if _, err := io.ReadFull(br.r, byteSlice); err != nil {
		return nil, err
	}
	return vals, nil
}
