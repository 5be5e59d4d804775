// Package datacube provides the 4D-STEM dataset container: a 4D array of
// diffraction patterns indexed by scan position, with raw binary
// persistence and a synthetic-lattice generator for demos and testing.
package datacube

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// rawMagic identifies the raw datacube file format.
const rawMagic = "STEM4D01"

// maxRawDim and maxRawElements bound the header dimensions of a raw
// datacube file, so a corrupt header cannot trigger an enormous allocation
// before the data is read.
const (
	maxRawDim      = 1 << 16
	maxRawElements = 1 << 32
)

// DataCube holds a 4D-STEM dataset: one 2D diffraction pattern of shape
// (QNx, QNy) per scan position on an (RNx, RNy) grid. Data is stored as a
// single row-major float64 buffer ordered (rx, ry, qx, qy).
type DataCube struct {
	// RNx, RNy are the scan-grid dimensions
	RNx, RNy int

	// QNx, QNy are the diffraction-pattern dimensions
	QNx, QNy int

	data []float64
}

// New creates a zero-filled datacube with the given scan and pattern shapes.
func New(rNx, rNy, qNx, qNy int) (*DataCube, error) {
	if rNx < 1 || rNy < 1 || qNx < 1 || qNy < 1 {
		return nil, fmt.Errorf("invalid datacube shape (%d,%d,%d,%d), all dimensions must be positive", rNx, rNy, qNx, qNy)
	}
	return &DataCube{
		RNx:  rNx,
		RNy:  rNy,
		QNx:  qNx,
		QNy:  qNy,
		data: make([]float64, rNx*rNy*qNx*qNy),
	}, nil
}

// FromData wraps an existing row-major buffer as a datacube. The buffer
// length must equal the product of the four dimensions.
func FromData(data []float64, rNx, rNy, qNx, qNy int) (*DataCube, error) {
	if len(data) != rNx*rNy*qNx*qNy {
		return nil, fmt.Errorf("data length %d does not match shape (%d,%d,%d,%d)", len(data), rNx, rNy, qNx, qNy)
	}
	return &DataCube{RNx: rNx, RNy: rNy, QNx: qNx, QNy: qNy, data: data}, nil
}

// Pattern returns the diffraction pattern at scan position (rx, ry) as a
// live row-major (QNx, QNy) slice into the cube's storage.
func (d *DataCube) Pattern(rx, ry int) ([]float64, error) {
	if rx < 0 || rx >= d.RNx || ry < 0 || ry >= d.RNy {
		return nil, fmt.Errorf("scan position (%d,%d) out of range for shape (%d,%d)", rx, ry, d.RNx, d.RNy)
	}
	n := d.QNx * d.QNy
	off := (rx*d.RNy + ry) * n
	return d.data[off : off+n], nil
}

// SetPattern copies a (QNx, QNy) pattern into scan position (rx, ry).
func (d *DataCube) SetPattern(rx, ry int, pattern []float64) error {
	dst, err := d.Pattern(rx, ry)
	if err != nil {
		return err
	}
	if len(pattern) != len(dst) {
		return fmt.Errorf("pattern length %d does not match shape (%d,%d)", len(pattern), d.QNx, d.QNy)
	}
	copy(dst, pattern)
	return nil
}

// WriteRaw serializes the datacube to w as a small header (magic string and
// four little-endian uint32 dimensions) followed by the float64 data.
func (d *DataCube) WriteRaw(w io.Writer) error {
	if _, err := w.Write([]byte(rawMagic)); err != nil {
		return fmt.Errorf("failed to write header: %v", err)
	}
	dims := []uint32{uint32(d.RNx), uint32(d.RNy), uint32(d.QNx), uint32(d.QNy)}
	if err := binary.Write(w, binary.LittleEndian, dims); err != nil {
		return fmt.Errorf("failed to write dimensions: %v", err)
	}
	if err := binary.Write(w, binary.LittleEndian, d.data); err != nil {
		return fmt.Errorf("failed to write data: %v", err)
	}
	return nil
}

// ReadRaw deserializes a datacube written by WriteRaw.
func ReadRaw(r io.Reader) (*DataCube, error) {
	magic := make([]byte, len(rawMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("failed to read header: %v", err)
	}
	if string(magic) != rawMagic {
		return nil, fmt.Errorf("not a raw datacube file (bad magic %q)", magic)
	}
	dims := make([]uint32, 4)
	if err := binary.Read(r, binary.LittleEndian, dims); err != nil {
		return nil, fmt.Errorf("failed to read dimensions: %v", err)
	}
	for _, d := range dims {
		if d < 1 || d > maxRawDim {
			return nil, fmt.Errorf("corrupt raw datacube header: dimension %d out of range [1,%d]", d, maxRawDim)
		}
	}
	scan := uint64(dims[0]) * uint64(dims[1])
	if pattern := uint64(dims[2]) * uint64(dims[3]); pattern > maxRawElements/scan {
		return nil, fmt.Errorf("corrupt raw datacube header: shape (%d,%d,%d,%d) exceeds %d elements",
			dims[0], dims[1], dims[2], dims[3], uint64(maxRawElements))
	}
	cube, err := New(int(dims[0]), int(dims[1]), int(dims[2]), int(dims[3]))
	if err != nil {
		return nil, err
	}
	if err := binary.Read(r, binary.LittleEndian, cube.data); err != nil {
		return nil, fmt.Errorf("failed to read data: %v", err)
	}
	return cube, nil
}

// SaveRaw writes the datacube to the named file.
func (d *DataCube) SaveRaw(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %v", path, err)
	}
	defer f.Close()
	return d.WriteRaw(f)
}

// LoadRaw reads a datacube from the named file.
func LoadRaw(path string) (*DataCube, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %v", path, err)
	}
	defer f.Close()
	return ReadRaw(f)
}
