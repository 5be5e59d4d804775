// Package peaks provides the peak-list containers used to store detected
// Bragg disk positions and intensities. A PointList holds the peaks found in
// a single diffraction pattern as a set of named parallel columns, and a
// PointListArray holds one PointList per scan position of a 4D-STEM dataset.
package peaks

import (
	"errors"
	"fmt"
	"sort"
)

// Sentinel errors for the container invariants. Callers can test for these
// with errors.Is after any mutating operation.
var (
	// ErrSchemaMismatch indicates that an operation was given columns or
	// requested a column inconsistent with the list's declared schema.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrShapeMismatch indicates a length mismatch between parallel columns,
	// or between a boolean mask and the current number of rows.
	ErrShapeMismatch = errors.New("shape mismatch")
)

// Sort orders accepted by PointList.Sort.
const (
	Ascending  = "ascending"
	Descending = "descending"
)

// PointList is an ordered, mutable collection of points with a fixed column
// schema. It is stored as a structure of arrays: one []float64 buffer per
// named column, all buffers always of equal length. Rows are removed by
// boolean mask, never individually, so the equal-length invariant holds
// across every operation.
type PointList struct {
	// schema holds the column names in declaration order
	schema []string

	// columns holds one data buffer per schema entry, all of equal length
	columns [][]float64
}

// NewPointList creates an empty PointList with the given column schema.
func NewPointList(schema []string) *PointList {
	cols := make([][]float64, len(schema))
	for i := range cols {
		cols[i] = make([]float64, 0)
	}
	return &PointList{
		schema:  append([]string(nil), schema...),
		columns: cols,
	}
}

// Schema returns a copy of the column names in declaration order.
func (p *PointList) Schema() []string {
	return append([]string(nil), p.schema...)
}

// Length returns the current number of rows.
func (p *PointList) Length() int {
	if len(p.columns) == 0 {
		return 0
	}
	return len(p.columns[0])
}

// HasColumn reports whether the schema contains the named column.
func (p *PointList) HasColumn(name string) bool {
	return p.columnIndex(name) >= 0
}

func (p *PointList) columnIndex(name string) int {
	for i, s := range p.schema {
		if s == name {
			return i
		}
	}
	return -1
}

// Column returns the live data buffer for the named column. The returned
// slice aliases the list's storage; it is invalidated by Append, Sort and
// RemovePoints.
//
// Returns:
//   - The column data, or an error wrapping ErrSchemaMismatch if the column
//     is not part of the schema
func (p *PointList) Column(name string) ([]float64, error) {
	i := p.columnIndex(name)
	if i < 0 {
		return nil, fmt.Errorf("%w: no column %q in schema %v", ErrSchemaMismatch, name, p.schema)
	}
	return p.columns[i], nil
}

// Append adds rows to the list, given as parallel column slices in schema
// order. All passed columns must have equal length.
//
// Parameters:
//   - cols: one slice per schema column, in declaration order
//
// Returns:
//   - An error wrapping ErrSchemaMismatch if the number of columns does not
//     match the schema, or ErrShapeMismatch if the column lengths differ
func (p *PointList) Append(cols ...[]float64) error {
	if len(cols) != len(p.schema) {
		return fmt.Errorf("%w: got %d columns, schema %v has %d", ErrSchemaMismatch, len(cols), p.schema, len(p.schema))
	}
	n := -1
	for i, c := range cols {
		if n < 0 {
			n = len(c)
		} else if len(c) != n {
			return fmt.Errorf("%w: column %q has length %d, expected %d", ErrShapeMismatch, p.schema[i], len(c), n)
		}
	}
	for i, c := range cols {
		p.columns[i] = append(p.columns[i], c...)
	}
	return nil
}

// AppendRow adds a single row given as one value per schema column.
func (p *PointList) AppendRow(vals ...float64) error {
	if len(vals) != len(p.schema) {
		return fmt.Errorf("%w: got %d values, schema %v has %d columns", ErrSchemaMismatch, len(vals), p.schema, len(p.schema))
	}
	for i, v := range vals {
		p.columns[i] = append(p.columns[i], v)
	}
	return nil
}

// Sort reorders all rows in place by the named column. The sort is stable,
// so rows with equal key values keep their relative order.
//
// Parameters:
//   - column: the schema column to sort by
//   - order: Ascending or Descending
func (p *PointList) Sort(column, order string) error {
	ci := p.columnIndex(column)
	if ci < 0 {
		return fmt.Errorf("%w: no column %q in schema %v", ErrSchemaMismatch, column, p.schema)
	}
	if order != Ascending && order != Descending {
		return fmt.Errorf("unrecognized sort order %q, must be %q or %q", order, Ascending, Descending)
	}

	n := p.Length()
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	key := p.columns[ci]
	sort.SliceStable(perm, func(i, j int) bool {
		if order == Descending {
			return key[perm[i]] > key[perm[j]]
		}
		return key[perm[i]] < key[perm[j]]
	})

	// Apply the permutation to every column in lockstep
	for i, col := range p.columns {
		next := make([]float64, n)
		for j, src := range perm {
			next[j] = col[src]
		}
		p.columns[i] = next
	}
	return nil
}

// RemovePoints deletes the rows marked true in the mask from every column in
// lockstep. The mask length must equal the current row count.
//
// Returns:
//   - An error wrapping ErrShapeMismatch if the mask length is wrong
func (p *PointList) RemovePoints(mask []bool) error {
	n := p.Length()
	if len(mask) != n {
		return fmt.Errorf("%w: mask length %d, row count %d", ErrShapeMismatch, len(mask), n)
	}
	for i, col := range p.columns {
		kept := col[:0]
		for j, drop := range mask {
			if !drop {
				kept = append(kept, col[j])
			}
		}
		p.columns[i] = kept
	}
	return nil
}

// PointListArray is a fixed-shape 2D grid of PointLists sharing a common
// column schema, indexed by scan position (rx, ry). Cells are created empty
// at construction and are independently mutable; there are no cross-cell
// invariants beyond the shared schema.
type PointListArray struct {
	schema []string
	numRx  int
	numRy  int

	// cells is stored row-major: cell (rx, ry) lives at rx*numRy + ry
	cells []*PointList
}

// NewPointListArray creates a grid of empty PointLists with the given schema
// and scan-grid shape.
func NewPointListArray(schema []string, numRx, numRy int) *PointListArray {
	cells := make([]*PointList, numRx*numRy)
	for i := range cells {
		cells[i] = NewPointList(schema)
	}
	return &PointListArray{
		schema: append([]string(nil), schema...),
		numRx:  numRx,
		numRy:  numRy,
		cells:  cells,
	}
}

// Schema returns a copy of the shared column schema.
func (a *PointListArray) Schema() []string {
	return append([]string(nil), a.schema...)
}

// Shape returns the scan-grid dimensions (numRx, numRy).
func (a *PointListArray) Shape() (int, int) {
	return a.numRx, a.numRy
}

// Get returns the PointList at scan position (rx, ry).
func (a *PointListArray) Get(rx, ry int) (*PointList, error) {
	if rx < 0 || rx >= a.numRx || ry < 0 || ry >= a.numRy {
		return nil, fmt.Errorf("scan position (%d,%d) out of range for shape (%d,%d)", rx, ry, a.numRx, a.numRy)
	}
	return a.cells[rx*a.numRy+ry], nil
}
