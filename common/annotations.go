// Package common - annotation types shared by the target builders and their
// parsers from flat row-major buffers.
package common

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-masktarget/images"
)

// GroundTruthBox is an annotated object box with its class label.
type GroundTruthBox struct {
	// Box is the object extent, pixel-inclusive.
	Box images.Rect
	// Class is the category index; 0 is reserved for background.
	Class int
}

// Point is a polygon vertex in absolute pixel coordinates.
type Point struct {
	X, Y float32
}

// Ring is one closed outline of a polygon.
type Ring []Point

// Polygon is the segmentation of one ground-truth instance. Each ring is
// filled on its own and the results are unioned.
type Polygon struct {
	// Class is the mask channel the polygon is drawn into.
	Class int
	// Rings are the outlines, in annotation order.
	Rings []Ring
}

// NumVertices returns the total vertex count across all rings.
func (p *Polygon) NumVertices() int {
	n := 0
	for _, r := range p.Rings {
		n += len(r)
	}
	return n
}

// String formats the polygon for debug output.
func (p *Polygon) String() string {
	return fmt.Sprintf("Polygon class %d: %d rings, %d vertices", p.Class, len(p.Rings), p.NumVertices())
}

// Float32s returns the backing data of a float32 tensor.
func Float32s(t *tensor.Dense) ([]float32, error) {
	if t == nil {
		return nil, errors.New("tensor is nil")
	}
	data, ok := t.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("tensor has dtype %v, want float32", t.Dtype())
	}
	return data, nil
}

// matrix returns the row count, column count and data of a 2-D float32 tensor.
func matrix(t *tensor.Dense, minCols int) (int, int, []float32, error) {
	data, err := Float32s(t)
	if err != nil {
		return 0, 0, nil, err
	}
	shape := t.Shape()
	if len(shape) != 2 {
		return 0, 0, nil, errors.Errorf("tensor has shape %v, want 2 dimensions", shape)
	}
	if shape[1] < minCols {
		return 0, 0, nil, errors.Errorf("tensor has %d columns, want at least %d", shape[1], minCols)
	}
	return shape[0], shape[1], data, nil
}

// ParseProposals reads an N×4 (x1, y1, x2, y2) tensor.
//
// Arguments:
//   - t: The proposal tensor.
//
// Returns:
//   - One Rect per row.
//   - error if the tensor is not a float32 matrix with at least 4 columns.
func ParseProposals(t *tensor.Dense) ([]images.Rect, error) {
	n, cols, data, err := matrix(t, 4)
	if err != nil {
		return nil, errors.Wrap(err, "invalid proposals")
	}

	rects := make([]images.Rect, n)
	for i := range rects {
		row := data[i*cols:]
		rects[i] = images.Rect{X1: row[0], Y1: row[1], X2: row[2], Y2: row[3]}
	}
	return rects, nil
}

// ParseGroundTruthBoxes reads a K×5 (x1, y1, x2, y2, class) tensor.
//
// Arguments:
//   - t: The ground-truth box tensor.
//
// Returns:
//   - One GroundTruthBox per row.
//   - error if the tensor is malformed or a class is negative.
func ParseGroundTruthBoxes(t *tensor.Dense) ([]GroundTruthBox, error) {
	n, cols, data, err := matrix(t, 5)
	if err != nil {
		return nil, errors.Wrap(err, "invalid gt_boxes")
	}

	boxes := make([]GroundTruthBox, n)
	for i := range boxes {
		row := data[i*cols:]
		class, ok := count(row[4], math.MaxInt32)
		if !ok {
			return nil, errors.Errorf("gt_boxes row %d has invalid class %v", i, row[4])
		}
		boxes[i] = GroundTruthBox{
			Box:   images.Rect{X1: row[0], Y1: row[1], X2: row[2], Y2: row[3]},
			Class: class,
		}
	}
	return boxes, nil
}

// ParsePolygon decodes one polygon row laid out as
//
//	[class, R, len_1 .. len_R, x, y, x, y, ...]
//
// where len_i counts the scalar values (two per vertex) of ring i. Values past
// the last ring are padding and ignored.
//
// Arguments:
//   - row: The flat polygon row.
//
// Returns:
//   - The structured polygon.
//   - error if the header or ring lengths do not fit the row.
//
// @example
// p, err := ParsePolygon([]float32{2, 1, 8, 0, 0, 9, 0, 9, 9, 0, 9})
// // p.Class == 2, one ring with 4 vertices
func ParsePolygon(row []float32) (Polygon, error) {
	if len(row) < 2 {
		return Polygon{}, errors.Errorf("row has %d values, want at least a class and ring count", len(row))
	}
	class, ok := count(row[0], math.MaxInt32)
	if !ok {
		return Polygon{}, errors.Errorf("invalid class %v", row[0])
	}
	numRings, ok := count(row[1], len(row)-2)
	if !ok {
		return Polygon{}, errors.Errorf("ring count %v does not fit a row of %d values", row[1], len(row))
	}

	offset := 2 + numRings
	poly := Polygon{Class: class, Rings: make([]Ring, numRings)}
	for i := 0; i < numRings; i++ {
		n, ok := count(row[2+i], len(row))
		if !ok || n%2 != 0 {
			return Polygon{}, errors.Errorf("ring %d has invalid length %v", i, row[2+i])
		}
		if offset+n > len(row) {
			return Polygon{}, errors.Errorf("ring %d overruns the row (%d > %d)", i, offset+n, len(row))
		}

		ring := make(Ring, n/2)
		for j := range ring {
			ring[j] = Point{X: row[offset+2*j], Y: row[offset+2*j+1]}
		}
		poly.Rings[i] = ring
		offset += n
	}

	return poly, nil
}

// count converts a header value to an int in [0, limit]. NaN, infinities
// and out-of-range values are rejected before conversion.
func count(v float32, limit int) (int, bool) {
	f := float64(v)
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f > float64(limit) {
		return 0, false
	}
	return int(f), true
}

// ParsePolygons decodes every row of a K×L polygon tensor.
func ParsePolygons(t *tensor.Dense) ([]Polygon, error) {
	n, cols, data, err := matrix(t, 2)
	if err != nil {
		return nil, errors.Wrap(err, "invalid gt_polys")
	}

	polys := make([]Polygon, n)
	for i := range polys {
		if polys[i], err = ParsePolygon(data[i*cols : (i+1)*cols]); err != nil {
			return nil, errors.Wrapf(err, "gt_polys row %d invalid", i)
		}
	}
	return polys, nil
}

// FromRows builds a float32 matrix from rows, padding short rows with zeros
// to the widest one.
//
// Arguments:
//   - rows: The row values.
//
// Returns:
//   - A len(rows)×maxLen dense tensor, or nil when rows is empty.
func FromRows(rows [][]float32) *tensor.Dense {
	cols := 0
	for _, r := range rows {
		cols = max(cols, len(r))
	}
	if len(rows) == 0 || cols == 0 {
		return nil
	}

	data := make([]float32, len(rows)*cols)
	for i, r := range rows {
		copy(data[i*cols:], r)
	}
	return tensor.New(tensor.WithShape(len(rows), cols), tensor.WithBacking(data))
}
