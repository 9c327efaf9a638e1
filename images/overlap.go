package images

import (
	"gorgonia.org/tensor"
)

// OverlapMatrix holds the pairwise IoU between N proposals and K ground-truth boxes.
type OverlapMatrix struct {
	// Rows is the number of proposals.
	Rows int
	// Cols is the number of ground-truth boxes.
	Cols int
	// Values is the dense Rows×Cols backing tensor.
	Values *tensor.Dense

	data []float32
}

// Match is the best ground-truth box for a single proposal.
type Match struct {
	// Index is the column of the best ground-truth box.
	Index int
	// IoU is the overlap with that box.
	IoU float32
}

// ComputeOverlaps builds the N×K IoU matrix between boxes and queries.
//
// The matrix starts zeroed and only pairs with a positive intersection on
// both axes are written, so entries for disjoint boxes stay at exactly 0.
//
// Arguments:
//   - boxes: The proposals, one row each.
//   - queries: The ground-truth boxes, one column each.
//
// Returns:
//   - The filled overlap matrix.
//
// @example
// m := ComputeOverlaps([]Rect{{0, 0, 9, 9}}, []Rect{{0, 0, 9, 9}, {20, 20, 29, 29}})
// m.At(0, 0) // 1.0
// m.At(0, 1) // 0.0
func ComputeOverlaps(boxes, queries []Rect) *OverlapMatrix {
	n, k := len(boxes), len(queries)
	data := make([]float32, n*k)

	for j, q := range queries {
		for i, b := range boxes {
			if iou := CalculateIoU(b, q); iou > 0 {
				data[i*k+j] = iou
			}
		}
	}

	m := &OverlapMatrix{Rows: n, Cols: k, data: data}
	if n > 0 && k > 0 {
		m.Values = tensor.New(tensor.WithShape(n, k), tensor.WithBacking(data))
	}
	return m
}

// At returns the IoU between proposal i and ground-truth box j.
func (m *OverlapMatrix) At(i, j int) float32 {
	return m.data[i*m.Cols+j]
}

// Row returns the overlaps of proposal i against every ground-truth box.
// The slice aliases the matrix storage.
func (m *OverlapMatrix) Row(i int) []float32 {
	return m.data[i*m.Cols : (i+1)*m.Cols]
}

// Argmax reduces every row to its best ground-truth match.
//
// The scan is strictly linear and a later value must be strictly greater to
// replace the current best, so ties resolve to the lowest column index.
//
// Returns:
//   - One Match per proposal. A matrix with no columns yields zero-valued matches.
func (m *OverlapMatrix) Argmax() []Match {
	matches := make([]Match, m.Rows)
	if m.Cols == 0 {
		return matches
	}
	for i := range matches {
		row := m.Row(i)
		best := Match{Index: 0, IoU: row[0]}
		for j := 1; j < len(row); j++ {
			if best.IoU < row[j] {
				best = Match{Index: j, IoU: row[j]}
			}
		}
		matches[i] = best
	}
	return matches
}
