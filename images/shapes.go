// Package images - Box geometry and overlap utilities for region targets.
package images

import "github.com/chewxy/math32"

// Rect is a lightweight bounding box in pixel coordinates.
type Rect struct {
	// X2,Y2 are inclusive: a box from 0 to 9 is 10 pixels wide.
	X1, Y1, X2, Y2 float32
}

// Width returns the pixel-inclusive width of the box, clamped to at least one pixel.
func (r Rect) Width() float32 {
	return math32.Max(1, r.X2-r.X1+1)
}

// Height returns the pixel-inclusive height of the box, clamped to at least one pixel.
func (r Rect) Height() float32 {
	return math32.Max(1, r.Y2-r.Y1+1)
}

// Center returns the box center using the clamped width and height.
//
// Returns:
//   - cx: x1 + 0.5*(width-1).
//   - cy: y1 + 0.5*(height-1).
func (r Rect) Center() (float32, float32) {
	return r.X1 + 0.5*(r.Width()-1), r.Y1 + 0.5*(r.Height()-1)
}

// Extent returns the coordinate span (x2-x1, y2-y1) of the box, each clamped
// to at least 1. It is the scale used to map absolute coordinates into the
// box's local frame.
func (r Rect) Extent() (float32, float32) {
	return math32.Max(1, r.X2-r.X1), math32.Max(1, r.Y2-r.Y1)
}

// Area returns the unclamped pixel-inclusive area. Degenerate boxes may
// yield zero or a negative value.
func (r Rect) Area() float32 {
	return (r.X2 - r.X1 + 1) * (r.Y2 - r.Y1 + 1)
}

// CalculateIoU measures the overlap between two boxes as the ratio of their
// intersection area to their union area, using the pixel-inclusive convention
// (both edges count, so widths carry a +1).
//
//	IoU = Area of Intersection / Area of Union
//
//	- 1.0 means the boxes are identical.
//	- 0.0 means the boxes do not overlap (touching edges still overlap by one pixel).
//
// The intersection width is checked before the height, and a non-positive
// value on either axis returns 0 without computing anything else. A union
// area that is zero or negative (degenerate boxes) also returns 0 instead of
// dividing.
//
// Arguments:
//   - r: The first box.
//   - o: The other box to compare against.
//
// Returns:
//   - float32: A value between 0.0 and 1.0 representing the IoU score.
//
// Example Usage:
// ```go
//
//	a := Rect{X1: 0, Y1: 0, X2: 9, Y2: 9}   // 10x10 pixels
//	b := Rect{X1: 5, Y1: 5, X2: 14, Y2: 14} // 10x10 pixels
//
//	iou := CalculateIoU(a, b) // intersection 5x5=25, union 100+100-25=175, iou≈0.142857
//
// ```
func CalculateIoU(r, o Rect) float32 {
	iw := math32.Min(r.X2, o.X2) - math32.Max(r.X1, o.X1) + 1
	if iw <= 0 {
		return 0
	}
	ih := math32.Min(r.Y2, o.Y2) - math32.Max(r.Y1, o.Y1) + 1
	if ih <= 0 {
		return 0
	}

	inter := iw * ih
	union := r.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}

	return inter / union
}
