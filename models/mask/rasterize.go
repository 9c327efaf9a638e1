// Package mask - per-region binary mask targets from polygon annotations.
package mask

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-masktarget/common"
	"github.com/nvr-ai/go-masktarget/images"
	"github.com/nvr-ai/go-masktarget/images/rle"
)

// scratch holds the transient buffers of one Rasterize call.
type scratch struct {
	xy   []float64
	bits []byte
	grid []byte
}

var scratchPool = sync.Pool{
	New: func() interface{} {
		return new(scratch)
	},
}

// remapPoint maps an absolute vertex into the size×size frame of roi.
func remapPoint(p common.Point, roi images.Rect, size int) (float32, float32) {
	w, h := roi.Extent()
	s := float32(size)
	return (p.X - roi.X1) * s / w, (p.Y - roi.Y1) * s / h
}

// Remap maps a ring from absolute pixels into the local frame of roi, where
// the roi spans [0, size] on both axes.
//
//	x' = (x - roi_x1) * size / max(1, roi_x2 - roi_x1)
//	y' = (y - roi_y1) * size / max(1, roi_y2 - roi_y1)
//
// Arguments:
//   - ring: Vertices in absolute pixels.
//   - roi: The region box.
//   - size: The mask resolution.
//
// Returns:
//   - The remapped ring.
func Remap(ring common.Ring, roi images.Rect, size int) common.Ring {
	out := make(common.Ring, len(ring))
	for i, p := range ring {
		out[i].X, out[i].Y = remapPoint(p, roi, size)
	}
	return out
}

// Rasterize fills the polygon's class channel of a region's mask stack.
//
// Every ring is remapped into the region frame, encoded on its own with an
// even-odd scan-line fill, decoded, and OR-ed into a single size×size grid.
// The grid is written row-major into channel poly.Class of stack; all other
// channels are left untouched.
//
// Arguments:
//   - roi: The region box the mask is cut from.
//   - poly: The matched ground-truth polygon.
//   - size: The mask resolution.
//   - stack: The region's C×size×size mask targets.
//
// Returns:
//   - error if size is not positive, stack is not a whole number of channels,
//     or the polygon class has no channel.
//
// @example
// stack := masks[i*numClasses*size*size : (i+1)*numClasses*size*size]
// err := Rasterize(roi, polys[gt], size, stack)
func Rasterize(roi images.Rect, poly common.Polygon, size int, stack []float32) error {
	if size <= 0 {
		return errors.Errorf("mask size must be positive, got %d", size)
	}
	area := size * size
	if len(stack) == 0 || len(stack)%area != 0 {
		return errors.Errorf("mask stack of %d values is not a whole number of %dx%d channels", len(stack), size, size)
	}
	if channels := len(stack) / area; poly.Class < 0 || poly.Class >= channels {
		return errors.Errorf("polygon class %d outside %d mask channels", poly.Class, channels)
	}

	s := scratchPool.Get().(*scratch)
	defer func() {
		s.xy = s.xy[:0]
		scratchPool.Put(s)
	}()

	s.grid = grow(s.grid, area)
	clear(s.grid)
	s.bits = grow(s.bits, area)

	for _, ring := range poly.Rings {
		// Runs are column-major, so feeding (y, x) pairs decodes row-major.
		s.xy = s.xy[:0]
		for _, p := range ring {
			x, y := remapPoint(p, roi, size)
			s.xy = append(s.xy, float64(y), float64(x))
		}

		r := rle.FromPolygon(s.xy, size, size)
		if err := r.Decode(s.bits); err != nil {
			return errors.Wrap(err, "ring decode failed")
		}
		for j, b := range s.bits {
			s.grid[j] |= b
		}
	}

	channel := stack[poly.Class*area : (poly.Class+1)*area]
	for j, b := range s.grid {
		channel[j] = float32(b)
	}

	return nil
}

func grow(buf []byte, n int) []byte {
	if cap(buf) < n {
		return make([]byte, n)
	}
	return buf[:n]
}
