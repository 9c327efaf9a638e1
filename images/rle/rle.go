// Package rle - run-length encoded binary masks.
//
// Masks are laid out column-major: pixel (x, y) of an h×w mask lives at
// offset x*h + y. Counts alternate between runs of zeros and ones, always
// starting with zeros (the first count may be 0), and sum to h*w.
package rle

import (
	"math"
	"sort"

	"github.com/pkg/errors"
)

// upsample is the sub-pixel factor used while walking polygon edges.
const upsample = 5

// RLE is a run-length encoded h×w binary mask.
type RLE struct {
	H, W   int
	Counts []uint32
}

// Area returns the number of set pixels.
func (r *RLE) Area() int {
	area := 0
	for i := 1; i < len(r.Counts); i += 2 {
		area += int(r.Counts[i])
	}
	return area
}

// Decode expands the runs into dst, one byte per pixel in column-major order.
//
// Arguments:
//   - dst: Destination buffer of exactly H*W bytes.
//
// Returns:
//   - error if dst has the wrong length or the runs overflow it.
func (r *RLE) Decode(dst []byte) error {
	if len(dst) != r.H*r.W {
		return errors.Errorf("decode buffer has %d bytes, mask needs %d", len(dst), r.H*r.W)
	}

	var (
		pos int
		v   byte
	)
	for _, c := range r.Counts {
		end := pos + int(c)
		if end > len(dst) {
			return errors.Errorf("runs overflow %dx%d mask", r.H, r.W)
		}
		for ; pos < end; pos++ {
			dst[pos] = v
		}
		v ^= 1
	}
	for ; pos < len(dst); pos++ {
		dst[pos] = 0
	}

	return nil
}

// FromPolygon encodes the even-odd fill of a closed polygon at h×w resolution.
//
// The outline is walked at 5x sub-pixel resolution, every crossing of a
// column center is recorded as a toggle at that column's first covered row,
// and the sorted toggles become runs. A pixel is set when its center lies
// inside the outline, so self-intersections follow the parity rule.
//
// Arguments:
//   - xy: Flattened vertices (x0, y0, x1, y1, ...); the ring closes itself.
//   - h: Mask height.
//   - w: Mask width.
//
// Returns:
//   - The encoded mask. Fewer than one vertex yields an empty mask.
//
// @example
// square := []float64{0, 0, 4, 0, 4, 4, 0, 4}
// r := FromPolygon(square, 4, 4)
// r.Area() // 16
func FromPolygon(xy []float64, h, w int) RLE {
	k := len(xy) / 2
	if k == 0 || h <= 0 || w <= 0 {
		return RLE{H: h, W: w, Counts: []uint32{uint32(max(h, 0) * max(w, 0))}}
	}

	// Snap vertices to the upsampled lattice and close the ring.
	xs := make([]int, k+1)
	ys := make([]int, k+1)
	for j := 0; j < k; j++ {
		xs[j] = int(upsample*xy[2*j] + .5)
		ys[j] = int(upsample*xy[2*j+1] + .5)
	}
	xs[k], ys[k] = xs[0], ys[0]

	// Walk every edge, emitting one lattice point per step along its major axis.
	n := 0
	for j := 0; j < k; j++ {
		n += max(abs(xs[j]-xs[j+1]), abs(ys[j]-ys[j+1])) + 1
	}
	us := make([]int, 0, n)
	vs := make([]int, 0, n)
	for j := 0; j < k; j++ {
		x0, x1, y0, y1 := xs[j], xs[j+1], ys[j], ys[j+1]
		dx, dy := abs(x1-x0), abs(y1-y0)
		flip := (dx >= dy && x0 > x1) || (dx < dy && y0 > y1)
		if flip {
			x0, x1 = x1, x0
			y0, y1 = y1, y0
		}

		var s float64
		switch {
		case dx >= dy && dx > 0:
			s = float64(y1-y0) / float64(dx)
		case dx < dy:
			s = float64(x1-x0) / float64(dy)
		}

		if dx >= dy {
			for d := 0; d <= dx; d++ {
				t := d
				if flip {
					t = dx - d
				}
				us = append(us, t+x0)
				vs = append(vs, int(float64(y0)+s*float64(t)+.5))
			}
		} else {
			for d := 0; d <= dy; d++ {
				t := d
				if flip {
					t = dy - d
				}
				vs = append(vs, t+y0)
				us = append(us, int(float64(x0)+s*float64(t)+.5))
			}
		}
	}

	// Keep the points where the outline crosses a column center and
	// downsample them to the first covered row in that column.
	toggles := make([]uint32, 0, len(us)+1)
	for j := 1; j < len(us); j++ {
		if us[j] == us[j-1] {
			continue
		}
		xd := float64(us[j])
		if us[j] >= us[j-1] {
			xd--
		}
		xd = (xd+.5)/upsample - .5
		if math.Floor(xd) != xd || xd < 0 || xd > float64(w-1) {
			continue
		}
		yd := float64(min(vs[j], vs[j-1]))
		yd = (yd+.5)/upsample - .5
		if yd < 0 {
			yd = 0
		} else if yd > float64(h) {
			yd = float64(h)
		}
		yd = math.Ceil(yd)
		toggles = append(toggles, uint32(int(xd)*h+int(yd)))
	}
	toggles = append(toggles, uint32(h*w))

	return fromToggles(toggles, h, w)
}

// fromToggles turns unsorted toggle offsets into run counts. Coincident
// toggles cancel out.
func fromToggles(toggles []uint32, h, w int) RLE {
	sort.Slice(toggles, func(i, j int) bool { return toggles[i] < toggles[j] })

	var prev uint32
	for j, t := range toggles {
		toggles[j] = t - prev
		prev = t
	}

	counts := make([]uint32, 0, len(toggles))
	counts = append(counts, toggles[0])
	for j := 1; j < len(toggles); j++ {
		if toggles[j] > 0 {
			counts = append(counts, toggles[j])
			continue
		}
		j++
		if j < len(toggles) {
			counts[len(counts)-1] += toggles[j]
		}
	}

	return RLE{H: h, W: w, Counts: counts}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
