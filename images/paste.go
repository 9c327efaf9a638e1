package images

import (
	"image"
	"image/color"

	"github.com/nfnt/resize"
)

// PasteMask projects a square mask target back onto the image it was cut from.
//
// The size×size grid is resized to the pixel-inclusive extent of roi with
// nearest-neighbor sampling and drawn at the roi origin inside a
// width×height canvas. Pixels falling outside the canvas are dropped.
//
// Arguments:
//   - mask: Row-major size×size grid; values >= 0.5 are treated as set.
//   - size: The grid resolution.
//   - roi: The region the grid was rasterized for.
//   - width: The canvas width.
//   - height: The canvas height.
//
// Returns:
//   - A grayscale canvas where set pixels are 255 and everything else 0.
//
// @example
// canvas := PasteMask(target, 28, Rect{X1: 40, Y1: 40, X2: 139, Y2: 99}, 640, 480)
// png.Encode(w, canvas)
func PasteMask(mask []float32, size int, roi Rect, width, height int) *image.Gray {
	canvas := image.NewGray(image.Rect(0, 0, width, height))
	if size <= 0 || len(mask) < size*size {
		return canvas
	}

	grid := image.NewGray(image.Rect(0, 0, size, size))
	for i, v := range mask[:size*size] {
		if v >= 0.5 {
			grid.Pix[i] = 255
		}
	}

	w, h := int(roi.Width()), int(roi.Height())
	scaled := resize.Resize(uint(w), uint(h), grid, resize.NearestNeighbor)

	ox, oy := int(roi.X1), int(roi.Y1)
	b := scaled.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			p := image.Point{X: ox + x - b.Min.X, Y: oy + y - b.Min.Y}
			if !p.In(canvas.Rect) {
				continue
			}
			g := color.GrayModel.Convert(scaled.At(x, y)).(color.Gray)
			canvas.SetGray(p.X, p.Y, g)
		}
	}

	return canvas
}
