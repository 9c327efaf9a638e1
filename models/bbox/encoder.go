// Package bbox - class-sensitive bounding-box regression targets.
package bbox

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	"gorgonia.org/vecf32"

	"github.com/nvr-ai/go-masktarget/images"
)

// epsilon guards the center-offset division.
const epsilon = 1e-14

// Encoder turns (region, ground truth) pairs into whitened regression
// targets laid out one 4-slot span per class.
type Encoder struct {
	// Mean is subtracted from the raw deltas.
	Mean []float32
	// Std divides the mean-centered deltas.
	Std []float32
	// Weight fills the weight span of the assigned class.
	Weight []float32
	// NumClasses is the class count including background.
	NumClasses int
	// ClassAgnostic collapses every foreground class into slot 1.
	ClassAgnostic bool
}

// NewEncoder creates an encoder after checking its vectors.
//
// Arguments:
//   - mean: Length-4 delta mean.
//   - std: Length-4 delta standard deviation, no zero entries.
//   - weight: Length-4 weight written for the assigned class.
//   - numClasses: Class count including background.
//   - classAgnostic: Whether all foreground classes share one slot.
//
// Returns:
//   - The encoder.
//   - error if a vector has the wrong length or std contains a zero.
//
// @example
// enc, err := NewEncoder([]float32{0, 0, 0, 0}, []float32{0.1, 0.1, 0.2, 0.2}, []float32{1, 1, 1, 1}, 81, false)
func NewEncoder(mean, std, weight []float32, numClasses int, classAgnostic bool) (*Encoder, error) {
	vectors := []struct {
		name string
		v    []float32
	}{{"bbox_mean", mean}, {"bbox_std", std}, {"bbox_weight", weight}}
	for _, vec := range vectors {
		if len(vec.v) != 4 {
			return nil, errors.Errorf("%s has %d values, want 4", vec.name, len(vec.v))
		}
	}
	for i, s := range std {
		if s == 0 {
			return nil, errors.Errorf("bbox_std[%d] is zero", i)
		}
	}
	if numClasses < 1 {
		return nil, errors.Errorf("num_classes must be positive, got %d", numClasses)
	}

	return &Encoder{
		Mean:          append([]float32(nil), mean...),
		Std:           append([]float32(nil), std...),
		Weight:        append([]float32(nil), weight...),
		NumClasses:    numClasses,
		ClassAgnostic: classAgnostic,
	}, nil
}

// EffectiveClasses is the number of 4-slot spans in a target row.
func (e *Encoder) EffectiveClasses() int {
	if e.ClassAgnostic {
		return 2
	}
	return e.NumClasses
}

// Width is the length of a target or weight row.
func (e *Encoder) Width() int {
	return 4 * e.EffectiveClasses()
}

// ClassIndex maps a label to its regression span. Background stays 0.
func (e *Encoder) ClassIndex(label int) int {
	if e.ClassAgnostic && label > 0 {
		return 1
	}
	return label
}

// Deltas computes the raw (dx, dy, dw, dh) that move roi onto gt.
//
// Widths and heights are pixel-inclusive and clamped to one pixel, so
// degenerate boxes never divide by zero.
//
//	dx = (gt_cx - roi_cx) / roi_w
//	dy = (gt_cy - roi_cy) / roi_h
//	dw = log(gt_w / roi_w)
//	dh = log(gt_h / roi_h)
func Deltas(roi, gt images.Rect) [4]float32 {
	rw, rh := roi.Width(), roi.Height()
	rcx, rcy := roi.Center()
	gw, gh := gt.Width(), gt.Height()
	gcx, gcy := gt.Center()

	return [4]float32{
		(gcx - rcx) / (rw + epsilon),
		(gcy - rcy) / (rh + epsilon),
		math32.Log(gw / rw),
		math32.Log(gh / rh),
	}
}

// Whiten normalizes deltas in place: (d - mean) / std.
func (e *Encoder) Whiten(d []float32) {
	vecf32.Sub(d, e.Mean)
	vecf32.Div(d, e.Std)
}

// Expand writes whitened deltas and the configured weight into the span of
// the label's class. Background (class index 0) writes nothing, leaving the
// caller's zeroed rows untouched.
//
// Arguments:
//   - label: The assigned class label.
//   - deltas: Whitened deltas.
//   - targets: Target row of length Width().
//   - weights: Weight row of length Width().
//
// Returns:
//   - error if a row has the wrong length or the class has no span.
func (e *Encoder) Expand(label int, deltas []float32, targets, weights []float32) error {
	if len(targets) != e.Width() || len(weights) != e.Width() {
		return errors.Errorf("target rows have %d/%d values, want %d", len(targets), len(weights), e.Width())
	}

	cls := e.ClassIndex(label)
	if cls <= 0 {
		return nil
	}
	if cls >= e.EffectiveClasses() {
		return errors.Errorf("class %d outside %d regression classes", cls, e.EffectiveClasses())
	}

	start := 4 * cls
	copy(targets[start:start+4], deltas)
	copy(weights[start:start+4], e.Weight)
	return nil
}

// Encode computes, whitens and expands the target for one region.
//
// @example
// err := enc.Encode(roi, gt, label, targets[i*w:(i+1)*w], weights[i*w:(i+1)*w])
func (e *Encoder) Encode(roi, gt images.Rect, label int, targets, weights []float32) error {
	d := Deltas(roi, gt)
	e.Whiten(d[:])
	return e.Expand(label, d[:], targets, weights)
}
