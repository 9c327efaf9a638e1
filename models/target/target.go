package target

import (
	"fmt"
	"log"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-masktarget/common"
	"github.com/nvr-ai/go-masktarget/images"
	"github.com/nvr-ai/go-masktarget/models/bbox"
	"github.com/nvr-ai/go-masktarget/models/mask"
	"github.com/nvr-ai/go-masktarget/models/sampler"
)

// Inputs are the per-image buffers supplied by the caller.
type Inputs struct {
	// Proposals is N×4 (x1, y1, x2, y2).
	Proposals *tensor.Dense
	// GTBoxes is K×5 (x1, y1, x2, y2, class).
	GTBoxes *tensor.Dense
	// GTPolys is K×L, one polygon row per ground-truth box.
	GTPolys *tensor.Dense
}

// Outputs are the pre-sized, zeroed target buffers for one image. R is
// RoisPerImage, C is NumClasses, E is EffectiveClasses, S is MaskSize.
type Outputs struct {
	// Rois is R×4.
	Rois *tensor.Dense
	// Labels is R.
	Labels *tensor.Dense
	// BBoxTargets is R×4E.
	BBoxTargets *tensor.Dense
	// BBoxWeights is R×4E.
	BBoxWeights *tensor.Dense
	// MatchGTIoUs is R.
	MatchGTIoUs *tensor.Dense
	// MaskTargets is R×C×S×S.
	MaskTargets *tensor.Dense
}

func zeros(shape ...int) *tensor.Dense {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(make([]float32, n)))
}

// NewOutputs allocates zeroed output buffers sized for config.
//
// @example
// out := NewOutputs(config)
// result, err := computer.Compute(in, out, sampler.NewRand(seed))
func NewOutputs(config Config) *Outputs {
	r := config.RoisPerImage
	w := 4 * config.EffectiveClasses()
	return &Outputs{
		Rois:        zeros(r, 4),
		Labels:      zeros(r),
		BBoxTargets: zeros(r, w),
		BBoxWeights: zeros(r, w),
		MatchGTIoUs: zeros(r),
		MaskTargets: zeros(r, config.NumClasses, config.MaskSize, config.MaskSize),
	}
}

// Reset zeroes every buffer so the outputs can be reused.
func (o *Outputs) Reset() {
	for _, t := range []*tensor.Dense{o.Rois, o.Labels, o.BBoxTargets, o.BBoxWeights, o.MatchGTIoUs, o.MaskTargets} {
		if data, err := common.Float32s(t); err == nil {
			clear(data)
		}
	}
}

// Region is one slot of the sampled selection.
type Region struct {
	// Proposal is the selected proposal index.
	Proposal int
	// Label is the assigned class; 0 for background and padding.
	Label int
	// GroundTruth is the index of the best-matching ground-truth box.
	GroundTruth int
	// IoU is the overlap with that box.
	IoU float32
	// MaskClass is the mask channel written for a foreground region: the
	// class of the matched polygon. 0 for background and padding.
	MaskClass int
}

// Result describes what Compute selected.
type Result struct {
	// Regions has exactly RoisPerImage entries in output order.
	Regions []Region
	// FgCount is the number of leading foreground regions.
	FgCount int
	// BgCount is the number of background-band regions.
	BgCount int
	// PadCount is the number of padding regions.
	PadCount int
}

// String formats the selection counts for display.
func (r *Result) String() string {
	return fmt.Sprintf("%d regions (fg %d, bg %d, pad %d)", len(r.Regions), r.FgCount, r.BgCount, r.PadCount)
}

// Computer builds training targets for one image at a time.
type Computer struct {
	config    Config
	sampler   *sampler.Sampler
	encoder   *bbox.Encoder
	debugMode bool
}

// NewComputer creates a target computer with the given configuration.
//
// Arguments:
//   - config: The sampling, encoding and mask configuration.
//
// Returns:
//   - A configured Computer.
//   - error wrapping ErrContractViolation if the configuration is invalid.
//
// @example
// computer, err := NewComputer(DefaultConfig())
//
//	if err != nil {
//	    log.Fatal(err)
//	}
func NewComputer(config Config) (*Computer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s, err := sampler.NewSampler(config.samplerConfig())
	if err != nil {
		return nil, violationErr(err, "invalid sampling config")
	}
	enc, err := bbox.NewEncoder(config.BBoxMean, config.BBoxStd, config.BBoxWeight, config.NumClasses, config.ClassAgnostic)
	if err != nil {
		return nil, violationErr(err, "invalid regression config")
	}

	return &Computer{config: config, sampler: s, encoder: enc}, nil
}

// Config returns the computer's configuration.
func (c *Computer) Config() Config {
	return c.config
}

// SetDebugMode enables or disables debug logging.
//
// @example
// computer.SetDebugMode(true)
func (c *Computer) SetDebugMode(enabled bool) {
	c.debugMode = enabled
}

// parsed holds validated inputs.
type parsed struct {
	proposals []images.Rect
	gtBoxes   []common.GroundTruthBox
	gtRects   []images.Rect
	polygons  []common.Polygon
}

// buffers holds the raw output slices.
type buffers struct {
	rois, labels, targets, weights, ious, masks []float32
}

// Compute fills out with the training targets for one image.
//
// Overlaps between every proposal and ground-truth box are computed once,
// the sampler draws exactly RoisPerImage regions, and for each slot the
// proposal, label and matched IoU are copied out. Regression targets are
// encoded for every slot and masks are rasterized for the foreground slots
// only. Inputs and buffer sizes are checked before anything is written.
//
// Arguments:
//   - in: The proposals and ground truth.
//   - out: Zeroed output buffers, e.g. from NewOutputs.
//   - rng: The randomness source for subsampling.
//
// Returns:
//   - The selection that was written.
//   - error wrapping ErrContractViolation on any precondition failure.
//
// @example
// in := &Inputs{Proposals: proposals, GTBoxes: gtBoxes, GTPolys: gtPolys}
// out := NewOutputs(computer.Config())
// result, err := computer.Compute(in, out, sampler.NewRand(42))
//
//	if err != nil {
//	    return err
//	}
//
// fmt.Println(result) // 512 regions (fg 37, bg 475, pad 0)
func (c *Computer) Compute(in *Inputs, out *Outputs, rng sampler.Shuffler) (*Result, error) {
	if rng == nil {
		return nil, violation("randomness source is nil")
	}
	p, err := c.parseInputs(in)
	if err != nil {
		return nil, err
	}
	buf, err := c.checkOutputs(out)
	if err != nil {
		return nil, err
	}

	overlaps := images.ComputeOverlaps(p.proposals, p.gtRects)
	matches := overlaps.Argmax()
	if c.debugMode {
		log.Printf("[DEBUG] Overlaps computed: %d proposals x %d ground truth", overlaps.Rows, overlaps.Cols)
	}

	sel, err := c.sampler.Sample(matches, rng)
	if err != nil {
		return nil, violationErr(err, "sampling failed")
	}
	if c.debugMode {
		log.Printf("[DEBUG] Sampled %s", sel)
	}

	result := &Result{
		Regions:  make([]Region, len(sel.Indices)),
		FgCount:  sel.FgCount,
		BgCount:  sel.BgCount,
		PadCount: sel.PadCount,
	}
	for i, idx := range sel.Indices {
		m := matches[idx]
		region := Region{Proposal: idx, GroundTruth: m.Index, IoU: m.IoU}
		if i < sel.FgCount {
			region.Label = p.gtBoxes[m.Index].Class
			region.MaskClass = p.polygons[m.Index].Class
		}
		result.Regions[i] = region

		roi := p.proposals[idx]
		copy(buf.rois[i*4:i*4+4], []float32{roi.X1, roi.Y1, roi.X2, roi.Y2})
		buf.labels[i] = float32(region.Label)
		buf.ious[i] = region.IoU
	}

	width := c.encoder.Width()
	for i, region := range result.Regions {
		row := buf.targets[i*width : (i+1)*width]
		weights := buf.weights[i*width : (i+1)*width]
		if err := c.encoder.Encode(p.proposals[region.Proposal], p.gtRects[region.GroundTruth], region.Label, row, weights); err != nil {
			return nil, errors.Wrapf(err, "regression target %d failed", i)
		}
	}

	size := c.config.MaskSize
	stride := c.config.NumClasses * size * size
	for i, region := range result.Regions[:sel.FgCount] {
		stack := buf.masks[i*stride : (i+1)*stride]
		if err := mask.Rasterize(p.proposals[region.Proposal], p.polygons[region.GroundTruth], size, stack); err != nil {
			return nil, errors.Wrapf(err, "mask target %d failed", i)
		}
	}

	if c.debugMode {
		log.Printf("[DEBUG] Targets complete: %s", result)
	}

	return result, nil
}

// parseInputs decodes and validates the input buffers.
func (c *Computer) parseInputs(in *Inputs) (*parsed, error) {
	if in == nil {
		return nil, violation("inputs are nil")
	}
	if in.GTBoxes == nil {
		return nil, violation("gt_boxes is empty")
	}
	if in.Proposals == nil {
		return nil, violation("proposals are empty")
	}

	proposals, err := common.ParseProposals(in.Proposals)
	if err != nil {
		return nil, violationErr(err, "proposals")
	}
	if len(proposals) == 0 {
		return nil, violation("proposals are empty")
	}

	gtBoxes, err := common.ParseGroundTruthBoxes(in.GTBoxes)
	if err != nil {
		return nil, violationErr(err, "gt_boxes")
	}
	if len(gtBoxes) == 0 {
		return nil, violation("gt_boxes is empty")
	}

	if in.GTPolys == nil {
		return nil, violation("gt_polys is empty")
	}
	polygons, err := common.ParsePolygons(in.GTPolys)
	if err != nil {
		return nil, violationErr(err, "gt_polys")
	}
	if len(polygons) != len(gtBoxes) {
		return nil, violation("gt_polys has %d rows for %d gt_boxes", len(polygons), len(gtBoxes))
	}

	gtRects := make([]images.Rect, len(gtBoxes))
	for i, gt := range gtBoxes {
		if gt.Class >= c.config.NumClasses {
			return nil, violation("gt_boxes row %d has class %d, num_classes is %d", i, gt.Class, c.config.NumClasses)
		}
		if polygons[i].Class >= c.config.NumClasses {
			return nil, violation("gt_polys row %d has class %d, num_classes is %d", i, polygons[i].Class, c.config.NumClasses)
		}
		gtRects[i] = gt.Box
	}

	return &parsed{proposals: proposals, gtBoxes: gtBoxes, gtRects: gtRects, polygons: polygons}, nil
}

// checkOutputs verifies every output buffer has the size the config implies.
func (c *Computer) checkOutputs(out *Outputs) (*buffers, error) {
	if out == nil {
		return nil, violation("outputs are nil")
	}

	r := c.config.RoisPerImage
	w := c.encoder.Width()
	s := c.config.MaskSize
	buf := &buffers{}
	checks := []struct {
		name string
		t    *tensor.Dense
		n    int
		dst  *[]float32
	}{
		{"rois", out.Rois, r * 4, &buf.rois},
		{"labels", out.Labels, r, &buf.labels},
		{"bbox_targets", out.BBoxTargets, r * w, &buf.targets},
		{"bbox_weights", out.BBoxWeights, r * w, &buf.weights},
		{"match_gt_ious", out.MatchGTIoUs, r, &buf.ious},
		{"mask_targets", out.MaskTargets, r * c.config.NumClasses * s * s, &buf.masks},
	}

	for _, check := range checks {
		data, err := common.Float32s(check.t)
		if err != nil {
			return nil, violationErr(err, check.name)
		}
		if len(data) != check.n {
			return nil, violation("%s has %d values, want %d", check.name, len(data), check.n)
		}
		*check.dst = data
	}

	return buf, nil
}
