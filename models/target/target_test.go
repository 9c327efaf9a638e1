package target

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-masktarget/common"
	"github.com/nvr-ai/go-masktarget/models/sampler"
)

func testConfig(rois, fgRois, maskSize, numClasses int) Config {
	config := DefaultConfig()
	config.RoisPerImage = rois
	config.FgRoisPerImage = fgRois
	config.MaskSize = maskSize
	config.NumClasses = numClasses
	config.BgThreshLo = 0.1
	config.BBoxStd = []float32{1, 1, 1, 1}
	return config
}

// squarePoly returns a polygon row covering the box exactly.
func squarePoly(class, x1, y1, x2, y2 float32) []float32 {
	return []float32{class, 1, 8, x1, y1, x2, y1, x2, y2, x1, y2}
}

func data(t *testing.T, d *tensor.Dense) []float32 {
	t.Helper()
	v, err := common.Float32s(d)
	require.NoError(t, err)
	return v
}

func newComputer(t *testing.T, config Config) *Computer {
	t.Helper()
	c, err := NewComputer(config)
	require.NoError(t, err)
	return c
}

func TestCompute_FullSquareForeground(t *testing.T) {
	const size, classes = 28, 3
	config := testConfig(1, 1, size, classes)
	c := newComputer(t, config)

	in := &Inputs{
		Proposals: common.FromRows([][]float32{{0, 0, 9, 9}}),
		GTBoxes:   common.FromRows([][]float32{{0, 0, 9, 9, 2}}),
		GTPolys:   common.FromRows([][]float32{squarePoly(2, 0, 0, 9, 9)}),
	}
	out := NewOutputs(config)

	result, err := c.Compute(in, out, sampler.NewRand(1))
	require.NoError(t, err)

	assert.Equal(t, []Region{{Proposal: 0, Label: 2, GroundTruth: 0, IoU: 1, MaskClass: 2}}, result.Regions)
	assert.Equal(t, 1, result.FgCount)
	assert.Equal(t, []float32{0, 0, 9, 9}, data(t, out.Rois))
	assert.Equal(t, []float32{2}, data(t, out.Labels))
	assert.Equal(t, []float32{1}, data(t, out.MatchGTIoUs))

	targets := data(t, out.BBoxTargets)
	weights := data(t, out.BBoxWeights)
	require.Len(t, targets, 4*classes)
	assert.Equal(t, make([]float32, 4*classes), targets, "identical boxes have zero deltas")
	assert.Equal(t, []float32{0, 0, 0, 0, 0, 0, 0, 0, 1, 1, 1, 1}, weights)

	masks := data(t, out.MaskTargets)
	for c := 0; c < classes; c++ {
		want := float32(0)
		if c == 2 {
			want = 1
		}
		for _, v := range masks[c*size*size : (c+1)*size*size] {
			require.Equal(t, want, v, "channel %d", c)
		}
	}
}

func TestCompute_MaskChannelFollowsPolygonClass(t *testing.T) {
	const size, classes = 4, 3
	config := testConfig(1, 1, size, classes)
	c := newComputer(t, config)

	in := &Inputs{
		Proposals: common.FromRows([][]float32{{0, 0, 9, 9}}),
		GTBoxes:   common.FromRows([][]float32{{0, 0, 9, 9, 1}}),
		GTPolys:   common.FromRows([][]float32{squarePoly(2, 0, 0, 9, 9)}),
	}
	out := NewOutputs(config)

	result, err := c.Compute(in, out, sampler.NewRand(1))
	require.NoError(t, err)
	require.Len(t, result.Regions, 1)
	assert.Equal(t, 1, result.Regions[0].Label)
	assert.Equal(t, 2, result.Regions[0].MaskClass)

	masks := data(t, out.MaskTargets)
	assert.Equal(t, make([]float32, size*size), masks[size*size:2*size*size], "label channel stays empty")
	for _, v := range masks[result.Regions[0].MaskClass*size*size : (result.Regions[0].MaskClass+1)*size*size] {
		assert.Equal(t, float32(1), v)
	}
}

func TestCompute_BackgroundBand(t *testing.T) {
	const size, classes = 8, 3
	config := testConfig(2, 1, size, classes)
	config.BgThreshLo = 0.1
	config.BgThreshHi = 0.5
	c := newComputer(t, config)

	in := &Inputs{
		// The second proposal covers 30 of the 100 ground-truth pixels: IoU 0.3.
		Proposals: common.FromRows([][]float32{{0, 0, 9, 9}, {0, 0, 9, 2}}),
		GTBoxes:   common.FromRows([][]float32{{0, 0, 9, 9, 1}}),
		GTPolys:   common.FromRows([][]float32{squarePoly(1, 0, 0, 9, 9)}),
	}
	out := NewOutputs(config)

	result, err := c.Compute(in, out, sampler.NewRand(5))
	require.NoError(t, err)

	assert.Equal(t, 1, result.FgCount)
	assert.Equal(t, 1, result.BgCount)
	assert.Equal(t, 1, result.Regions[1].Proposal)
	assert.Equal(t, 0, result.Regions[1].Label)
	assert.InDelta(t, 0.3, result.Regions[1].IoU, 1e-6)

	assert.Equal(t, []float32{1, 0}, data(t, out.Labels))
	assert.InDelta(t, 0.3, data(t, out.MatchGTIoUs)[1], 1e-6)

	stride := classes * size * size
	masks := data(t, out.MaskTargets)
	assert.Equal(t, make([]float32, stride), masks[stride:], "background masks stay zero")

	w := 4 * classes
	assert.Equal(t, make([]float32, w), data(t, out.BBoxTargets)[w:])
	assert.Equal(t, make([]float32, w), data(t, out.BBoxWeights)[w:])
}

func TestCompute_PadsShortSelection(t *testing.T) {
	config := testConfig(5, 2, 4, 2)
	c := newComputer(t, config)

	in := &Inputs{
		Proposals: common.FromRows([][]float32{
			{0, 0, 9, 9},     // foreground
			{0, 0, 9, 2},     // background band
			{50, 50, 59, 59}, // no overlap
			{70, 70, 79, 79},
			{90, 90, 99, 99},
		}),
		GTBoxes: common.FromRows([][]float32{{0, 0, 9, 9, 1}}),
		GTPolys: common.FromRows([][]float32{squarePoly(1, 0, 0, 9, 9)}),
	}
	out := NewOutputs(config)

	result, err := c.Compute(in, out, sampler.NewRand(11))
	require.NoError(t, err)

	assert.Len(t, result.Regions, 5)
	assert.Equal(t, 1, result.FgCount)
	assert.Equal(t, 1, result.BgCount)
	assert.Equal(t, 3, result.PadCount)

	var padded []int
	for _, r := range result.Regions[2:] {
		padded = append(padded, r.Proposal)
		assert.Equal(t, 0, r.Label)
		assert.Equal(t, float32(0), r.IoU)
	}
	assert.ElementsMatch(t, []int{2, 3, 4}, padded)
}

func TestCompute_LabelsAfterForegroundAreZero(t *testing.T) {
	config := testConfig(16, 4, 8, 4)
	c := newComputer(t, config)
	in := randomInputs(7, 120, 3, 4)

	for seed := uint64(0); seed < 10; seed++ {
		out := NewOutputs(config)
		result, err := c.Compute(in, out, sampler.NewRand(seed))
		require.NoError(t, err)

		assert.Equal(t, config.RoisPerImage, result.FgCount+result.BgCount+result.PadCount)
		assert.LessOrEqual(t, result.FgCount, config.FgRoisPerImage)

		labels := data(t, out.Labels)
		for i, l := range labels {
			if i >= result.FgCount {
				assert.Equal(t, float32(0), l, "slot %d", i)
			} else {
				assert.Greater(t, l, float32(0), "slot %d", i)
			}
		}

		for _, v := range data(t, out.MaskTargets) {
			assert.True(t, v == 0 || v == 1)
		}
	}
}

func TestCompute_ClassAgnostic(t *testing.T) {
	config := testConfig(16, 8, 8, 4)
	config.ClassAgnostic = true
	c := newComputer(t, config)
	in := randomInputs(3, 120, 3, 4)
	out := NewOutputs(config)

	result, err := c.Compute(in, out, sampler.NewRand(3))
	require.NoError(t, err)
	require.Greater(t, result.FgCount, 0)

	weights := data(t, out.BBoxWeights)
	require.Len(t, weights, config.RoisPerImage*8)
	for i := 0; i < config.RoisPerImage; i++ {
		row := weights[i*8 : (i+1)*8]
		assert.Equal(t, []float32{0, 0, 0, 0}, row[:4], "slot %d background span", i)
		if i < result.FgCount {
			assert.Equal(t, []float32{1, 1, 1, 1}, row[4:], "slot %d", i)
		} else {
			assert.Equal(t, []float32{0, 0, 0, 0}, row[4:], "slot %d", i)
		}
	}
}

func TestCompute_Deterministic(t *testing.T) {
	config := testConfig(32, 8, 14, 4)
	c := newComputer(t, config)
	in := randomInputs(42, 200, 4, 4)

	out1, out2 := NewOutputs(config), NewOutputs(config)
	r1, err := c.Compute(in, out1, sampler.NewRand(2024))
	require.NoError(t, err)
	r2, err := c.Compute(in, out2, sampler.NewRand(2024))
	require.NoError(t, err)

	assert.Equal(t, r1, r2)
	assert.Equal(t, data(t, out1.Rois), data(t, out2.Rois))
	assert.Equal(t, data(t, out1.Labels), data(t, out2.Labels))
	assert.Equal(t, data(t, out1.BBoxTargets), data(t, out2.BBoxTargets))
	assert.Equal(t, data(t, out1.BBoxWeights), data(t, out2.BBoxWeights))
	assert.Equal(t, data(t, out1.MatchGTIoUs), data(t, out2.MatchGTIoUs))
	assert.Equal(t, data(t, out1.MaskTargets), data(t, out2.MaskTargets))
}

func TestCompute_ContractViolations(t *testing.T) {
	config := testConfig(2, 1, 4, 3)
	valid := func() *Inputs {
		return &Inputs{
			Proposals: common.FromRows([][]float32{{0, 0, 9, 9}, {40, 40, 49, 49}}),
			GTBoxes:   common.FromRows([][]float32{{0, 0, 9, 9, 1}}),
			GTPolys:   common.FromRows([][]float32{squarePoly(1, 0, 0, 9, 9)}),
		}
	}

	tests := []struct {
		name   string
		mutate func(*Inputs, **Outputs, *sampler.Shuffler)
	}{
		{"nil gt boxes", func(in *Inputs, _ **Outputs, _ *sampler.Shuffler) { in.GTBoxes = nil }},
		{"nil proposals", func(in *Inputs, _ **Outputs, _ *sampler.Shuffler) { in.Proposals = nil }},
		{"nil polygons", func(in *Inputs, _ **Outputs, _ *sampler.Shuffler) { in.GTPolys = nil }},
		{"polygon count mismatch", func(in *Inputs, _ **Outputs, _ *sampler.Shuffler) {
			in.GTPolys = common.FromRows([][]float32{squarePoly(1, 0, 0, 9, 9), squarePoly(1, 0, 0, 9, 9)})
		}},
		{"malformed polygon", func(in *Inputs, _ **Outputs, _ *sampler.Shuffler) {
			in.GTPolys = common.FromRows([][]float32{{1, 3, 8}})
		}},
		{"box class out of range", func(in *Inputs, _ **Outputs, _ *sampler.Shuffler) {
			in.GTBoxes = common.FromRows([][]float32{{0, 0, 9, 9, 3}})
		}},
		{"polygon class out of range", func(in *Inputs, _ **Outputs, _ *sampler.Shuffler) {
			in.GTPolys = common.FromRows([][]float32{squarePoly(5, 0, 0, 9, 9)})
		}},
		{"too few proposals", func(in *Inputs, _ **Outputs, _ *sampler.Shuffler) {
			in.Proposals = common.FromRows([][]float32{{0, 0, 9, 9}})
		}},
		{"wrong output size", func(_ *Inputs, out **Outputs, _ *sampler.Shuffler) {
			(*out).MaskTargets = zeros(2, 3, 5, 5)
		}},
		{"nil outputs", func(_ *Inputs, out **Outputs, _ *sampler.Shuffler) { *out = nil }},
		{"nil rng", func(_ *Inputs, _ **Outputs, rng *sampler.Shuffler) { *rng = nil }},
	}

	c := newComputer(t, config)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid()
			out := NewOutputs(config)
			var rng sampler.Shuffler = sampler.NewRand(1)
			tt.mutate(in, &out, &rng)

			result, err := c.Compute(in, out, rng)
			require.Error(t, err)
			assert.Nil(t, result)
			assert.True(t, errors.Is(err, ErrContractViolation), "got %v", err)

			if out != nil && out.Rois != nil {
				assert.Equal(t, make([]float32, 8), data(t, out.Rois), "nothing written on failure")
			}
		})
	}

	_, err := c.Compute(valid(), NewOutputs(config), sampler.NewRand(1))
	assert.NoError(t, err)
}

func TestCompute_NonFiniteHeaders(t *testing.T) {
	config := testConfig(2, 1, 4, 3)
	c := newComputer(t, config)

	nan, inf := float32(math.NaN()), float32(math.Inf(1))
	tests := []struct {
		name  string
		boxes [][]float32
		polys [][]float32
	}{
		{"NaN ring count", [][]float32{{0, 0, 9, 9, 2}}, [][]float32{{2, nan, 8, 0, 0, 9, 0, 9, 9, 0, 9}}},
		{"infinite ring count", [][]float32{{0, 0, 9, 9, 2}}, [][]float32{{2, inf, 8, 0, 0, 9, 0, 9, 9, 0, 9}}},
		{"huge ring count", [][]float32{{0, 0, 9, 9, 2}}, [][]float32{{2, 1e30, 8, 0, 0, 9, 0, 9, 9, 0, 9}}},
		{"NaN ring length", [][]float32{{0, 0, 9, 9, 2}}, [][]float32{{2, 1, nan, 0, 0, 9, 0, 9, 9, 0, 9}}},
		{"NaN polygon class", [][]float32{{0, 0, 9, 9, 2}}, [][]float32{{nan, 1, 8, 0, 0, 9, 0, 9, 9, 0, 9}}},
		{"NaN box class", [][]float32{{0, 0, 9, 9, nan}}, [][]float32{squarePoly(2, 0, 0, 9, 9)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := &Inputs{
				Proposals: common.FromRows([][]float32{{0, 0, 9, 9}, {40, 40, 49, 49}}),
				GTBoxes:   common.FromRows(tt.boxes),
				GTPolys:   common.FromRows(tt.polys),
			}

			var err error
			require.NotPanics(t, func() { _, err = c.Compute(in, NewOutputs(config), sampler.NewRand(1)) })
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrContractViolation), "got %v", err)
		})
	}
}

func TestNewComputer_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero mask size", func(c *Config) { c.MaskSize = 0 }},
		{"negative fg thresh", func(c *Config) { c.FgThresh = -1 }},
		{"negative bg thresh", func(c *Config) { c.BgThreshLo = -0.5 }},
		{"fg quota above total", func(c *Config) { c.FgRoisPerImage = c.RoisPerImage + 1 }},
		{"single class", func(c *Config) { c.NumClasses = 1 }},
		{"short bbox mean", func(c *Config) { c.BBoxMean = []float32{0, 0} }},
		{"zero bbox std", func(c *Config) { c.BBoxStd = []float32{0.1, 0, 0.2, 0.2} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(&config)
			_, err := NewComputer(config)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrContractViolation), "got %v", err)
		})
	}
}

func TestOutputs_Reset(t *testing.T) {
	config := testConfig(1, 1, 8, 3)
	c := newComputer(t, config)
	in := &Inputs{
		Proposals: common.FromRows([][]float32{{0, 0, 9, 9}}),
		GTBoxes:   common.FromRows([][]float32{{0, 0, 9, 9, 2}}),
		GTPolys:   common.FromRows([][]float32{squarePoly(2, 0, 0, 9, 9)}),
	}
	out := NewOutputs(config)
	_, err := c.Compute(in, out, sampler.NewRand(1))
	require.NoError(t, err)
	require.NotEqual(t, make([]float32, 3*8*8), data(t, out.MaskTargets))

	out.Reset()
	assert.Equal(t, make([]float32, 3*8*8), data(t, out.MaskTargets))
	assert.Equal(t, make([]float32, 4), data(t, out.Rois))
	assert.Equal(t, []float32{0}, data(t, out.Labels))
}

func TestParseConfig(t *testing.T) {
	config, err := ParseConfig([]byte(`
rois_per_image: 64
fg_rois_per_image: 16
mask_size: 14
num_classes: 2
class_agnostic: true
bbox_std: [0.2, 0.2, 0.4, 0.4]
`))
	require.NoError(t, err)

	assert.Equal(t, 64, config.RoisPerImage)
	assert.Equal(t, 16, config.FgRoisPerImage)
	assert.Equal(t, 14, config.MaskSize)
	assert.Equal(t, 2, config.NumClasses)
	assert.True(t, config.ClassAgnostic)
	assert.True(t, config.SubsamplingEnabled, "unset keys keep defaults")
	assert.Equal(t, float32(0.5), config.FgThresh)
	assert.Equal(t, []float32{0.2, 0.2, 0.4, 0.4}, config.BBoxStd)
	assert.Equal(t, 2, config.EffectiveClasses())

	_, err = ParseConfig([]byte("mask_size: 0\n"))
	assert.True(t, errors.Is(err, ErrContractViolation))

	_, err = ParseConfig([]byte("mask_size: [1, 2\n"))
	assert.Error(t, err)
}

// randomInputs builds proposals around numGT ground-truth squares; the
// ground-truth boxes are included among the proposals so foreground exists.
func randomInputs(seed uint64, numProposals, numGT, numClasses int) *Inputs {
	rng := sampler.NewRand(seed)

	var gtRows, polyRows, proposalRows [][]float32
	for i := 0; i < numGT; i++ {
		x, y := rng.Float32()*200, rng.Float32()*200
		w, h := 20+rng.Float32()*60, 20+rng.Float32()*60
		class := float32(1 + i%(numClasses-1))
		gtRows = append(gtRows, []float32{x, y, x + w, y + h, class})
		polyRows = append(polyRows, []float32{
			class, 1, 6,
			x, y + h,
			x + w/2, y,
			x + w, y + h,
		})
		proposalRows = append(proposalRows, []float32{x, y, x + w, y + h})
	}
	for len(proposalRows) < numProposals {
		x, y := rng.Float32()*300, rng.Float32()*300
		proposalRows = append(proposalRows, []float32{x, y, x + 5 + rng.Float32()*80, y + 5 + rng.Float32()*80})
	}

	return &Inputs{
		Proposals: common.FromRows(proposalRows),
		GTBoxes:   common.FromRows(gtRows),
		GTPolys:   common.FromRows(polyRows),
	}
}
