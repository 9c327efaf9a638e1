// Package target - builds the per-image training targets of a mask-predicting
// region detector: sampled regions, labels, box regression targets and masks.
package target

import (
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/go-masktarget/models/sampler"
)

// ErrContractViolation is wrapped by every error caused by invalid
// configuration, inputs or output buffers.
var ErrContractViolation = errors.New("contract violation")

func violation(format string, args ...interface{}) error {
	return errors.Wrapf(ErrContractViolation, format, args...)
}

func violationErr(err error, msg string) error {
	return errors.Wrapf(ErrContractViolation, "%s: %v", msg, err)
}

// Config defines the sampling, encoding and mask parameters for one image.
type Config struct {
	// FgRoisPerImage caps the foreground regions when subsampling.
	FgRoisPerImage int `json:"fg_rois_per_image" yaml:"fg_rois_per_image"`
	// RoisPerImage is the exact number of regions produced.
	RoisPerImage int `json:"rois_per_image" yaml:"rois_per_image"`
	// MaskSize is the side of each mask target.
	MaskSize int `json:"mask_size" yaml:"mask_size"`
	// NumClasses counts the classes including background.
	NumClasses int `json:"num_classes" yaml:"num_classes"`
	// FgThresh is the minimum overlap for foreground.
	FgThresh float32 `json:"fg_thresh" yaml:"fg_thresh"`
	// BgThreshHi is the exclusive upper bound of the background band.
	BgThreshHi float32 `json:"bg_thresh_hi" yaml:"bg_thresh_hi"`
	// BgThreshLo is the inclusive lower bound of the background band.
	BgThreshLo float32 `json:"bg_thresh_lo" yaml:"bg_thresh_lo"`
	// SubsamplingEnabled caps and randomly subsamples foreground.
	SubsamplingEnabled bool `json:"subsampling_enabled" yaml:"subsampling_enabled"`
	// ClassAgnostic shares one regression span across foreground classes.
	ClassAgnostic bool `json:"class_agnostic" yaml:"class_agnostic"`
	// BBoxMean is subtracted from regression deltas.
	BBoxMean []float32 `json:"bbox_mean" yaml:"bbox_mean"`
	// BBoxStd divides regression deltas.
	BBoxStd []float32 `json:"bbox_std" yaml:"bbox_std"`
	// BBoxWeight is written into the weight span of the assigned class.
	BBoxWeight []float32 `json:"bbox_weight" yaml:"bbox_weight"`
}

// DefaultConfig returns the usual COCO Mask R-CNN training configuration.
//
// Returns:
//   - Config: 512 regions with up to 128 foreground, 28×28 masks, 81 classes.
//
// @example
// config := DefaultConfig()
// config.NumClasses = 2
// computer, err := NewComputer(config)
func DefaultConfig() Config {
	return Config{
		FgRoisPerImage:     128,
		RoisPerImage:       512,
		MaskSize:           28,
		NumClasses:         81,
		FgThresh:           0.5,
		BgThreshHi:         0.5,
		BgThreshLo:         0,
		SubsamplingEnabled: true,
		ClassAgnostic:      false,
		BBoxMean:           []float32{0, 0, 0, 0},
		BBoxStd:            []float32{0.1, 0.1, 0.2, 0.2},
		BBoxWeight:         []float32{1, 1, 1, 1},
	}
}

// ParseConfig decodes a YAML document over DefaultConfig and validates it.
// Keys that are absent keep their default.
//
// Arguments:
//   - data: The YAML document.
//
// Returns:
//   - The merged configuration.
//   - error if the document is malformed or the result is invalid.
//
// @example
// config, err := ParseConfig([]byte("num_classes: 2\nmask_size: 14\n"))
func ParseConfig(data []byte) (Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, errors.Wrap(err, "config decoding failed")
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// Validate checks every parameter that does not depend on the inputs.
func (c *Config) Validate() error {
	sc := c.samplerConfig()
	if err := sc.Validate(); err != nil {
		return violationErr(err, "invalid sampling config")
	}
	if c.MaskSize <= 0 {
		return violation("mask_size must be positive, got %d", c.MaskSize)
	}
	if c.NumClasses < 2 {
		return violation("num_classes must count background and at least one class, got %d", c.NumClasses)
	}
	return nil
}

// EffectiveClasses is the number of regression spans per region.
func (c *Config) EffectiveClasses() int {
	if c.ClassAgnostic {
		return 2
	}
	return c.NumClasses
}

func (c *Config) samplerConfig() sampler.Config {
	return sampler.Config{
		RoisPerImage:   c.RoisPerImage,
		FgRoisPerImage: c.FgRoisPerImage,
		FgThresh:       c.FgThresh,
		BgThreshHi:     c.BgThreshHi,
		BgThreshLo:     c.BgThreshLo,
		Subsample:      c.SubsamplingEnabled,
	}
}
