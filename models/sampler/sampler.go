// Package sampler - splits proposals into a fixed-size foreground/background/padding selection.
package sampler

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-masktarget/images"
)

// Shuffler is the randomness source used for subsampling. Both math/rand and
// math/rand/v2 *Rand satisfy it.
type Shuffler interface {
	Shuffle(n int, swap func(i, j int))
}

// NewRand returns a deterministic randomness source for the given seed.
//
// @example
// sel, err := s.Sample(matches, NewRand(42))
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Config defines the sampling thresholds and quotas.
type Config struct {
	// RoisPerImage is the exact length of the selection.
	RoisPerImage int
	// FgRoisPerImage caps the foreground count when Subsample is set.
	FgRoisPerImage int
	// FgThresh is the minimum overlap for foreground.
	FgThresh float32
	// BgThreshHi is the exclusive upper overlap bound of the background band.
	BgThreshHi float32
	// BgThreshLo is the inclusive lower overlap bound of the background band.
	BgThreshLo float32
	// Subsample caps and randomly subsamples the foreground pool.
	Subsample bool
}

// Validate checks that the quotas and thresholds are usable.
func (c Config) Validate() error {
	switch {
	case c.RoisPerImage <= 0:
		return errors.Errorf("rois_per_image must be positive, got %d", c.RoisPerImage)
	case c.FgRoisPerImage < 0:
		return errors.Errorf("fg_rois_per_image must not be negative, got %d", c.FgRoisPerImage)
	case c.FgRoisPerImage > c.RoisPerImage:
		return errors.Errorf("fg_rois_per_image %d exceeds rois_per_image %d", c.FgRoisPerImage, c.RoisPerImage)
	case c.FgThresh < 0 || c.BgThreshHi < 0 || c.BgThreshLo < 0:
		return errors.Errorf("thresholds must not be negative (fg %v, bg [%v, %v))", c.FgThresh, c.BgThreshLo, c.BgThreshHi)
	case c.BgThreshLo > c.BgThreshHi:
		return errors.Errorf("bg_thresh_lo %v exceeds bg_thresh_hi %v", c.BgThreshLo, c.BgThreshHi)
	}
	return nil
}

// Selection is the ordered output of a sampling pass.
type Selection struct {
	// Indices are proposal indices: foreground, then background, then padding.
	Indices []int
	// FgCount is the number of leading foreground entries.
	FgCount int
	// BgCount is the number of background-band entries after the foreground.
	BgCount int
	// PadCount is the number of trailing padding entries.
	PadCount int
}

// String formats the selection counts for debug output.
func (s *Selection) String() string {
	return fmt.Sprintf("fg %d bg %d pad %d", s.FgCount, s.BgCount, s.PadCount)
}

// Sampler draws fixed-size selections from matched proposals.
type Sampler struct {
	config Config
}

// NewSampler creates a sampler after validating its configuration.
//
// Arguments:
//   - config: Thresholds and quotas.
//
// Returns:
//   - The sampler.
//   - error if the configuration is invalid.
func NewSampler(config Config) (*Sampler, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Sampler{config: config}, nil
}

// Sample classifies every proposal by its best overlap and draws exactly
// RoisPerImage of them.
//
// Foreground (overlap >= FgThresh) is kept whole, or capped at
// FgRoisPerImage when subsampling; the kept foreground stays in ascending
// proposal order. The remaining slots go to the background
// band [BgThreshLo, BgThreshHi). Any shortfall is padded from candidate
// negatives (overlap < FgThresh) that were not already chosen. Pools larger
// than their quota are shuffled with rng and truncated; background and padding
// keep the shuffled order.
//
// Arguments:
//   - matches: The best ground-truth match of every proposal.
//   - rng: The randomness source for shuffles.
//
// Returns:
//   - The selection.
//   - error if the foreground alone exceeds RoisPerImage or too few negatives
//     remain to pad the selection.
//
// @example
// matches := images.ComputeOverlaps(proposals, gts).Argmax()
// sel, err := s.Sample(matches, NewRand(7))
//
//	if err != nil {
//	    return err
//	}
//
// fmt.Println(sel) // fg 32 bg 96 pad 0
func (s *Sampler) Sample(matches []images.Match, rng Shuffler) (*Selection, error) {
	cfg := s.config

	var fg, neg, bg []int
	for i, m := range matches {
		if m.IoU >= cfg.FgThresh {
			fg = append(fg, i)
			continue
		}
		neg = append(neg, i)
		if m.IoU >= cfg.BgThreshLo && m.IoU < cfg.BgThreshHi {
			bg = append(bg, i)
		}
	}

	fgQuota := len(fg)
	if cfg.Subsample {
		fgQuota = min(cfg.FgRoisPerImage, len(fg))
	}
	if fgQuota > cfg.RoisPerImage {
		return nil, errors.Errorf("%d foreground proposals exceed rois_per_image %d", fgQuota, cfg.RoisPerImage)
	}
	fg = shuffleTruncate(fg, fgQuota, rng)
	sort.Ints(fg)

	bg = shuffleTruncate(bg, min(cfg.RoisPerImage-len(fg), len(bg)), rng)

	sel := &Selection{
		Indices: make([]int, 0, cfg.RoisPerImage),
		FgCount: len(fg),
		BgCount: len(bg),
	}
	sel.Indices = append(sel.Indices, fg...)
	sel.Indices = append(sel.Indices, bg...)

	if gap := cfg.RoisPerImage - len(sel.Indices); gap > 0 {
		chosen := make(map[int]struct{}, len(bg))
		for _, i := range bg {
			chosen[i] = struct{}{}
		}
		pool := make([]int, 0, len(neg))
		for _, i := range neg {
			if _, ok := chosen[i]; !ok {
				pool = append(pool, i)
			}
		}
		if len(pool) < gap {
			return nil, errors.Errorf("need %d padding proposals, only %d unselected negatives available", gap, len(pool))
		}

		rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
		sel.Indices = append(sel.Indices, pool[:gap]...)
		sel.PadCount = gap
	}

	return sel, nil
}

// shuffleTruncate keeps n entries of pool, shuffling first when pool is larger.
func shuffleTruncate(pool []int, n int, rng Shuffler) []int {
	if len(pool) <= n {
		return pool
	}
	rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	return pool[:n]
}
