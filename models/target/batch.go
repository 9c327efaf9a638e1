package target

import (
	"fmt"
	"sync"

	"github.com/nvr-ai/go-masktarget/models/sampler"
)

// Item is one batch element with its own buffers and seed.
type Item struct {
	Inputs  *Inputs
	Outputs *Outputs
	// Seed feeds the element's private randomness source.
	Seed uint64
}

// BatchCompute runs Compute for every item concurrently. Each item gets its
// own randomness source seeded from Item.Seed, so results do not depend on
// scheduling.
//
// Arguments:
//   - items: The batch elements.
//   - maxConcurrency: Maximum number of items computed at once.
//
// Returns:
//   - One result per item, in order.
//   - The error of the lowest-indexed failing item, if any.
//
// @example
//
//	items := []Item{
//	    {Inputs: in0, Outputs: NewOutputs(config), Seed: 1},
//	    {Inputs: in1, Outputs: NewOutputs(config), Seed: 2},
//	}
//
// results, err := computer.BatchCompute(items, 4)
func (c *Computer) BatchCompute(items []Item, maxConcurrency int) ([]*Result, error) {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	results := make([]*Result, len(items))
	errs := make([]error, len(items))

	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup

	for i, item := range items {
		wg.Add(1)
		go func(idx int, item Item) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			result, err := c.Compute(item.Inputs, item.Outputs, sampler.NewRand(item.Seed))
			if err != nil {
				errs[idx] = fmt.Errorf("failed to compute targets for item %d: %w", idx, err)
				return
			}
			results[idx] = result
		}(i, item)
	}

	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	return results, nil
}
