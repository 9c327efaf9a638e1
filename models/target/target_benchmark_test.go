package target

import (
	"testing"

	"github.com/nvr-ai/go-masktarget/models/sampler"
)

func BenchmarkCompute(b *testing.B) {
	config := DefaultConfig()
	config.NumClasses = 4
	c, err := NewComputer(config)
	if err != nil {
		b.Fatal(err)
	}
	in := randomInputs(9, 2000, 3, 4)
	out := NewOutputs(config)
	rng := sampler.NewRand(9)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		out.Reset()
		if _, err := c.Compute(in, out, rng); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkBatchCompute(b *testing.B) {
	config := DefaultConfig()
	config.NumClasses = 4
	c, err := NewComputer(config)
	if err != nil {
		b.Fatal(err)
	}

	items := make([]Item, 8)
	for i := range items {
		items[i] = Item{Inputs: randomInputs(uint64(i), 2000, 3, 4), Outputs: NewOutputs(config), Seed: uint64(i)}
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, item := range items {
			item.Outputs.Reset()
		}
		if _, err := c.BatchCompute(items, 4); err != nil {
			b.Fatal(err)
		}
	}
}
