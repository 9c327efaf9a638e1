package profiler

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordMetric(t *testing.T) {
	p := NewProfiler()
	p.RecordMetric("fg", 4)
	p.RecordMetric("fg", 2)
	p.RecordMetric("fg", 6)
	p.RecordMetric("bg", 10)

	stats := p.Metrics()
	require.Len(t, stats, 2)
	assert.Equal(t, Stats{Name: "bg", Avg: 10, Min: 10, Max: 10, Count: 1}, stats[0])
	assert.Equal(t, Stats{Name: "fg", Avg: 4, Min: 2, Max: 6, Count: 3}, stats[1])
}

func TestRecordDuration(t *testing.T) {
	p := NewProfiler()
	p.RecordDuration("compute", 2*time.Millisecond)
	p.RecordDuration("compute", 4*time.Millisecond)

	stats := p.Operations()
	require.Len(t, stats, 1)
	assert.Equal(t, "compute", stats[0].Name)
	assert.InDelta(t, 0.003, stats[0].Avg, 1e-9)
	assert.InDelta(t, 0.002, stats[0].Min, 1e-9)
	assert.InDelta(t, 0.004, stats[0].Max, 1e-9)
	assert.Equal(t, int64(2), stats[0].Count)
}

func TestStartOperation_Concurrent(t *testing.T) {
	p := NewProfiler()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			done := p.StartOperation("compute")
			p.RecordMetric("regions", 512)
			done()
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(16), p.Operations()[0].Count)
	assert.Equal(t, int64(16), p.Metrics()[0].Count)
}

func TestReport(t *testing.T) {
	p := NewProfiler()
	p.RecordDuration("compute", time.Millisecond)
	p.RecordMetric("fg", 3)

	var buf bytes.Buffer
	p.Report(&buf)

	out := buf.String()
	assert.Contains(t, out, "OPERATION TIMINGS")
	assert.Contains(t, out, "compute: avg=1ms")
	assert.Contains(t, out, "fg: avg=3.00, min=3.00, max=3.00, samples=1")
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.5 KB", formatBytes(1536))
	assert.Equal(t, "2.0 MB", formatBytes(2*1024*1024))
}
