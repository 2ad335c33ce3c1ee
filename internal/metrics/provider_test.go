package metrics

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyntheticSeededIsDeterministic(t *testing.T) {
	a := NewSynthetic(7)
	b := NewSynthetic(7)

	for range 20 {
		sa, sb := a.next(), b.next()
		assert.Equal(t, sa.CPUUsage, sb.CPUUsage)
		assert.Equal(t, sa.MemoryUsage, sb.MemoryUsage)
		assert.Equal(t, sa.Temperature, sb.Temperature)
	}
}

func TestSyntheticRanges(t *testing.T) {
	p := NewSynthetic(1)

	for range 500 {
		s := p.Current()
		assert.GreaterOrEqual(t, s.CPUUsage, 10.0)
		assert.LessOrEqual(t, s.CPUUsage, 90.0)
		assert.GreaterOrEqual(t, s.MemoryUsage, 20.0)
		assert.LessOrEqual(t, s.MemoryUsage, 80.0)
		assert.GreaterOrEqual(t, s.Temperature, 30.0)
		assert.LessOrEqual(t, s.Temperature, 70.0)
		assert.Less(t, s.AvailableMemory, s.TotalMemory)
		assert.False(t, s.IsZero())
	}
}

func TestSyntheticSampling(t *testing.T) {
	p := NewSynthetic(3)

	var count atomic.Int32
	p.OnSample(func(Snapshot) { count.Add(1) })

	p.StartSampling(10 * time.Millisecond)
	p.StartSampling(10 * time.Millisecond) // no-op
	assert.True(t, p.IsSampling())

	time.Sleep(80 * time.Millisecond)
	p.StopSampling()
	p.StopSampling() // no-op

	assert.False(t, p.IsSampling())
	got := count.Load()
	assert.GreaterOrEqual(t, got, int32(3))

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, got, count.Load(), "no samples after stop")
}

func TestMaxOf(t *testing.T) {
	t0 := time.Now()
	peak := MaxOf(Snapshot{}, Snapshot{CPUUsage: 20, MemoryUsage: 50, Timestamp: t0})
	assert.Equal(t, 20.0, peak.CPUUsage)

	t1 := t0.Add(time.Second)
	peak = MaxOf(peak, Snapshot{CPUUsage: 40, MemoryUsage: 30, Timestamp: t1})
	assert.Equal(t, 40.0, peak.CPUUsage)
	assert.Equal(t, 50.0, peak.MemoryUsage)
	assert.Equal(t, t1, peak.Timestamp)

	peak = MaxOf(peak, Snapshot{CPUUsage: 1, Timestamp: t1.Add(time.Second)})
	assert.Equal(t, t1, peak.Timestamp, "timestamp only moves when a maximum changes")
}

func TestHistoryEvictsOldest(t *testing.T) {
	h := NewHistory(3)
	base := time.Now()
	for i := range 5 {
		h.Append(Snapshot{CPUUsage: float64(i), Timestamp: base.Add(time.Duration(i) * time.Second)})
	}

	snaps := h.Snapshots()
	require.Len(t, snaps, 3)
	assert.Equal(t, 2.0, snaps[0].CPUUsage)
	assert.Equal(t, 4.0, snaps[2].CPUUsage)

	latest, ok := h.Latest()
	require.True(t, ok)
	assert.Equal(t, 4.0, latest.CPUUsage)

	h.Clear()
	assert.Equal(t, 0, h.Len())
	_, ok = h.Latest()
	assert.False(t, ok)
}

func TestHistoryDefaultCapacity(t *testing.T) {
	h := NewHistory(0)
	assert.Equal(t, DefaultHistorySize, h.Cap())

	for range DefaultHistorySize + 10 {
		h.Append(Snapshot{Timestamp: time.Now()})
	}
	assert.Equal(t, DefaultHistorySize, h.Len())
}

func TestSummarize(t *testing.T) {
	snaps := []Snapshot{
		{CPUUsage: 10, MemoryUsage: 40, DiskUsage: 50, Temperature: 30},
		{CPUUsage: 30, MemoryUsage: 60, DiskUsage: 50, Temperature: 50},
	}
	s := Summarize(snaps)

	assert.Equal(t, 2, s.Samples)
	assert.InDelta(t, 20.0, s.AvgCPU, 1e-9)
	assert.InDelta(t, 30.0, s.MaxCPU, 1e-9)
	assert.InDelta(t, 50.0, s.AvgMemory, 1e-9)
	assert.InDelta(t, 50.0, s.MaxTemperature, 1e-9)
	assert.Contains(t, s.String(), "CPU: avg=20.0%, max=30.0%")

	assert.Equal(t, "No metrics collected.", Summarize(nil).String())
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	snaps := []Snapshot{
		{CPUUsage: 12.346, MemoryUsage: 50, TotalMemory: 1024, AvailableMemory: 512, Timestamp: time.Now()},
		{CPUUsage: 20, MemoryUsage: 55, TotalMemory: 1024, AvailableMemory: 400, Timestamp: time.Now()},
	}
	require.NoError(t, WriteCSV(&buf, snaps))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "12.35", rows[1][1])
	assert.Equal(t, "512", rows[1][6])

	buf.Reset()
	require.NoError(t, WriteCSV(&buf, nil))
	assert.Empty(t, buf.String())
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, []Snapshot{{CPUUsage: 42, Timestamp: time.Now()}}))

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, 42.0, decoded[0]["cpu_usage"])

	buf.Reset()
	require.NoError(t, WriteJSON(&buf, nil))
	assert.Equal(t, "[]", strings.TrimSpace(buf.String()))
}

func TestSystemProvider(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("system provider requires linux")
	}
	p, err := NewSystem("/")
	if err != nil {
		t.Skipf("procfs unavailable: %v", err)
	}

	s := p.Current()
	assert.False(t, s.IsZero())
	assert.GreaterOrEqual(t, s.CPUUsage, 0.0)
	assert.LessOrEqual(t, s.CPUUsage, 100.0)
	assert.Greater(t, s.TotalMemory, uint64(0))
	assert.GreaterOrEqual(t, s.DiskUsage, 0.0)
	assert.LessOrEqual(t, s.DiskUsage, 100.0)
}
