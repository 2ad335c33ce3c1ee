package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Iterations はワーカーのイテレーション統計を収集する
type Iterations struct {
	total         atomic.Uint64
	succeeded     atomic.Uint64
	failed        atomic.Uint64
	totalDuration atomic.Uint64

	mu                sync.RWMutex
	latencies         []time.Duration
	maxLatencySamples int
}

// NewIterations は新しい統計を作成する
func NewIterations() *Iterations {
	return &Iterations{
		latencies:         make([]time.Duration, 0, 1000),
		maxLatencySamples: 1000,
	}
}

// RecordSuccess は成功したイテレーションを記録する
func (m *Iterations) RecordSuccess(d time.Duration) {
	m.total.Add(1)
	m.succeeded.Add(1)
	m.totalDuration.Add(uint64(d.Nanoseconds()))

	m.mu.Lock()
	if len(m.latencies) < m.maxLatencySamples {
		m.latencies = append(m.latencies, d)
	}
	m.mu.Unlock()
}

// RecordFailure は失敗したイテレーションを記録する
func (m *Iterations) RecordFailure(d time.Duration) {
	m.total.Add(1)
	m.failed.Add(1)
	m.totalDuration.Add(uint64(d.Nanoseconds()))
}

// Total は総イテレーション数を返す
func (m *Iterations) Total() uint64 {
	return m.total.Load()
}

// Succeeded は成功数を返す
func (m *Iterations) Succeeded() uint64 {
	return m.succeeded.Load()
}

// Failed は失敗数を返す
func (m *Iterations) Failed() uint64 {
	return m.failed.Load()
}

// AverageLatency は平均所要時間を返す
func (m *Iterations) AverageLatency() time.Duration {
	total := m.total.Load()
	if total == 0 {
		return 0
	}
	return time.Duration(m.totalDuration.Load() / total)
}

// P99Latency はP99所要時間を返す（サンプルベース）
func (m *Iterations) P99Latency() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.latencies) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(m.latencies))
	copy(sorted, m.latencies)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	idx := int(float64(len(sorted)) * 0.99)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// ErrorRate はエラー率を返す（0.0〜1.0）
func (m *Iterations) ErrorRate() float64 {
	total := m.total.Load()
	if total == 0 {
		return 0
	}
	return float64(m.failed.Load()) / float64(total)
}

// Reset は全ての統計をリセットする
func (m *Iterations) Reset() {
	m.total.Store(0)
	m.succeeded.Store(0)
	m.failed.Store(0)
	m.totalDuration.Store(0)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies = m.latencies[:0]
}
