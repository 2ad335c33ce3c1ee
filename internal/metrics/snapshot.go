package metrics

import "time"

// DefaultSampleInterval はサンプリング間隔の既定値
const DefaultSampleInterval = 100 * time.Millisecond

// DefaultHistorySize は履歴の既定の上限
const DefaultHistorySize = 1000

// Snapshot はある時点のシステムメトリクス
// 生成後に変更されることはない
type Snapshot struct {
	CPUUsage        float64   `json:"cpu_usage"`    // %
	MemoryUsage     float64   `json:"memory_usage"` // %
	DiskUsage       float64   `json:"disk_usage"`   // %
	Temperature     float64   `json:"temperature"`  // ℃
	TotalMemory     uint64    `json:"total_memory"` // bytes
	AvailableMemory uint64    `json:"available_memory"`
	Timestamp       time.Time `json:"timestamp"`
}

// IsZero はサンプルが未取得かどうかを返す
func (s Snapshot) IsZero() bool {
	return s.Timestamp.IsZero()
}

// MaxOf は項目ごとの最大値を取ったスナップショットを返す
func MaxOf(peak, s Snapshot) Snapshot {
	if peak.IsZero() {
		return s
	}
	out := peak
	updated := false
	if s.CPUUsage > out.CPUUsage {
		out.CPUUsage = s.CPUUsage
		updated = true
	}
	if s.MemoryUsage > out.MemoryUsage {
		out.MemoryUsage = s.MemoryUsage
		out.AvailableMemory = s.AvailableMemory
		updated = true
	}
	if s.DiskUsage > out.DiskUsage {
		out.DiskUsage = s.DiskUsage
		updated = true
	}
	if s.Temperature > out.Temperature {
		out.Temperature = s.Temperature
		updated = true
	}
	if s.TotalMemory > out.TotalMemory {
		out.TotalMemory = s.TotalMemory
	}
	if updated {
		out.Timestamp = s.Timestamp
	}
	return out
}

// Provider はシステムメトリクスの供給元
type Provider interface {
	// StartSampling は interval ごとのサンプリングを開始する
	StartSampling(interval time.Duration)
	// StopSampling はサンプリングを停止する
	StopSampling()
	// OnSample はサンプル取得ごとに呼ばれるハンドラを登録する
	OnSample(fn func(Snapshot))
	// Current は最新のサンプルを返す
	Current() Snapshot
}
