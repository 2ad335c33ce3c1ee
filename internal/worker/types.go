package worker

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"hwstress/internal/cerrors"
	"hwstress/internal/logger"
	"hwstress/internal/metrics"
)

// Kind はワーカーが負荷をかける資源の種類
type Kind string

const (
	KindCPU     Kind = "cpu"
	KindMemory  Kind = "memory"
	KindDisk    Kind = "disk"
	KindGPU     Kind = "gpu"
	KindNetwork Kind = "network"
)

// Kinds は全ての種類を返す
func Kinds() []Kind {
	return []Kind{KindCPU, KindMemory, KindDisk, KindGPU, KindNetwork}
}

// ParseKind は文字列から Kind を解析する
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds() {
		if k == known {
			return k, nil
		}
	}
	return "", cerrors.Configuration{Field: "kind", Reason: fmt.Sprintf("unknown worker kind %q", s)}
}

// Status はワーカーの状態
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusRunning     Status = "RUNNING"
	StatusCompleted   Status = "COMPLETED"
	StatusFailed      Status = "FAILED"
	StatusTimeout     Status = "TIMEOUT"
	StatusInterrupted Status = "INTERRUPTED"
)

// IsTerminal は終了状態かどうかを返す
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusInterrupted:
		return true
	default:
		return false
	}
}

// 既定値
const (
	DefaultDuration     = 5 * time.Minute
	DefaultIntensity    = 5
	MinIntensity        = 1
	MaxIntensity        = 10
	DefaultStopGrace    = 5 * time.Second
	errorCountThreshold = 10
)

// Config はワーカー1回の実行設定
// 実行開始後は値としてコピーされ、変更されない
type Config struct {
	Kind           Kind              `json:"kind"`
	Name           string            `json:"name"`
	Duration       time.Duration     `json:"duration"`
	Intensity      int               `json:"intensity"`
	MonitorMetrics bool              `json:"monitor_metrics"`
	SampleInterval time.Duration     `json:"sample_interval,omitempty"`
	Params         map[string]string `json:"params,omitempty"`
}

// DefaultConfig は種類ごとのデフォルト設定を返す
func DefaultConfig(kind Kind, name string) Config {
	return Config{
		Kind:           kind,
		Name:           name,
		Duration:       DefaultDuration,
		Intensity:      DefaultIntensity,
		MonitorMetrics: true,
		SampleInterval: metrics.DefaultSampleInterval,
	}
}

// Clone は Params を含めてコピーする
func (c Config) Clone() Config {
	out := c
	if c.Params != nil {
		out.Params = make(map[string]string, len(c.Params))
		for k, v := range c.Params {
			out.Params[k] = v
		}
	}
	return out
}

// Param はパラメータを返す（未設定なら def）
func (c Config) Param(key, def string) string {
	if v, ok := c.Params[key]; ok && v != "" {
		return v
	}
	return def
}

// Validate は設定を検証する
func (c Config) Validate() error {
	if c.Name == "" {
		return cerrors.Configuration{Field: "name", Reason: "worker name must not be empty"}
	}
	if _, err := ParseKind(string(c.Kind)); err != nil {
		return err
	}
	if c.Duration <= 0 {
		return cerrors.Configuration{Field: "duration", Reason: fmt.Sprintf("must be positive, got %v", c.Duration)}
	}
	if c.Intensity < MinIntensity || c.Intensity > MaxIntensity {
		return cerrors.Configuration{Field: "intensity", Reason: fmt.Sprintf("must be %d-%d, got %d", MinIntensity, MaxIntensity, c.Intensity)}
	}
	if c.SampleInterval < 0 {
		return cerrors.Configuration{Field: "sample_interval", Reason: "must not be negative"}
	}
	return nil
}

// Result はワーカー1回の実行結果
type Result struct {
	Kind                Kind               `json:"kind"`
	Name                string             `json:"name"`
	Status              Status             `json:"status"`
	Elapsed             time.Duration      `json:"elapsed"`
	ErrorMessage        string             `json:"error_message,omitempty"`
	Baseline            metrics.Snapshot   `json:"baseline"`
	Peak                metrics.Snapshot   `json:"peak"`
	MetricsHistory      []metrics.Snapshot `json:"metrics_history,omitempty"`
	OperationsCompleted uint64             `json:"operations_completed"`
	ErrorsEncountered   uint64             `json:"errors_encountered"`
	AvgIteration        time.Duration      `json:"avg_iteration"`
	P99Iteration        time.Duration      `json:"p99_iteration"`
	StartedAt           time.Time          `json:"started_at"`
	FinishedAt          time.Time          `json:"finished_at"`
}

// ProgressFunc は進捗（0.0〜1.0）の通知を受け取る
type ProgressFunc func(name string, progress float64)

// Worker は一つの資源に負荷をかける長時間実行ユニット
type Worker interface {
	Name() string
	Kind() Kind
	Config() Config
	SetConfig(cfg Config) error
	SetProvider(p metrics.Provider)
	SetProgressFunc(fn ProgressFunc)
	SetLogger(l *logger.Logger)

	Start()
	Stop()
	Interrupt()
	Wait(ctx context.Context) error
	IsRunning() bool
	Status() Status
	Result() Result
}

// Goroutines は種類と強度からゴルーチン数を決める
func Goroutines(kind Kind, intensity int) int {
	intensity = max(MinIntensity, min(MaxIntensity, intensity))
	cpus := runtime.NumCPU()

	switch kind {
	case KindCPU, KindGPU:
		return max(1, min(cpus, intensity*2))
	case KindMemory:
		return max(1, min(4, cpus, intensity))
	case KindDisk:
		return min(2, intensity)
	case KindNetwork:
		return max(1, min(4, intensity))
	default:
		return 1
	}
}
