package fault

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"hwstress/internal/cerrors"
)

// Type は障害の種類を表す
type Type string

const (
	TypeMemoryCorruption  Type = "MEMORY_CORRUPTION"
	TypeCPUOverload       Type = "CPU_OVERLOAD"
	TypeDiskIOError       Type = "DISK_IO_ERROR"
	TypeNetworkPacketLoss Type = "NETWORK_PACKET_LOSS"
	TypeTimingAnomaly     Type = "TIMING_ANOMALY"
	TypeProcessKill       Type = "PROCESS_KILL"
	TypeSystemCallFailure Type = "SYSTEM_CALL_FAILURE"
	TypeCustom            Type = "CUSTOM_FAULT"
)

// Types は全ての障害タイプを返す
func Types() []Type {
	return []Type{
		TypeMemoryCorruption, TypeCPUOverload, TypeDiskIOError, TypeNetworkPacketLoss,
		TypeTimingAnomaly, TypeProcessKill, TypeSystemCallFailure, TypeCustom,
	}
}

// ParseType は "cpu_overload" や "CPU_OVERLOAD" を解析する
func ParseType(s string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Types() {
		if t == known {
			return t, nil
		}
	}
	return "", cerrors.Configuration{Field: "type", Reason: fmt.Sprintf("unknown fault type %q", s)}
}

// Simulated は実際の副作用を持たない種類かどうかを返す
func (t Type) Simulated() bool {
	switch t {
	case TypeProcessKill, TypeSystemCallFailure, TypeCustom:
		return true
	default:
		return false
	}
}

// Severity は障害の強さ
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// ParseSeverity は重大度を解析する
func ParseSeverity(s string) (Severity, error) {
	switch sev := Severity(strings.ToUpper(strings.TrimSpace(s))); sev {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return sev, nil
	default:
		return "", cerrors.Configuration{Field: "severity", Reason: fmt.Sprintf("unknown severity %q", s)}
	}
}

// level は LOW=0 から CRITICAL=3
func (s Severity) level() int {
	switch s {
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

var (
	// ErrSkipped は確率判定で注入が見送られたことを表す
	ErrSkipped = errors.New("fault injection skipped by probability")
	// ErrDuplicateFault は同じ対象・種類の障害が既に有効なことを表す
	ErrDuplicateFault = errors.New("fault already active for target")
	// ErrNotActive は対象の障害が有効でないことを表す
	ErrNotActive = errors.New("fault not active")
)

// Config は1回の注入設定
type Config struct {
	Type        Type              `json:"type"`
	Severity    Severity          `json:"severity"`
	Target      string            `json:"target"`
	Duration    time.Duration     `json:"duration"` // 0 ならエンジンの復旧ウィンドウを使う
	Probability float64           `json:"probability"`
	Params      map[string]string `json:"params,omitempty"`
	AutoRecover bool              `json:"auto_recover"`
}

// NewConfig は確率 1.0、自動復旧ありの設定を返す
func NewConfig(t Type, target string, severity Severity) Config {
	return Config{
		Type:        t,
		Severity:    severity,
		Target:      target,
		Probability: 1.0,
		AutoRecover: true,
	}
}

// Validate は設定を検証する
func (c Config) Validate() error {
	if _, err := ParseType(string(c.Type)); err != nil {
		return err
	}
	if _, err := ParseSeverity(string(c.Severity)); err != nil {
		return err
	}
	if c.Target == "" {
		return cerrors.Configuration{Field: "target", Reason: "fault target must not be empty"}
	}
	if c.Probability < 0 || c.Probability > 1 {
		return cerrors.Configuration{Field: "probability", Reason: fmt.Sprintf("must be within [0,1], got %v", c.Probability)}
	}
	if c.Duration < 0 {
		return cerrors.Configuration{Field: "duration", Reason: "must not be negative"}
	}
	return nil
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

// Record は1回の注入とその復旧の記録
type Record struct {
	ID           string        `json:"id"`
	Type         Type          `json:"type"`
	Target       string        `json:"target"`
	Severity     Severity      `json:"severity"`
	Success      bool          `json:"success"`
	ErrorMessage string        `json:"error_message,omitempty"`
	InjectedAt   time.Time     `json:"injected_at"`
	RecoveredAt  time.Time     `json:"recovered_at,omitzero"`
	Duration     time.Duration `json:"duration"`
	AutoRecover  bool          `json:"auto_recover"`
}

// IsRecovered は復旧済みかどうかを返す
func (r Record) IsRecovered() bool {
	return !r.RecoveredAt.IsZero()
}

// Stats は注入の統計
type Stats struct {
	Injected  uint64            `json:"injected"`
	Skipped   uint64            `json:"skipped"`
	Failed    uint64            `json:"failed"`
	Duplicate uint64            `json:"duplicate"`
	Recovered uint64            `json:"recovered"`
	Active    int               `json:"active"`
	ByType    map[string]uint64 `json:"injected_by_type"`
}

type key struct {
	target string
	typ    Type
}
