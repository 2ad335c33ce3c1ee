package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"hwstress/internal/cerrors"
	"hwstress/internal/fault"
	"hwstress/internal/scenario"
	"hwstress/internal/worker"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// FileConfig は設定ファイルの構造
type FileConfig struct {
	Run RunConfig `yaml:"run" json:"run"`
}

// RunConfig は実行全体の設定
type RunConfig struct {
	Name           string         `yaml:"name" json:"name"`
	Description    string         `yaml:"description" json:"description"`
	Duration       string         `yaml:"duration" json:"duration"`
	Intensity      int            `yaml:"intensity" json:"intensity"`
	SampleInterval string         `yaml:"sample_interval" json:"sample_interval"`
	Provider       string         `yaml:"provider" json:"provider"`
	DiskPath       string         `yaml:"disk_path" json:"disk_path"`
	Seed           int64          `yaml:"seed" json:"seed"`
	Workers        []WorkerConfig `yaml:"workers" json:"workers"`
	Faults         FaultsConfig   `yaml:"faults" json:"faults"`
}

// WorkerConfig はワーカー1台分の設定
// duration と intensity は省略時に全体の値を使う
type WorkerConfig struct {
	Kind           string            `yaml:"kind" json:"kind"`
	Name           string            `yaml:"name" json:"name"`
	Duration       string            `yaml:"duration" json:"duration"`
	Intensity      int               `yaml:"intensity" json:"intensity"`
	MonitorMetrics *bool             `yaml:"monitor_metrics" json:"monitor_metrics"`
	Params         map[string]string `yaml:"params" json:"params"`
}

// FaultsConfig は障害エンジンの設定
type FaultsConfig struct {
	Enabled          *bool         `yaml:"enabled" json:"enabled"`
	AutoRecovery     *bool         `yaml:"auto_recovery" json:"auto_recovery"`
	RecoveryWindow   string        `yaml:"recovery_window" json:"recovery_window"`
	ScanInterval     string        `yaml:"scan_interval" json:"scan_interval"`
	ScheduleInterval string        `yaml:"schedule_interval" json:"schedule_interval"`
	Inject           []FaultConfig `yaml:"inject" json:"inject"`
	Schedule         []FaultConfig `yaml:"schedule" json:"schedule"`
}

// FaultConfig は障害1件分の設定
type FaultConfig struct {
	Type        string            `yaml:"type" json:"type"`
	Target      string            `yaml:"target" json:"target"`
	Severity    string            `yaml:"severity" json:"severity"`
	Probability *float64          `yaml:"probability" json:"probability"`
	Duration    string            `yaml:"duration" json:"duration"`
	AutoRecover *bool             `yaml:"auto_recover" json:"auto_recover"`
	Params      map[string]string `yaml:"params" json:"params"`
}

// LoadFile は設定ファイルを読み込む
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config FileConfig
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}

	return &config, nil
}

// Validate は設定を検証する
func (f *FileConfig) Validate() error {
	_, err := f.ToScenarioConfig()
	return err
}

// ToScenarioConfig はFileConfigをscenario.Configに変換する
// 変換後の設定は scenario.Config.Validate を通過している
func (f *FileConfig) ToScenarioConfig() (scenario.Config, error) {
	rc := f.Run

	// デフォルト値の設定
	config := scenario.DefaultConfig()

	if rc.Name != "" {
		config.Name = rc.Name
	}
	if rc.Description != "" {
		config.Description = rc.Description
	}
	if err := positiveDuration("duration", rc.Duration, &config.Duration); err != nil {
		return config, err
	}
	if rc.Intensity != 0 {
		config.Intensity = rc.Intensity
	}
	if err := positiveDuration("sample_interval", rc.SampleInterval, &config.SampleInterval); err != nil {
		return config, err
	}
	if rc.Provider != "" {
		config.Provider = strings.ToLower(rc.Provider)
	}
	if rc.DiskPath != "" {
		config.DiskPath = rc.DiskPath
	}
	config.Seed = rc.Seed

	// Worker設定
	if len(rc.Workers) > 0 {
		config.Workers = make([]scenario.WorkerSpec, 0, len(rc.Workers))
	}
	for i, wc := range rc.Workers {
		spec, err := wc.toSpec(fmt.Sprintf("workers[%d]", i))
		if err != nil {
			return config, err
		}
		config.Workers = append(config.Workers, spec)
	}

	// Fault設定
	fc := rc.Faults
	if fc.Enabled != nil {
		config.EnableFaults = *fc.Enabled
	}
	if fc.AutoRecovery != nil {
		config.AutoRecovery = *fc.AutoRecovery
	}
	if err := positiveDuration("faults.recovery_window", fc.RecoveryWindow, &config.RecoveryWindow); err != nil {
		return config, err
	}
	if err := positiveDuration("faults.scan_interval", fc.ScanInterval, &config.ScanInterval); err != nil {
		return config, err
	}
	if fc.ScheduleInterval != "" {
		d, err := time.ParseDuration(fc.ScheduleInterval)
		if err != nil || d < 0 {
			return config, cerrors.Configuration{Field: "faults.schedule_interval", Reason: fmt.Sprintf("invalid duration %q", fc.ScheduleInterval)}
		}
		config.ScheduleInterval = d
	}

	var err error
	if config.Faults, err = toFaults("faults.inject", fc.Inject); err != nil {
		return config, err
	}
	if config.ScheduledFaults, err = toFaults("faults.schedule", fc.Schedule); err != nil {
		return config, err
	}

	if err := config.Validate(); err != nil {
		return config, errors.Wrap(err, "invalid run configuration")
	}
	return config, nil
}

func (wc WorkerConfig) toSpec(field string) (scenario.WorkerSpec, error) {
	kind, err := worker.ParseKind(wc.Kind)
	if err != nil {
		return scenario.WorkerSpec{}, errors.Wrap(err, field)
	}

	spec := scenario.WorkerSpec{
		Kind:           kind,
		Name:           wc.Name,
		Intensity:      wc.Intensity,
		MonitorMetrics: true,
		Params:         wc.Params,
	}
	if wc.MonitorMetrics != nil {
		spec.MonitorMetrics = *wc.MonitorMetrics
	}
	if err := positiveDuration(field+".duration", wc.Duration, &spec.Duration); err != nil {
		return spec, err
	}
	return spec, nil
}

// ToFault は文字列の障害設定を fault.Config に変換して検証する
// severity 省略時は MEDIUM
func (c FaultConfig) ToFault() (fault.Config, error) {
	t, err := fault.ParseType(c.Type)
	if err != nil {
		return fault.Config{}, err
	}
	sev := fault.SeverityMedium
	if c.Severity != "" {
		if sev, err = fault.ParseSeverity(c.Severity); err != nil {
			return fault.Config{}, err
		}
	}

	fc := fault.NewConfig(t, c.Target, sev)
	if c.Probability != nil {
		fc.Probability = *c.Probability
	}
	if c.AutoRecover != nil {
		fc.AutoRecover = *c.AutoRecover
	}
	if err := positiveDuration("duration", c.Duration, &fc.Duration); err != nil {
		return fault.Config{}, err
	}
	fc.Params = c.Params

	if err := fc.Validate(); err != nil {
		return fault.Config{}, err
	}
	return fc, nil
}

func toFaults(field string, in []FaultConfig) ([]fault.Config, error) {
	var out []fault.Config
	for i, c := range in {
		fc, err := c.ToFault()
		if err != nil {
			return nil, errors.Wrapf(err, "%s[%d]", field, i)
		}
		out = append(out, fc)
	}
	return out, nil
}

// positiveDuration は空でなければ s を正の時間として dst に格納する
func positiveDuration(field, s string, dst *time.Duration) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return cerrors.Configuration{Field: field, Reason: err.Error()}
	}
	if d <= 0 {
		return cerrors.Configuration{Field: field, Reason: fmt.Sprintf("must be positive, got %v", d)}
	}
	*dst = d
	return nil
}
