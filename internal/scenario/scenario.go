package scenario

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"hwstress/internal/cerrors"
	"hwstress/internal/events"
	"hwstress/internal/fault"
	"hwstress/internal/logger"
	"hwstress/internal/metrics"
	"hwstress/internal/orchestrator"
	"hwstress/internal/telemetry"
	"hwstress/internal/worker"
)

const component = "scenario"

// 供給元の種類
const (
	ProviderSynthetic = "synthetic"
	ProviderSystem    = "system"
)

// WorkerSpec はシナリオ内の1ワーカーの定義
type WorkerSpec struct {
	Kind           worker.Kind       // 種類
	Name           string            // 空なら kind-連番
	Duration       time.Duration     // 0 ならグローバル値
	Intensity      int               // 0 ならグローバル値
	MonitorMetrics bool              // メトリクス記録
	Params         map[string]string // 種類ごとのパラメータ
}

// Config はシナリオの設定
type Config struct {
	Name        string        // シナリオ名
	Description string        // 説明
	Duration    time.Duration // グローバル実行時間
	Intensity   int           // グローバル強度

	// メトリクス設定
	Provider       string        // synthetic | system
	SampleInterval time.Duration // 供給元のサンプリング間隔
	Seed           int64         // synthetic の乱数シード（0 で時刻）
	DiskPath       string        // system のディスク使用率の対象

	Workers []WorkerSpec

	// 障害設定
	EnableFaults     bool
	AutoRecovery     bool
	RecoveryWindow   time.Duration
	ScanInterval     time.Duration
	Faults           []fault.Config // 開始時に順に注入する
	ScheduleInterval time.Duration  // 0 で定期注入なし
	ScheduledFaults  []fault.Config // 空なら Faults から選ぶ
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Name:           "default",
		Description:    "Default scenario",
		Duration:       30 * time.Second,
		Intensity:      worker.DefaultIntensity,
		Provider:       ProviderSynthetic,
		SampleInterval: 500 * time.Millisecond,
		DiskPath:       "/",
		Workers: []WorkerSpec{
			{Kind: worker.KindCPU, MonitorMetrics: true},
			{Kind: worker.KindMemory, MonitorMetrics: true},
		},
		EnableFaults:   true,
		AutoRecovery:   true,
		RecoveryWindow: fault.DefaultRecoveryWindow,
		ScanInterval:   fault.DefaultScanInterval,
	}
}

// Validate は設定を検証する
func (c Config) Validate() error {
	if c.Duration <= 0 {
		return cerrors.Configuration{Field: "duration", Reason: fmt.Sprintf("must be positive, got %v", c.Duration)}
	}
	if c.Intensity < worker.MinIntensity || c.Intensity > worker.MaxIntensity {
		return cerrors.Configuration{Field: "intensity", Reason: fmt.Sprintf("must be %d-%d, got %d", worker.MinIntensity, worker.MaxIntensity, c.Intensity)}
	}
	switch c.Provider {
	case "", ProviderSynthetic, ProviderSystem:
	default:
		return cerrors.Configuration{Field: "provider", Reason: fmt.Sprintf("unknown provider %q", c.Provider)}
	}
	if len(c.Workers) == 0 {
		return cerrors.Configuration{Field: "workers", Reason: "at least one worker is required"}
	}
	for i, w := range c.Workers {
		if _, err := worker.ParseKind(string(w.Kind)); err != nil {
			return err
		}
		if w.Duration < 0 {
			return cerrors.Configuration{Field: fmt.Sprintf("workers[%d].duration", i), Reason: "must not be negative"}
		}
		if w.Intensity != 0 && (w.Intensity < worker.MinIntensity || w.Intensity > worker.MaxIntensity) {
			return cerrors.Configuration{Field: fmt.Sprintf("workers[%d].intensity", i), Reason: fmt.Sprintf("must be %d-%d, got %d", worker.MinIntensity, worker.MaxIntensity, w.Intensity)}
		}
	}
	for _, f := range append(append([]fault.Config{}, c.Faults...), c.ScheduledFaults...) {
		if err := f.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Result はシナリオ実行結果
type Result struct {
	ScenarioName string
	RunID        string
	StartTime    time.Time
	EndTime      time.Time
	Duration     time.Duration

	Workers []worker.Result

	// 障害統計
	FaultStats   fault.Stats
	FaultHistory []fault.Record

	// 供給元のサンプル
	Metrics []metrics.Snapshot
	Summary metrics.Summary
}

// Passed は全ワーカーが COMPLETED で終わったかを返す
func (r *Result) Passed() bool {
	if len(r.Workers) == 0 {
		return false
	}
	for _, w := range r.Workers {
		if w.Status != worker.StatusCompleted {
			return false
		}
	}
	return true
}

// Status は実行中のシナリオの状態
type Status struct {
	Running      bool             `json:"running"`
	ScenarioName string           `json:"scenario"`
	RunID        string           `json:"run_id,omitempty"`
	StartTime    time.Time        `json:"start_time,omitzero"`
	Workers      []worker.Result  `json:"workers"`
	ActiveFaults []fault.Record   `json:"active_faults"`
	FaultStats   fault.Stats      `json:"fault_stats"`
	Metrics      metrics.Snapshot `json:"metrics"`

	AutoRecovery   bool          `json:"auto_recovery"`
	RecoveryWindow time.Duration `json:"recovery_window,omitempty"`
}

// Engine はシナリオ実行エンジン
type Engine struct {
	config   Config
	eventBus *events.Bus
	log      *logger.Logger
	telem    *telemetry.Metrics

	mu       sync.RWMutex
	running  bool
	runID    string
	started  time.Time
	provider metrics.Provider
	orch     *orchestrator.Orchestrator
	faults   *fault.Engine
	history  *metrics.History
}

// New は新しいEngineを作成する
func New(config Config) *Engine {
	return &Engine{
		config: config,
	}
}

// SetEventBus はイベントバスを設定する
func (e *Engine) SetEventBus(bus *events.Bus) {
	e.eventBus = bus
}

// SetLogger はロガーを設定する
func (e *Engine) SetLogger(l *logger.Logger) {
	e.log = l
}

// SetMetrics は Prometheus コレクタを設定する
func (e *Engine) SetMetrics(m *telemetry.Metrics) {
	e.telem = m
}

// Config はシナリオ設定を返す
func (e *Engine) Config() Config {
	return e.config
}

func (e *Engine) publish(ev events.Event) {
	e.eventBus.Publish(ev)
}

// Run はシナリオを実行する
// 全ワーカーが終わるか ctx がキャンセルされるまでブロックする
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if err := e.config.Validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, fmt.Errorf("scenario is already running")
	}
	e.running = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	result := &Result{
		ScenarioName: e.config.Name,
		RunID:        uuid.NewString(),
		StartTime:    time.Now(),
	}

	e.log.Info(component, "=== Scenario '%s' started (run %s) ===", e.config.Name, result.RunID)
	if e.config.Description != "" {
		e.log.Info(component, "Description: %s", e.config.Description)
	}

	// セットアップ
	if err := e.setup(result); err != nil {
		return nil, errors.Wrap(err, "setup failed")
	}

	// シナリオ実行
	// 片付けは結果収集より前。残った障害はここで復旧済みになる
	workers, err := e.runScenario(ctx)
	e.teardown()
	if err != nil && ctx.Err() == nil {
		return nil, err
	}
	if ctx.Err() != nil {
		e.log.Warn(component, "Scenario cancelled: %v", ctx.Err())
	}

	// 結果収集
	result.Workers = workers
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	e.collectResults(result)

	e.log.Info(component, "=== Scenario '%s' completed ===", e.config.Name)
	return result, nil
}

// setup は供給元、オーケストレーター、障害エンジンを組み立てる
func (e *Engine) setup(result *Result) error {
	provider, err := newProvider(e.config)
	if err != nil {
		return err
	}

	o := orchestrator.New(orchestrator.Config{Logger: e.log, Metrics: e.telem})
	if err := o.SetGlobalDuration(e.config.Duration); err != nil {
		return err
	}
	if err := o.SetGlobalIntensity(e.config.Intensity); err != nil {
		return err
	}

	counts := make(map[worker.Kind]int)
	for _, spec := range e.config.Workers {
		kind, _ := worker.ParseKind(string(spec.Kind))
		counts[kind]++
		name := spec.Name
		if name == "" {
			name = fmt.Sprintf("%s-%d", kind, counts[kind])
		}

		cfg := worker.DefaultConfig(kind, name)
		cfg.MonitorMetrics = spec.MonitorMetrics
		cfg.Params = spec.Params
		w, err := worker.New(kind, cfg)
		if err != nil {
			return err
		}
		if err := o.AddWorker(w); err != nil {
			return err
		}

		if spec.Duration > 0 || spec.Intensity > 0 {
			cfg.Duration = e.config.Duration
			cfg.Intensity = e.config.Intensity
			if spec.Duration > 0 {
				cfg.Duration = spec.Duration
			}
			if spec.Intensity > 0 {
				cfg.Intensity = spec.Intensity
			}
			if err := o.SetWorkerConfig(name, cfg); err != nil {
				return err
			}
		}
	}
	o.SetProvider(provider)

	var fe *fault.Engine
	if e.config.EnableFaults {
		fc := fault.DefaultEngineConfig()
		fc.AutoRecovery = e.config.AutoRecovery
		if e.config.RecoveryWindow > 0 {
			fc.RecoveryWindow = e.config.RecoveryWindow
		}
		if e.config.ScanInterval > 0 {
			fc.ScanInterval = e.config.ScanInterval
		}
		if e.config.ScheduleInterval > 0 {
			scheduled := e.config.ScheduledFaults
			if len(scheduled) == 0 {
				scheduled = e.config.Faults
			}
			fc.Schedule = fault.Schedule{Interval: e.config.ScheduleInterval, Faults: scheduled}
		}
		fc.Seed = e.config.Seed
		fc.Logger = e.log
		fc.Metrics = e.telem
		fe = fault.New(fc)
		for _, f := range e.config.Faults {
			if err := fe.AddFault(f); err != nil {
				return err
			}
		}
	}

	history := metrics.NewHistory(metrics.DefaultHistorySize)
	e.wire(o, fe, provider, history)

	e.mu.Lock()
	e.runID = result.RunID
	e.started = result.StartTime
	e.provider = provider
	e.orch = o
	e.faults = fe
	e.history = history
	e.mu.Unlock()
	return nil
}

func newProvider(cfg Config) (metrics.Provider, error) {
	switch cfg.Provider {
	case ProviderSystem:
		p, err := metrics.NewSystem(cfg.DiskPath)
		if err != nil {
			return nil, cerrors.Setup{Component: component, Target: ProviderSystem, Reason: err.Error()}
		}
		return p, nil
	default:
		return metrics.NewSynthetic(cfg.Seed), nil
	}
}

// wire はコールバックをイベントバスとログに接続する
func (e *Engine) wire(o *orchestrator.Orchestrator, fe *fault.Engine, p metrics.Provider, h *metrics.History) {
	o.OnStart(func(name string) {
		kind := ""
		if w, ok := o.Worker(name); ok {
			kind = string(w.Kind())
		}
		e.publish(events.NewWorkerStartEvent(name, kind))
	})
	o.OnProgress(func(name string, progress float64) {
		e.publish(events.NewWorkerProgressEvent(name, progress))
	})
	o.OnComplete(func(r worker.Result) {
		e.publish(events.NewWorkerCompleteEvent(r.Name, string(r.Kind), string(r.Status), r.OperationsCompleted, r.ErrorMessage))
	})

	if fe != nil {
		fe.OnInjected(func(r fault.Record) {
			e.publish(events.NewFaultInjectedEvent(r.ID, string(r.Type), r.Target, string(r.Severity), r.Success, r.ErrorMessage))
		})
		fe.OnRecovered(func(r fault.Record) {
			e.publish(events.NewFaultRecoveredEvent(r.ID, string(r.Type), r.Target))
		})
	}

	p.OnSample(func(s metrics.Snapshot) {
		h.Append(s)
		e.telem.SampleTaken()
		e.publish(events.NewMetricsSampleEvent(s))
	})
}

// teardown はシナリオ実行後のクリーンアップ
func (e *Engine) teardown() {
	e.mu.RLock()
	o, fe, p := e.orch, e.faults, e.provider
	e.mu.RUnlock()

	if o != nil {
		o.StopAll()
	}
	if fe != nil {
		fe.Stop()
	}
	if p != nil {
		p.StopSampling()
	}
}

// runScenario はシナリオのメイン処理
func (e *Engine) runScenario(ctx context.Context) ([]worker.Result, error) {
	e.mu.RLock()
	o, fe, p := e.orch, e.faults, e.provider
	e.mu.RUnlock()

	// サンプリング開始
	interval := e.config.SampleInterval
	if interval <= 0 {
		interval = metrics.DefaultSampleInterval
	}
	p.StartSampling(interval)

	// 障害エンジン開始
	if fe != nil {
		fe.Start(ctx)
		if n := fe.Pending(); n > 0 {
			recs := fe.InjectAll(ctx)
			e.log.Info(component, "Injected %d of %d configured faults", len(recs), n)
		}
	}

	// 終了まで待機
	results, err := o.RunAll(ctx)

	e.log.Info(component, "All workers finished, stopping components...")
	return results, err
}

// collectResults は結果を収集する
func (e *Engine) collectResults(result *Result) {
	e.mu.RLock()
	fe, h := e.faults, e.history
	e.mu.RUnlock()

	if fe != nil {
		result.FaultStats = fe.Stats()
		result.FaultHistory = fe.History()
	}
	result.Metrics = h.Snapshots()
	result.Summary = metrics.Summarize(result.Metrics)
}

// InjectFault は実行中のシナリオに障害を注入する
func (e *Engine) InjectFault(ctx context.Context, cfg fault.Config) (fault.Record, error) {
	e.mu.RLock()
	fe, running := e.faults, e.running
	e.mu.RUnlock()

	if !running || fe == nil || !fe.IsRunning() {
		return fault.Record{}, fmt.Errorf("no fault engine is running")
	}
	return fe.Inject(ctx, cfg)
}

// Stop は実行中のワーカーを中断する
func (e *Engine) Stop() {
	e.mu.RLock()
	o := e.orch
	e.mu.RUnlock()
	if o != nil {
		o.StopAll()
	}
}

// IsRunning は実行中かどうかを返す
func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}

// Status は現在の状態のスナップショットを返す
func (e *Engine) Status() Status {
	e.mu.RLock()
	s := Status{
		Running:      e.running,
		ScenarioName: e.config.Name,
		RunID:        e.runID,
		StartTime:    e.started,
	}
	o, fe, h := e.orch, e.faults, e.history
	e.mu.RUnlock()

	s.Workers = []worker.Result{}
	s.ActiveFaults = []fault.Record{}
	if o != nil {
		s.Workers = o.Results()
	}
	if fe != nil {
		s.ActiveFaults = fe.ActiveFaults()
		s.FaultStats = fe.Stats()
		s.AutoRecovery = fe.AutoRecovery()
		s.RecoveryWindow = fe.RecoveryWindow()
	}
	if h != nil {
		s.Metrics, _ = h.Latest()
	}
	return s
}

// MetricsHistory は供給元のサンプル履歴を返す
func (e *Engine) MetricsHistory() []metrics.Snapshot {
	e.mu.RLock()
	h := e.history
	e.mu.RUnlock()
	if h == nil {
		return []metrics.Snapshot{}
	}
	return h.Snapshots()
}

// FaultHistory は障害履歴を返す
func (e *Engine) FaultHistory() []fault.Record {
	e.mu.RLock()
	fe := e.faults
	e.mu.RUnlock()
	if fe == nil {
		return []fault.Record{}
	}
	return fe.History()
}

// Report は結果をフォーマットして返す
func (r *Result) Report() string {
	var b strings.Builder

	verdict := "PASS"
	if !r.Passed() {
		verdict = "FAIL"
	}

	fmt.Fprintf(&b, `
================================================================================
                         SCENARIO REPORT: %s
================================================================================

EXECUTION SUMMARY
-----------------
  Run ID:         %s
  Start Time:     %s
  End Time:       %s
  Duration:       %v
  Verdict:        %s

WORKER RESULTS
--------------
`,
		r.ScenarioName,
		r.RunID,
		r.StartTime.Format("2006-01-02 15:04:05"),
		r.EndTime.Format("2006-01-02 15:04:05"),
		r.Duration.Round(time.Millisecond),
		verdict,
	)

	for _, w := range r.Workers {
		fmt.Fprintf(&b, "  %-20s %-8s %-12s ops=%-10d errors=%-6d elapsed=%v\n",
			w.Name+":", w.Kind, w.Status, w.OperationsCompleted, w.ErrorsEncountered, w.Elapsed.Round(time.Millisecond))
		if w.ErrorMessage != "" {
			fmt.Fprintf(&b, "  %-20s %s\n", "", w.ErrorMessage)
		}
	}

	fmt.Fprintf(&b, `
FAULT STATISTICS
----------------
  Injected:         %d
  Skipped:          %d
  Failed:           %d
  Recovered:        %d
  Still Active:     %d
`,
		r.FaultStats.Injected,
		r.FaultStats.Skipped,
		r.FaultStats.Failed,
		r.FaultStats.Recovered,
		r.FaultStats.Active,
	)

	types := make([]string, 0, len(r.FaultStats.ByType))
	for t := range r.FaultStats.ByType {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Fprintf(&b, "  %-20s %d\n", t+":", r.FaultStats.ByType[t])
	}

	fmt.Fprintf(&b, `
SYSTEM METRICS
--------------
  %s
`, strings.ReplaceAll(r.Summary.String(), "\n", "\n  "))

	b.WriteString("\n================================================================================")
	return b.String()
}
