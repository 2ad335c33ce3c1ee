package fault

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"hwstress/internal/cerrors"
	"hwstress/internal/logger"
	"hwstress/internal/telemetry"
)

const component = "fault"

// 既定値
const (
	DefaultScanInterval   = time.Second
	DefaultRecoveryWindow = 10 * time.Second
	DefaultHistorySize    = 1000
)

// Schedule は定期注入の設定
type Schedule struct {
	Interval time.Duration // 0 で無効
	Faults   []Config      // 毎回この中からランダムに1つ選ぶ
}

// EngineConfig は FaultEngine の設定
type EngineConfig struct {
	ScanInterval   time.Duration
	RecoveryWindow time.Duration
	AutoRecovery   bool
	HistorySize    int
	TempDir        string // DISK_IO_ERROR の作業ディレクトリの親
	Schedule       Schedule
	Seed           int64 // 0 なら時刻から

	Logger  *logger.Logger
	Metrics *telemetry.Metrics
	Tracer  trace.Tracer
}

// DefaultEngineConfig はデフォルト設定を返す
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		ScanInterval:   DefaultScanInterval,
		RecoveryWindow: DefaultRecoveryWindow,
		AutoRecovery:   true,
		HistorySize:    DefaultHistorySize,
		TempDir:        os.TempDir(),
	}
}

type activeFault struct {
	rec Record
	eff effect
}

// Engine は障害の注入と自動復旧を管理する
// ワーカーの状態とは独立して動作する
type Engine struct {
	log    *logger.Logger
	telem  *telemetry.Metrics
	tracer trace.Tracer

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu           sync.Mutex
	cfg          EngineConfig
	rng          *rand.Rand
	active       map[key]*activeFault
	history      []Record
	historyStart int
	pending      []Config
	stats        Stats

	cbMu        sync.RWMutex
	onInjected  func(Record)
	onRecovered func(Record)
}

// New は新しい FaultEngine を作成する
func New(cfg EngineConfig) *Engine {
	def := DefaultEngineConfig()
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = def.ScanInterval
	}
	if cfg.RecoveryWindow <= 0 {
		cfg.RecoveryWindow = def.RecoveryWindow
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.TempDir == "" {
		cfg.TempDir = def.TempDir
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = telemetry.Tracer(component)
	}

	return &Engine{
		log:    cfg.Logger,
		telem:  cfg.Metrics,
		tracer: tracer,
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(seed)),
		active: make(map[key]*activeFault),
		stats:  Stats{ByType: make(map[string]uint64)},
	}
}

// OnInjected は注入成功時のコールバックを設定する
func (e *Engine) OnInjected(fn func(Record)) {
	e.cbMu.Lock()
	e.onInjected = fn
	e.cbMu.Unlock()
}

// OnRecovered は復旧時のコールバックを設定する
func (e *Engine) OnRecovered(fn func(Record)) {
	e.cbMu.Lock()
	e.onRecovered = fn
	e.cbMu.Unlock()
}

func (e *Engine) fireInjected(r Record) {
	e.cbMu.RLock()
	fn := e.onInjected
	e.cbMu.RUnlock()
	if fn != nil {
		fn(r)
	}
}

func (e *Engine) fireRecovered(r Record) {
	e.cbMu.RLock()
	fn := e.onRecovered
	e.cbMu.RUnlock()
	if fn != nil {
		fn(r)
	}
}

// Start は復旧ループと（設定があれば）定期注入ループを開始する
func (e *Engine) Start(ctx context.Context) {
	if e.running.Swap(true) {
		return
	}

	e.ctx, e.cancel = context.WithCancel(ctx)

	e.mu.Lock()
	cfg := e.cfg
	e.mu.Unlock()

	e.wg.Add(1)
	go e.recoveryLoop(cfg.ScanInterval)

	if cfg.Schedule.Interval > 0 && len(cfg.Schedule.Faults) > 0 {
		e.wg.Add(1)
		go e.scheduleLoop(cfg.Schedule)
	}

	e.log.Info(component, "FaultEngine started (scan: %v, window: %v, auto recovery: %v)",
		cfg.ScanInterval, cfg.RecoveryWindow, cfg.AutoRecovery)
}

// Stop はループを止め、有効な障害を全て解除する
// 開始前に呼ばれても有効な障害は解除する
func (e *Engine) Stop() {
	wasRunning := e.running.Swap(false)
	if wasRunning {
		e.cancel()
		e.wg.Wait()
	}

	cleared := e.ClearFaults()
	if !wasRunning && cleared == 0 {
		return
	}
	stats := e.Stats()
	e.log.Info(component, "FaultEngine stopped (injected: %d, recovered: %d, cleared on stop: %d)",
		stats.Injected, stats.Recovered, cleared)
}

// IsRunning は実行中かどうかを返す
func (e *Engine) IsRunning() bool {
	return e.running.Load()
}

// recoveryLoop は一定間隔で期限切れの障害を復旧する
func (e *Engine) recoveryLoop(interval time.Duration) {
	defer e.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case now := <-ticker.C:
			e.recoverExpired(now)
		}
	}
}

// scheduleLoop は一定間隔でランダムな障害を注入する
func (e *Engine) scheduleLoop(s Schedule) {
	defer e.wg.Done()

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.mu.Lock()
			cfg := s.Faults[e.rng.Intn(len(s.Faults))].Clone()
			e.mu.Unlock()

			if _, err := e.Inject(e.ctx, cfg); err != nil {
				e.log.Debug(component, "Scheduled %s on %s not applied: %v", cfg.Type, cfg.Target, err)
			}
		}
	}
}

// Inject は設定に従って障害を注入する
//
// 確率判定で見送られた場合は ErrSkipped を返し、何も記録しない。
// 同じ対象・種類が有効なら既存の記録と ErrDuplicateFault を返す。
// 副作用の準備に失敗した場合は success=false の記録を履歴に残し、cerrors.Setup を返す。
// Start 前に注入した障害は Start まで自動復旧されず、Stop で解除される。
func (e *Engine) Inject(ctx context.Context, cfg Config) (Record, error) {
	if err := cfg.Validate(); err != nil {
		return Record{}, err
	}
	cfg = cfg.Clone()
	cfg.Type, _ = ParseType(string(cfg.Type))
	cfg.Severity, _ = ParseSeverity(string(cfg.Severity))

	_, span := e.tracer.Start(ctx, "fault.inject", trace.WithAttributes(
		attribute.String("fault.type", string(cfg.Type)),
		attribute.String("fault.target", cfg.Target),
		attribute.String("fault.severity", string(cfg.Severity)),
	))
	defer span.End()

	e.mu.Lock()

	if cfg.Probability < 1 && e.rng.Float64() >= cfg.Probability {
		e.stats.Skipped++
		e.mu.Unlock()
		span.SetAttributes(attribute.Bool("fault.skipped", true))
		return Record{}, ErrSkipped
	}

	k := key{target: cfg.Target, typ: cfg.Type}
	if existing, ok := e.active[k]; ok {
		e.stats.Duplicate++
		rec := existing.rec
		e.mu.Unlock()
		span.SetAttributes(attribute.Bool("fault.duplicate", true))
		return rec, ErrDuplicateFault
	}

	rec := Record{
		ID:          uuid.NewString(),
		Type:        cfg.Type,
		Target:      cfg.Target,
		Severity:    cfg.Severity,
		InjectedAt:  time.Now(),
		Duration:    cfg.Duration,
		AutoRecover: cfg.AutoRecover,
	}

	eff, err := startEffect(cfg, e.cfg.TempDir)
	if err != nil {
		rec.ErrorMessage = err.Error()
		e.appendHistory(rec)
		e.stats.Failed++
		e.mu.Unlock()

		if !cerrors.IsSetup(err) {
			err = cerrors.Setup{Component: component, Target: cfg.Target, Reason: err.Error()}
		}
		span.SetStatus(codes.Error, rec.ErrorMessage)
		e.telem.FaultInjected(string(rec.Type), string(rec.Severity), false)
		e.log.Error(component, "Failed to inject %s on %s: %v", rec.Type, rec.Target, err)
		return rec, err
	}

	rec.Success = true
	e.active[k] = &activeFault{rec: rec, eff: eff}
	e.appendHistory(rec)
	e.stats.Injected++
	e.stats.ByType[string(rec.Type)]++
	activeCount := len(e.active)
	e.mu.Unlock()

	span.SetAttributes(attribute.String("fault.id", rec.ID))
	e.telem.FaultInjected(string(rec.Type), string(rec.Severity), true)
	e.telem.SetFaultsActive(activeCount)

	if rec.Type.Simulated() {
		e.log.WarnWithValues(component, "Fault injected (simulated only)", faultValues(rec))
	} else {
		e.log.WarnWithValues(component, "Fault injected", faultValues(rec))
	}
	e.fireInjected(rec)
	return rec, nil
}

// InjectType は確率 1.0、自動復旧ありで注入する
func (e *Engine) InjectType(ctx context.Context, t Type, target string, severity Severity) (Record, error) {
	return e.Inject(ctx, NewConfig(t, target, severity))
}

// AddFault は保留キューに注入設定を追加する
func (e *Engine) AddFault(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.pending = append(e.pending, cfg.Clone())
	e.mu.Unlock()
	return nil
}

// Pending は保留中の設定数を返す
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// InjectAll は保留キューを順に注入してキューを空にする
// 見送り・重複以外で記録が作られたものを返す
func (e *Engine) InjectAll(ctx context.Context) []Record {
	e.mu.Lock()
	queue := e.pending
	e.pending = nil
	e.mu.Unlock()

	out := make([]Record, 0, len(queue))
	for _, cfg := range queue {
		rec, err := e.Inject(ctx, cfg)
		switch {
		case errors.Is(err, ErrSkipped), errors.Is(err, ErrDuplicateFault):
			e.log.Debug(component, "Pending %s on %s not applied: %v", cfg.Type, cfg.Target, err)
			continue
		case rec.ID == "":
			continue
		}
		out = append(out, rec)
	}
	return out
}

// recoverExpired は復旧ウィンドウを過ぎた障害を復旧する
func (e *Engine) recoverExpired(now time.Time) {
	e.mu.Lock()
	if !e.cfg.AutoRecovery {
		e.mu.Unlock()
		return
	}
	window := e.cfg.RecoveryWindow

	var due []*activeFault
	for k, af := range e.active {
		if !af.rec.AutoRecover {
			continue
		}
		w := window
		if af.rec.Duration > 0 {
			w = af.rec.Duration
		}
		if now.Sub(af.rec.InjectedAt) >= w {
			delete(e.active, k)
			due = append(due, af)
		}
	}
	e.mu.Unlock()

	if len(due) > 0 {
		e.retire(due, "Auto-recovered")
	}
}

// retire は副作用を解除し、記録に復旧時刻を付けて通知する
// active からは呼び出し前に取り除かれている必要がある
func (e *Engine) retire(faults []*activeFault, reason string) []Record {
	sort.Slice(faults, func(i, j int) bool {
		return faults[i].rec.InjectedAt.Before(faults[j].rec.InjectedAt)
	})

	for _, af := range faults {
		af.eff.stop()
	}

	now := time.Now()
	recs := make([]Record, 0, len(faults))

	e.mu.Lock()
	for _, af := range faults {
		rec := af.rec
		rec.RecoveredAt = now
		e.updateHistory(rec)
		e.stats.Recovered++
		recs = append(recs, rec)
	}
	activeCount := len(e.active)
	e.mu.Unlock()

	e.telem.SetFaultsActive(activeCount)
	for _, rec := range recs {
		e.telem.FaultRecovered(string(rec.Type))
		e.log.InfoWithValues(component, reason+" fault", faultValues(rec))
		e.fireRecovered(rec)
	}
	return recs
}

// Recover は指定した障害を手動で復旧する
func (e *Engine) Recover(target string, t Type) (Record, error) {
	t, err := ParseType(string(t))
	if err != nil {
		return Record{}, err
	}

	e.mu.Lock()
	k := key{target: target, typ: t}
	af, ok := e.active[k]
	if ok {
		delete(e.active, k)
	}
	e.mu.Unlock()

	if !ok {
		return Record{}, errors.Wrapf(ErrNotActive, "%s on %s", t, target)
	}
	return e.retire([]*activeFault{af}, "Recovered")[0], nil
}

// ClearFaults は有効な障害を即座に全て解除し、解除数を返す
func (e *Engine) ClearFaults() int {
	e.mu.Lock()
	faults := make([]*activeFault, 0, len(e.active))
	for k, af := range e.active {
		faults = append(faults, af)
		delete(e.active, k)
	}
	e.mu.Unlock()

	if len(faults) == 0 {
		return 0
	}
	e.retire(faults, "Cleared")
	return len(faults)
}

// IsFaultActive は対象に有効な障害があるかを返す
func (e *Engine) IsFaultActive(target string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for k := range e.active {
		if k.target == target {
			return true
		}
	}
	return false
}

// ActiveFaults は有効な障害を注入順に返す
func (e *Engine) ActiveFaults() []Record {
	e.mu.Lock()
	out := make([]Record, 0, len(e.active))
	for _, af := range e.active {
		out = append(out, af.rec)
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].InjectedAt.Before(out[j].InjectedAt) })
	return out
}

// History は履歴のコピーを古い順に返す
func (e *Engine) History() []Record {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Record, 0, len(e.history))
	out = append(out, e.history[e.historyStart:]...)
	out = append(out, e.history[:e.historyStart]...)
	return out
}

// appendHistory は mu を保持して呼ぶ
func (e *Engine) appendHistory(rec Record) {
	if len(e.history) < e.cfg.HistorySize {
		e.history = append(e.history, rec)
		return
	}
	e.history[e.historyStart] = rec
	e.historyStart = (e.historyStart + 1) % len(e.history)
}

// updateHistory は mu を保持して呼ぶ。既に追い出された記録は無視する
func (e *Engine) updateHistory(rec Record) {
	for i := len(e.history) - 1; i >= 0; i-- {
		if e.history[i].ID == rec.ID {
			e.history[i] = rec
			return
		}
	}
}

// SetAutoRecovery は自動復旧の有効・無効を切り替える
func (e *Engine) SetAutoRecovery(enabled bool) {
	e.mu.Lock()
	e.cfg.AutoRecovery = enabled
	e.mu.Unlock()
	e.log.Info(component, "Auto recovery enabled: %v", enabled)
}

// AutoRecovery は自動復旧が有効かを返す
func (e *Engine) AutoRecovery() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.AutoRecovery
}

// SetRecoveryWindow は自動復旧までの時間を設定する
func (e *Engine) SetRecoveryWindow(d time.Duration) error {
	if d <= 0 {
		return cerrors.Configuration{Field: "recovery_window", Reason: fmt.Sprintf("must be positive, got %v", d)}
	}
	e.mu.Lock()
	e.cfg.RecoveryWindow = d
	e.mu.Unlock()
	return nil
}

// RecoveryWindow は現在の復旧ウィンドウを返す
func (e *Engine) RecoveryWindow() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.RecoveryWindow
}

// Stats は統計のコピーを返す
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.stats
	s.Active = len(e.active)
	s.ByType = make(map[string]uint64, len(e.stats.ByType))
	for t, n := range e.stats.ByType {
		s.ByType[t] = n
	}
	return s
}

func faultValues(rec Record) map[string]any {
	v := map[string]any{
		"id":       rec.ID,
		"type":     rec.Type,
		"target":   rec.Target,
		"severity": rec.Severity,
	}
	if !rec.RecoveredAt.IsZero() {
		v["active_for"] = rec.RecoveredAt.Sub(rec.InjectedAt).Round(time.Millisecond)
	}
	return v
}
