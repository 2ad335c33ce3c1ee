package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"hwstress/internal/cerrors"
	"hwstress/internal/logger"
	"hwstress/internal/metrics"
	"hwstress/internal/telemetry"
	"hwstress/internal/worker"
)

const component = "orchestrator"

// Runner はワーカー管理の基本操作を定義するインターフェース
type Runner interface {
	AddWorker(w worker.Worker) error
	RemoveWorker(name string) error
	Worker(name string) (worker.Worker, bool)
	Workers() []worker.Worker
	RunOne(ctx context.Context, name string) (worker.Result, error)
	RunAll(ctx context.Context) ([]worker.Result, error)
	StopAll()
	Size() int
	IsAnyRunning() bool
}

var _ Runner = (*Orchestrator)(nil)

// Config はオーケストレーターの設定
type Config struct {
	Logger  *logger.Logger
	Metrics *telemetry.Metrics
	Tracer  trace.Tracer // nil ならグローバルプロバイダから取得
}

type entry struct {
	w        worker.Worker
	override bool
	started  bool
	inFlight bool // prepare から完了コールバックまで
}

// Orchestrator は登録されたワーカーを実行・停止し、結果を集める
type Orchestrator struct {
	mu        sync.RWMutex
	order     []string
	entries   map[string]*entry
	duration  time.Duration
	intensity int
	provider  metrics.Provider

	log    *logger.Logger
	telem  *telemetry.Metrics
	tracer trace.Tracer

	cbMu       sync.RWMutex
	onStart    func(name string)
	onComplete func(worker.Result)
	onProgress worker.ProgressFunc
}

// New は新しいオーケストレーターを作成する
func New(cfg Config) *Orchestrator {
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = telemetry.Tracer(component)
	}
	return &Orchestrator{
		entries:   make(map[string]*entry),
		duration:  worker.DefaultDuration,
		intensity: worker.DefaultIntensity,
		log:       cfg.Logger,
		telem:     cfg.Metrics,
		tracer:    tracer,
	}
}

// AddWorker はワーカーを登録する
func (o *Orchestrator) AddWorker(w worker.Worker) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	name := w.Name()
	if _, exists := o.entries[name]; exists {
		return cerrors.Configuration{Field: "name", Reason: fmt.Sprintf("worker %s already registered", name)}
	}

	if o.provider != nil {
		w.SetProvider(o.provider)
	}
	w.SetLogger(o.log)
	o.entries[name] = &entry{w: w}
	o.order = append(o.order, name)
	o.log.Info(component, "Worker %s (%s) registered", name, w.Kind())
	return nil
}

// RemoveWorker は登録を解除する。実行中なら中断する
func (o *Orchestrator) RemoveWorker(name string) error {
	o.mu.Lock()
	e, exists := o.entries[name]
	if !exists {
		o.mu.Unlock()
		return fmt.Errorf("worker %s not found", name)
	}
	delete(o.entries, name)
	for i, n := range o.order {
		if n == name {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
	o.mu.Unlock()

	if e.w.IsRunning() {
		e.w.Interrupt()
	}
	o.log.Info(component, "Worker %s removed", name)
	return nil
}

// Worker は名前でワーカーを取得する
func (o *Orchestrator) Worker(name string) (worker.Worker, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	e, ok := o.entries[name]
	if !ok {
		return nil, false
	}
	return e.w, true
}

// Workers は登録順にワーカーを返す
func (o *Orchestrator) Workers() []worker.Worker {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]worker.Worker, 0, len(o.order))
	for _, name := range o.order {
		out = append(out, o.entries[name].w)
	}
	return out
}

// Size は登録数を返す
func (o *Orchestrator) Size() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.order)
}

// SetGlobalDuration は上書きのないワーカーに適用する実行時間を設定する
func (o *Orchestrator) SetGlobalDuration(d time.Duration) error {
	if d <= 0 {
		return cerrors.Configuration{Field: "duration", Reason: fmt.Sprintf("must be positive, got %v", d)}
	}
	o.mu.Lock()
	o.duration = d
	o.mu.Unlock()
	return nil
}

// SetGlobalIntensity は上書きのないワーカーに適用する強度を設定する
func (o *Orchestrator) SetGlobalIntensity(i int) error {
	if i < worker.MinIntensity || i > worker.MaxIntensity {
		return cerrors.Configuration{Field: "intensity", Reason: fmt.Sprintf("must be %d-%d, got %d", worker.MinIntensity, worker.MaxIntensity, i)}
	}
	o.mu.Lock()
	o.intensity = i
	o.mu.Unlock()
	return nil
}

// GlobalDuration は現在のグローバル実行時間を返す
func (o *Orchestrator) GlobalDuration() time.Duration {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.duration
}

// GlobalIntensity は現在のグローバル強度を返す
func (o *Orchestrator) GlobalIntensity() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.intensity
}

// SetWorkerConfig はワーカー個別の設定を登録する
// 最初の実行より前に呼ぶ必要がある
func (o *Orchestrator) SetWorkerConfig(name string, cfg worker.Config) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	e, ok := o.entries[name]
	if !ok {
		return fmt.Errorf("worker %s not found", name)
	}
	if e.started {
		return cerrors.Configuration{Field: "config", Reason: fmt.Sprintf("worker %s has already been started", name)}
	}
	if cfg.Name == "" {
		cfg.Name = name
	}
	if err := e.w.SetConfig(cfg); err != nil {
		return err
	}
	e.override = true
	return nil
}

// SetProvider は既存と今後のワーカーにメトリクス供給元を設定する
func (o *Orchestrator) SetProvider(p metrics.Provider) {
	o.mu.Lock()
	o.provider = p
	ws := make([]worker.Worker, 0, len(o.entries))
	for _, e := range o.entries {
		ws = append(ws, e.w)
	}
	o.mu.Unlock()

	for _, w := range ws {
		w.SetProvider(p)
	}
}

// OnStart はワーカー開始時のコールバックを設定する
func (o *Orchestrator) OnStart(fn func(name string)) {
	o.cbMu.Lock()
	o.onStart = fn
	o.cbMu.Unlock()
}

// OnComplete はワーカー終了時のコールバックを設定する
func (o *Orchestrator) OnComplete(fn func(worker.Result)) {
	o.cbMu.Lock()
	o.onComplete = fn
	o.cbMu.Unlock()
}

// OnProgress は進捗のコールバックを設定する
func (o *Orchestrator) OnProgress(fn worker.ProgressFunc) {
	o.cbMu.Lock()
	o.onProgress = fn
	o.cbMu.Unlock()
}

func (o *Orchestrator) fireStart(name string) {
	o.cbMu.RLock()
	fn := o.onStart
	o.cbMu.RUnlock()
	if fn != nil {
		fn(name)
	}
}

func (o *Orchestrator) fireComplete(r worker.Result) {
	o.cbMu.RLock()
	fn := o.onComplete
	o.cbMu.RUnlock()
	if fn != nil {
		fn(r)
	}
}

func (o *Orchestrator) progress(name string, p float64) {
	o.cbMu.RLock()
	fn := o.onProgress
	o.cbMu.RUnlock()
	if fn != nil {
		fn(name, p)
	}
}

// prepare は実効設定を適用し、実行できる状態にする
func (o *Orchestrator) prepare(e *entry) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if e.inFlight || e.w.IsRunning() {
		return cerrors.Configuration{Field: "name", Reason: fmt.Sprintf("worker %s is already running", e.w.Name())}
	}

	cfg := e.w.Config()
	if !e.override {
		cfg.Duration = o.duration
		cfg.Intensity = o.intensity
	}
	if err := e.w.SetConfig(cfg); err != nil {
		return err
	}
	if o.provider != nil {
		e.w.SetProvider(o.provider)
	}
	e.w.SetProgressFunc(o.progress)
	e.started = true
	e.inFlight = true
	return nil
}

// release は次の実行を受け付ける
func (o *Orchestrator) release(e *entry) {
	o.mu.Lock()
	e.inFlight = false
	o.mu.Unlock()
}

// busy は実行中または実行準備済みかを返す
func (o *Orchestrator) busy(e *entry) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return e.inFlight || e.w.IsRunning()
}

func (o *Orchestrator) lookup(name string) (*entry, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	e, ok := o.entries[name]
	if !ok {
		return nil, fmt.Errorf("worker %s not found", name)
	}
	return e, nil
}

// snapshot は登録順のエントリを返す
func (o *Orchestrator) snapshot() []*entry {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]*entry, 0, len(o.order))
	for _, name := range o.order {
		out = append(out, o.entries[name])
	}
	return out
}

// RunOne は1つのワーカーを実行し、終了まで待つ
// ctx がキャンセルされるとワーカーを中断する
func (o *Orchestrator) RunOne(ctx context.Context, name string) (worker.Result, error) {
	e, err := o.lookup(name)
	if err != nil {
		return worker.Result{}, err
	}
	if err := o.prepare(e); err != nil {
		return worker.Result{}, err
	}

	_, span := o.tracer.Start(ctx, "orchestrator.run_one", trace.WithAttributes(
		attribute.String("worker.name", name),
		attribute.String("worker.kind", string(e.w.Kind())),
	))
	defer span.End()

	o.fireStart(name)
	e.w.Start()
	waitErr := o.await(ctx, e.w)

	r := e.w.Result()
	o.finish(span, r)
	o.fireComplete(r)
	o.release(e)
	return r, waitErr
}

// RunAll は全ワーカーを並行に実行し、全て終わるまで待つ
// 完了コールバックは登録順に呼ばれ、結果も登録順に返す
func (o *Orchestrator) RunAll(ctx context.Context) ([]worker.Result, error) {
	entries := o.snapshot()
	if len(entries) == 0 {
		return nil, nil
	}

	for _, e := range entries {
		if o.busy(e) {
			return nil, cerrors.Configuration{Field: "name", Reason: fmt.Sprintf("worker %s is already running", e.w.Name())}
		}
	}

	ctx, runSpan := o.tracer.Start(ctx, "orchestrator.run_all", trace.WithAttributes(
		attribute.Int("workers", len(entries)),
	))
	defer runSpan.End()

	o.log.Info(component, "Starting all workers (count: %d)", len(entries))

	spans := make([]trace.Span, len(entries))
	started := make([]bool, len(entries))
	for i, e := range entries {
		if err := o.prepare(e); err != nil {
			o.log.Error(component, "Worker %s not started: %v", e.w.Name(), err)
			continue
		}
		_, spans[i] = o.tracer.Start(ctx, "orchestrator.run_one", trace.WithAttributes(
			attribute.String("worker.name", e.w.Name()),
			attribute.String("worker.kind", string(e.w.Kind())),
		))
		o.fireStart(e.w.Name())
		e.w.Start()
		started[i] = true
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, e := range entries {
		if !started[i] {
			continue
		}
		g.Go(func() error {
			return o.await(gctx, e.w)
		})
	}
	waitErr := g.Wait()

	results := make([]worker.Result, 0, len(entries))
	for i, e := range entries {
		if !started[i] {
			continue
		}
		r := e.w.Result()
		o.finish(spans[i], r)
		spans[i].End()
		o.fireComplete(r)
		o.release(e)
		results = append(results, r)
	}

	o.log.Info(component, "All workers finished (count: %d)", len(results))
	return results, waitErr
}

// await はワーカーが RUNNING を抜けるまで待つ
// ctx が先に終わった場合は中断して終了まで待つ
func (o *Orchestrator) await(ctx context.Context, w worker.Worker) error {
	if err := w.Wait(ctx); err != nil {
		o.log.Warn(component, "Interrupting worker %s: %v", w.Name(), err)
		w.Interrupt()
		return err
	}
	return nil
}

func (o *Orchestrator) finish(span trace.Span, r worker.Result) {
	span.SetAttributes(
		attribute.String("worker.status", string(r.Status)),
		attribute.Int64("worker.operations", int64(r.OperationsCompleted)),
	)
	if r.Status != worker.StatusCompleted {
		span.SetStatus(codes.Error, string(r.Status))
	}
	o.telem.ObserveWorkerRun(string(r.Kind), string(r.Status), r.Elapsed, r.OperationsCompleted)

	if r.ErrorMessage != "" {
		o.log.Warn(component, "Worker %s finished %s: %s", r.Name, r.Status, r.ErrorMessage)
	}
}

// StopAll は実行中の全ワーカーを中断する
func (o *Orchestrator) StopAll() {
	entries := o.snapshot()

	var wg sync.WaitGroup
	count := 0
	for _, e := range entries {
		if !e.w.IsRunning() {
			continue
		}
		count++
		wg.Add(1)
		go func(w worker.Worker) {
			defer wg.Done()
			w.Interrupt()
		}(e.w)
	}
	wg.Wait()

	if count > 0 {
		o.log.Info(component, "Interrupted %d running workers", count)
	}
}

// Results は登録順に結果のコピーを返す
func (o *Orchestrator) Results() []worker.Result {
	entries := o.snapshot()
	out := make([]worker.Result, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.w.Result())
	}
	return out
}

// Result は名前で結果を返す
func (o *Orchestrator) Result(name string) (worker.Result, bool) {
	e, err := o.lookup(name)
	if err != nil {
		return worker.Result{}, false
	}
	return e.w.Result(), true
}

// IsAnyRunning は実行中のワーカーがあるかを返す
func (o *Orchestrator) IsAnyRunning() bool {
	return o.RunningCount() > 0
}

// RunningCount は実行中のワーカー数を返す
func (o *Orchestrator) RunningCount() int {
	count := 0
	for _, e := range o.snapshot() {
		if e.w.IsRunning() {
			count++
		}
	}
	return count
}

// CreateWorkers は同じ種類のワーカーを count 個作成して登録する
func (o *Orchestrator) CreateWorkers(kind worker.Kind, count int, prefix string) error {
	o.log.Info(component, "Creating %d %s workers with prefix '%s'", count, kind, prefix)

	for i := range count {
		name := fmt.Sprintf("%s-%d", prefix, i+1)
		w, err := worker.New(kind, worker.DefaultConfig(kind, name))
		if err != nil {
			return err
		}
		if err := o.AddWorker(w); err != nil {
			return err
		}
	}
	return nil
}
