package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"hwstress/internal/cerrors"
	"hwstress/internal/logger"
	"hwstress/internal/metrics"
)

// 進捗通知の最小間隔
const progressEvery = 250 * time.Millisecond

// payload は種類ごとの負荷処理
type payload interface {
	// setup は実行前の資源確保。失敗すると実行は FAILED になる
	setup(cfg Config) error
	// iterate は1回分の有界な処理
	iterate(ctx context.Context, id int) error
	// cleanup は setup で確保した資源を解放する
	cleanup()
}

// Stressor は状態遷移と結果管理を担う Worker 実装
// 実際の負荷処理は payload に委ねる
type Stressor struct {
	kind  Kind
	impl  payload
	grace time.Duration

	ctrlMu sync.Mutex // Start / Stop の直列化
	cancel context.CancelFunc
	done   chan struct{}

	running     atomic.Bool
	errFlag     atomic.Bool
	interrupted atomic.Bool

	mu         sync.RWMutex
	cfg        Config
	status     Status
	result     Result
	provider   metrics.Provider
	progressFn ProgressFunc
	log        *logger.Logger

	history *metrics.History
	iters   *metrics.Iterations
}

var _ Worker = (*Stressor)(nil)

// New は種類に応じたワーカーを作成する
func New(kind Kind, cfg Config) (*Stressor, error) {
	if cfg.Kind == "" {
		cfg.Kind = kind
	}
	if cfg.Kind != kind {
		return nil, cerrors.Configuration{Field: "kind", Reason: fmt.Sprintf("config kind %q does not match %q", cfg.Kind, kind)}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var impl payload
	switch kind {
	case KindCPU:
		impl = &cpuPayload{}
	case KindMemory:
		impl = &memoryPayload{}
	case KindDisk:
		impl = &diskPayload{}
	case KindGPU:
		impl = &gpuPayload{}
	case KindNetwork:
		impl = &networkPayload{}
	default:
		return nil, cerrors.Configuration{Field: "kind", Reason: fmt.Sprintf("unknown worker kind %q", kind)}
	}
	return newStressor(kind, cfg, impl), nil
}

func newStressor(kind Kind, cfg Config, impl payload) *Stressor {
	cfg = cfg.Clone()
	return &Stressor{
		kind:    kind,
		impl:    impl,
		grace:   DefaultStopGrace,
		cfg:     cfg,
		status:  StatusPending,
		result:  Result{Kind: kind, Name: cfg.Name, Status: StatusPending},
		history: metrics.NewHistory(metrics.DefaultHistorySize),
		iters:   metrics.NewIterations(),
	}
}

// Name はワーカー名を返す
func (s *Stressor) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Name
}

// Kind は種類を返す
func (s *Stressor) Kind() Kind {
	return s.kind
}

// Config は現在の設定のコピーを返す
func (s *Stressor) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// SetConfig は設定を置き換え、状態を PENDING に戻す
// 実行中は変更できない
func (s *Stressor) SetConfig(cfg Config) error {
	if s.running.Load() {
		return cerrors.Configuration{Field: "config", Reason: fmt.Sprintf("worker %s is running", s.Name())}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg.Kind == "" {
		cfg.Kind = s.kind
	}
	if cfg.Name == "" {
		cfg.Name = s.cfg.Name
	}
	if cfg.Kind != s.kind {
		return cerrors.Configuration{Field: "kind", Reason: fmt.Sprintf("cannot change kind of %s to %q", s.cfg.Name, cfg.Kind)}
	}
	if cfg.Name != s.cfg.Name {
		return cerrors.Configuration{Field: "name", Reason: fmt.Sprintf("cannot rename %s to %s", s.cfg.Name, cfg.Name)}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.cfg = cfg.Clone()
	s.status = StatusPending
	s.result = Result{Kind: s.kind, Name: cfg.Name, Status: StatusPending}
	return nil
}

// SetProvider はメトリクス供給元を設定する
func (s *Stressor) SetProvider(p metrics.Provider) {
	s.mu.Lock()
	s.provider = p
	s.mu.Unlock()
}

// SetProgressFunc は進捗通知先を設定する
func (s *Stressor) SetProgressFunc(fn ProgressFunc) {
	s.mu.Lock()
	s.progressFn = fn
	s.mu.Unlock()
}

// SetLogger はロガーを設定する
func (s *Stressor) SetLogger(l *logger.Logger) {
	s.mu.Lock()
	s.log = l
	s.mu.Unlock()
}

func (s *Stressor) currentLogger() *logger.Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.log
}

// IsRunning は実行中かどうかを返す
func (s *Stressor) IsRunning() bool {
	return s.running.Load()
}

// Status は現在の状態を返す
func (s *Stressor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Result は結果のディープコピーを返す（実行中も安全）
func (s *Stressor) Result() Result {
	s.mu.RLock()
	r := s.result
	r.Status = s.status
	s.mu.RUnlock()

	r.MetricsHistory = s.history.Snapshots()
	r.OperationsCompleted = s.iters.Succeeded()
	r.ErrorsEncountered = s.iters.Failed()
	r.AvgIteration = s.iters.AverageLatency()
	r.P99Iteration = s.iters.P99Latency()
	if r.Status == StatusRunning && !r.StartedAt.IsZero() {
		r.Elapsed = time.Since(r.StartedAt)
	}
	return r
}

// Start は実行を開始する。実行中なら何もしない
func (s *Stressor) Start() {
	s.ctrlMu.Lock()
	defer s.ctrlMu.Unlock()

	if s.running.Load() {
		return
	}

	s.mu.Lock()
	cfg := s.cfg.Clone()
	provider := s.provider
	log := s.log
	now := time.Now()
	s.status = StatusRunning
	s.result = Result{Kind: s.kind, Name: cfg.Name, Status: StatusRunning, StartedAt: now}
	s.mu.Unlock()

	s.history.Clear()
	s.iters.Reset()
	s.errFlag.Store(false)
	s.interrupted.Store(false)
	done := make(chan struct{})
	s.done = done
	s.running.Store(true)

	monitor := cfg.MonitorMetrics && provider != nil
	if monitor {
		baseline := provider.Current()
		s.history.Append(baseline)
		s.mu.Lock()
		s.result.Baseline = baseline
		s.result.Peak = baseline
		s.mu.Unlock()
	}

	if err := s.impl.setup(cfg); err != nil {
		log.Error(cfg.Name, "setup failed: %v", err)
		s.finish(StatusFailed, err.Error(), done)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	s.cancel = cancel

	n := Goroutines(s.kind, cfg.Intensity)
	pool := NewPoolWithConfig(PoolConfig{
		NumWorkers: n,
		StopGrace:  s.grace,
		Logger:     log,
		Component:  cfg.Name,
	})
	pool.Start(ctx, s.loop(cfg, cancel))

	var samplerWG sync.WaitGroup
	samplerWG.Add(1)
	go func() {
		defer samplerWG.Done()
		s.sampleLoop(ctx, cfg, provider, monitor)
	}()

	go s.supervise(ctx, pool, &samplerWG, done)

	log.Info(cfg.Name, "%s worker started (intensity %d, %d goroutines, duration %v)",
		s.kind, cfg.Intensity, n, cfg.Duration)
}

// Stop は実行を停止して終了を待つ。冪等
func (s *Stressor) Stop() {
	s.ctrlMu.Lock()
	if !s.running.Load() {
		s.ctrlMu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.ctrlMu.Unlock()

	if cancel != nil {
		cancel()
	}
	<-done
}

// Interrupt は INTERRUPTED として停止する
func (s *Stressor) Interrupt() {
	if s.running.Load() {
		s.interrupted.Store(true)
	}
	s.Stop()
}

// Wait は RUNNING を抜けるまで待つ
func (s *Stressor) Wait(ctx context.Context) error {
	s.ctrlMu.Lock()
	done := s.done
	s.ctrlMu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// supervise は停止または時間切れを待って終了処理を行う
func (s *Stressor) supervise(ctx context.Context, pool *Pool, samplerWG *sync.WaitGroup, done chan struct{}) {
	<-ctx.Done()

	drained := pool.Stop()
	samplerWG.Wait()

	status := StatusCompleted
	msg := ""
	switch {
	case !drained:
		status = StatusTimeout
		msg = fmt.Sprintf("goroutines did not stop within %v", s.grace)
	case s.errFlag.Load():
		status = StatusFailed
	case s.interrupted.Load():
		status = StatusInterrupted
	}

	s.impl.cleanup()
	s.finish(status, msg, done)
}

// finish は終了状態へ遷移する
func (s *Stressor) finish(status Status, msg string, done chan struct{}) {
	now := time.Now()

	s.mu.Lock()
	s.status = status
	s.result.Status = status
	s.result.FinishedAt = now
	s.result.Elapsed = now.Sub(s.result.StartedAt)
	if msg != "" && s.result.ErrorMessage == "" {
		s.result.ErrorMessage = msg
	}
	name := s.cfg.Name
	elapsed := s.result.Elapsed
	fn := s.progressFn
	log := s.log
	s.mu.Unlock()

	s.running.Store(false)
	close(done)

	if status == StatusCompleted && fn != nil {
		fn(name, 1)
	}

	log.InfoWithValues(name, "worker finished", map[string]any{
		"status":     status,
		"elapsed":    elapsed.Round(time.Millisecond),
		"operations": s.iters.Succeeded(),
		"errors":     s.iters.Failed(),
	})
}

// loop は各ゴルーチンのイテレーションループを返す
func (s *Stressor) loop(cfg Config, cancel context.CancelFunc) Loop {
	return func(ctx context.Context, id int) {
		for ctx.Err() == nil {
			start := time.Now()
			err := s.safeIterate(ctx, id)
			elapsed := time.Since(start)

			if err == nil {
				s.iters.RecordSuccess(elapsed)
				continue
			}
			if ctx.Err() != nil && isCancellation(err) {
				return
			}
			s.iters.RecordFailure(elapsed)
			s.iterationFailed(cfg, err, cancel)
		}
	}
}

// safeIterate は panic をランタイムエラーとして扱う
func (s *Stressor) safeIterate(ctx context.Context, id int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = cerrors.Runtime{Component: string(s.kind), Target: s.Name(), Reason: fmt.Sprintf("panic: %v", r)}
		}
	}()
	return s.impl.iterate(ctx, id)
}

// iterationFailed はソフトフェイルを記録し、閾値を超えたら実行を打ち切る
func (s *Stressor) iterationFailed(cfg Config, err error, cancel context.CancelFunc) {
	failed := s.iters.Failed()
	total := s.iters.Total()

	log := s.currentLogger()
	if failed <= errorCountThreshold {
		log.Warn(cfg.Name, "iteration error (%d so far): %v", failed, err)
	} else {
		log.Debug(cfg.Name, "iteration error (%d so far): %v", failed, err)
	}

	if failed > errorCountThreshold && failed*2 > total {
		if s.errFlag.CompareAndSwap(false, true) {
			s.mu.Lock()
			s.result.ErrorMessage = fmt.Sprintf("too many iteration errors (%d of %d): %v", failed, total, err)
			s.mu.Unlock()
			log.Error(cfg.Name, "error threshold exceeded, stopping run")
			cancel()
		}
	}
}

// sampleLoop はメトリクスの記録と進捗通知を行う
func (s *Stressor) sampleLoop(ctx context.Context, cfg Config, provider metrics.Provider, monitor bool) {
	interval := cfg.SampleInterval
	if interval <= 0 {
		interval = metrics.DefaultSampleInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	limiter := rate.NewLimiter(rate.Every(progressEvery), 1)
	start := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if monitor {
			snap := provider.Current()
			s.history.Append(snap)
			s.mu.Lock()
			s.result.Peak = metrics.MaxOf(s.result.Peak, snap)
			s.mu.Unlock()
		}

		s.mu.RLock()
		fn := s.progressFn
		s.mu.RUnlock()
		if fn != nil && limiter.Allow() {
			p := float64(time.Since(start)) / float64(cfg.Duration)
			fn(cfg.Name, min(p, 1))
		}
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
