package worker

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"hwstress/internal/logger"
)

// Loop は各ゴルーチンで ctx が終わるまで実行されるループ
type Loop func(ctx context.Context, id int)

// PoolConfig はゴルーチンセットの設定
type PoolConfig struct {
	NumWorkers int           // ゴルーチン数（0でCPU数）
	StopGrace  time.Duration // Stop で終了を待つ上限
	Logger     *logger.Logger
	Component  string // ログのコンポーネント名
}

// DefaultPoolConfig はデフォルト設定を返す
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		NumWorkers: 0,
		StopGrace:  DefaultStopGrace,
	}
}

// Pool は同じ Loop を回す固定数のゴルーチンを管理する
type Pool struct {
	numWorkers int
	grace      time.Duration
	log        *logger.Logger
	component  string

	wg      sync.WaitGroup
	active  atomic.Int32
	cancel  context.CancelFunc
	drained chan struct{}
	started bool
	mu      sync.Mutex
}

// NewPool は新しいプールを作成する
// numWorkers が 0 以下の場合は CPU 数を使用
func NewPool(numWorkers int) *Pool {
	config := DefaultPoolConfig()
	config.NumWorkers = numWorkers
	return NewPoolWithConfig(config)
}

// NewPoolWithConfig は設定を指定してプールを作成する
func NewPoolWithConfig(config PoolConfig) *Pool {
	numWorkers := config.NumWorkers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	grace := config.StopGrace
	if grace <= 0 {
		grace = DefaultStopGrace
	}
	return &Pool{
		numWorkers: numWorkers,
		grace:      grace,
		log:        config.Logger,
		component:  config.Component,
	}
}

// Start は numWorkers 個のゴルーチンで loop を開始する
func (p *Pool) Start(ctx context.Context, loop Loop) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.drained = make(chan struct{})
	p.started = true

	for i := range p.numWorkers {
		p.wg.Add(1)
		p.active.Add(1)
		go p.run(ctx, i, loop)
	}

	drained := p.drained
	go func() {
		p.wg.Wait()
		close(drained)
	}()

	p.log.Debug(p.component, "pool started with %d goroutines", p.numWorkers)
}

// run は個々のゴルーチン
func (p *Pool) run(ctx context.Context, id int, loop Loop) {
	defer p.wg.Done()
	defer p.active.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			p.log.Error(p.component, "goroutine %d panicked: %v", id, r)
		}
	}()

	loop(ctx, id)
}

// Stop はゴルーチンに停止を通知し、猶予時間まで終了を待つ
// 全て終了した場合 true を返す
func (p *Pool) Stop() bool {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return true
	}
	cancel, drained := p.cancel, p.drained
	p.mu.Unlock()

	cancel()

	timer := time.NewTimer(p.grace)
	defer timer.Stop()

	select {
	case <-drained:
	case <-timer.C:
		p.log.Warn(p.component, "%d goroutines did not stop within %v", p.active.Load(), p.grace)
		return false
	}

	p.mu.Lock()
	p.started = false
	p.mu.Unlock()

	p.log.Debug(p.component, "pool stopped")
	return true
}

// Wait は停止を通知せずに全ゴルーチンの終了を待つ
func (p *Pool) Wait(ctx context.Context) error {
	p.mu.Lock()
	drained := p.drained
	p.mu.Unlock()

	if drained == nil {
		return nil
	}
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NumWorkers はゴルーチン数を返す
func (p *Pool) NumWorkers() int {
	return p.numWorkers
}

// Active は実行中のゴルーチン数を返す
func (p *Pool) Active() int {
	return int(p.active.Load())
}
