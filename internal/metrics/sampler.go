package metrics

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// sampler は Provider 実装で共有するサンプリングループ
type sampler struct {
	read func() Snapshot

	running atomic.Bool
	ctrlMu  sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.RWMutex
	last     Snapshot
	handlers []func(Snapshot)
}

// StartSampling はサンプリングを開始する
func (s *sampler) StartSampling(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}

	s.ctrlMu.Lock()
	defer s.ctrlMu.Unlock()

	if s.running.Swap(true) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go s.loop(ctx, interval)
}

// StopSampling はサンプリングを停止する
func (s *sampler) StopSampling() {
	s.ctrlMu.Lock()
	defer s.ctrlMu.Unlock()

	if !s.running.Swap(false) {
		return
	}

	s.cancel()
	s.wg.Wait()
}

// IsSampling はサンプリング中かどうかを返す
func (s *sampler) IsSampling() bool {
	return s.running.Load()
}

// OnSample はハンドラを登録する
func (s *sampler) OnSample(fn func(Snapshot)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.handlers = append(s.handlers, fn)
	s.mu.Unlock()
}

// Current は最新のサンプルを返す
// サンプリング停止中は呼び出し時に読み取る
func (s *sampler) Current() Snapshot {
	if s.running.Load() {
		s.mu.RLock()
		last := s.last
		s.mu.RUnlock()
		if !last.IsZero() {
			return last
		}
	}

	snap := s.read()
	s.mu.Lock()
	s.last = snap
	s.mu.Unlock()
	return snap
}

func (s *sampler) loop(ctx context.Context, interval time.Duration) {
	defer s.wg.Done()

	s.sample()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *sampler) sample() {
	snap := s.read()

	s.mu.Lock()
	s.last = snap
	handlers := make([]func(Snapshot), len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.Unlock()

	for _, fn := range handlers {
		fn(snap)
	}
}
