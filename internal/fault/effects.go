package fault

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"hwstress/internal/cerrors"
)

// effect は有効な障害の副作用。stop で後始末まで完了する
type effect interface {
	stop()
}

// 副作用のチューニング値
const (
	churnInterval   = 50 * time.Millisecond
	diskIOInterval  = 20 * time.Millisecond
	diskIOBlockSize = 64 << 10
	timerInterval   = 100 * time.Millisecond
)

// loopEffect はゴルーチン群をキャンセルして待つ共通実装
type loopEffect struct {
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	cleanup func()
}

func (e *loopEffect) stop() {
	e.cancel()
	e.wg.Wait()
	if e.cleanup != nil {
		e.cleanup()
	}
}

func spawn(n int, fn func(ctx context.Context)) *loopEffect {
	ctx, cancel := context.WithCancel(context.Background())
	e := &loopEffect{cancel: cancel}
	e.wg.Add(n)
	for range n {
		go func() {
			defer e.wg.Done()
			fn(ctx)
		}()
	}
	return e
}

type noopEffect struct{}

func (noopEffect) stop() {}

// startEffect は種類に応じた副作用を開始する
func startEffect(cfg Config, tempDir string) (effect, error) {
	switch cfg.Type {
	case TypeMemoryCorruption:
		return startMemoryChurn(cfg)
	case TypeCPUOverload:
		return startCPUOverload(cfg), nil
	case TypeDiskIOError:
		return startDiskIO(cfg, tempDir)
	case TypeNetworkPacketLoss, TypeTimingAnomaly:
		return startTimer(), nil
	default:
		return noopEffect{}, nil
	}
}

// memorySize は重大度ごとのバッファサイズ（8〜64 MiB）
func memorySize(sev Severity) int {
	return (8 << 20) << sev.level()
}

// startMemoryChurn は有界なバッファの確保と破棄を繰り返す
func startMemoryChurn(cfg Config) (effect, error) {
	size := memorySize(cfg.Severity)
	if v := cfg.Param("size_mib", ""); v != "" {
		mib, err := strconv.Atoi(v)
		if err != nil || mib <= 0 || mib > 64 {
			return nil, cerrors.Setup{Component: "fault", Target: cfg.Target, Reason: "invalid size_mib " + v}
		}
		size = mib << 20
	}

	return spawn(1, func(ctx context.Context) {
		ticker := time.NewTicker(churnInterval)
		defer ticker.Stop()

		// 直近2つだけ保持し、それ以前は GC に任せる
		held := make([][]byte, 2)
		for i := 0; ; i++ {
			buf := make([]byte, size)
			for j := 0; j < len(buf); j += 4096 {
				buf[j] = byte(i + j)
			}
			held[i%len(held)] = buf

			select {
			case <-ctx.Done():
				clear(held)
				return
			case <-ticker.C:
			}
		}
	}), nil
}

// cpuThreads は重大度ごとの追加ゴルーチン数
func cpuThreads(sev Severity) int {
	cpus := runtime.NumCPU()
	switch sev {
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return max(1, cpus/2)
	case SeverityCritical:
		return cpus
	default:
		return 1
	}
}

// startCPUOverload は追加のビジーループを回す
func startCPUOverload(cfg Config) effect {
	return spawn(cpuThreads(cfg.Severity), func(ctx context.Context) {
		x := 1.0
		for ctx.Err() == nil {
			for i := range 1000 {
				x = math.Sqrt(x + float64(i))
			}
		}
	})
}

// startDiskIO は一時ディレクトリで使い捨ての書き込みと削除を繰り返す
func startDiskIO(cfg Config, tempDir string) (effect, error) {
	base := cfg.Param("dir", tempDir)
	dir, err := os.MkdirTemp(base, "hwstress-fault-*")
	if err != nil {
		return nil, cerrors.Setup{Component: "fault", Target: cfg.Target, Reason: fmt.Sprintf("create temp dir under %s: %v", base, err)}
	}

	block := make([]byte, diskIOBlockSize)
	_, _ = rand.New(rand.NewSource(time.Now().UnixNano())).Read(block)

	e := spawn(1, func(ctx context.Context) {
		ticker := time.NewTicker(diskIOInterval)
		defer ticker.Stop()

		for i := 0; ; i++ {
			path := filepath.Join(dir, "io-"+strconv.Itoa(i%4)+".tmp")
			// 書き込みエラー自体が障害の想定内
			_ = writeAndRemove(path, block)
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	})
	e.cleanup = func() { _ = os.RemoveAll(dir) }
	return e, nil
}

func writeAndRemove(path string, block []byte) error {
	if err := os.WriteFile(path, block, 0o600); err != nil {
		return err
	}
	return os.Remove(path)
}

// startTimer はパケットロスやタイミング異常の代わりとなるタイマー
func startTimer() effect {
	return spawn(1, func(ctx context.Context) {
		ticker := time.NewTicker(timerInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	})
}
