package worker

import (
	"context"
	"hash/crc32"
	"math"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"

	"hwstress/internal/cerrors"
)

const (
	cpuSteps          = 10000
	defaultMatrixSize = 128
	memoryBlockUnit   = 4 << 20 // intensity あたりのブロックサイズ
	defaultRetained   = 2
)

// cpuPayload は三角関数の演算で CPU を使う
type cpuPayload struct{}

func (p *cpuPayload) setup(Config) error { return nil }

func (p *cpuPayload) iterate(ctx context.Context, _ int) error {
	acc := 0.0
	for i := 0; i < cpuSteps; i++ {
		x := float64(i) * 0.001
		acc += math.Sin(x) * math.Cos(x) * math.Sqrt(x+1)
		acc = math.Mod(acc, 1000)
	}
	if math.IsNaN(acc) || math.IsInf(acc, 0) {
		return cerrors.Runtime{Component: string(KindCPU), Reason: "arithmetic produced a non-finite value"}
	}
	return ctx.Err()
}

func (p *cpuPayload) cleanup() {}

// gpuPayload は float64 の行列積で GPU 計算を模擬する
type gpuPayload struct {
	size int
	mats []matrixSet
}

type matrixSet struct {
	a, b, c []float64
}

func (p *gpuPayload) setup(cfg Config) error {
	size := defaultMatrixSize
	if v := cfg.Param("matrix_size", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return cerrors.Setup{Component: string(KindGPU), Target: cfg.Name, Reason: "invalid matrix_size " + v}
		}
		size = n
	}
	p.size = size

	n := Goroutines(KindGPU, cfg.Intensity)
	p.mats = make([]matrixSet, n)
	for i := range p.mats {
		rng := rand.New(rand.NewSource(int64(i + 1)))
		a := make([]float64, size*size)
		b := make([]float64, size*size)
		for j := range a {
			a[j] = rng.Float64()
			b[j] = rng.Float64()
		}
		p.mats[i] = matrixSet{a: a, b: b, c: make([]float64, size*size)}
	}
	return nil
}

func (p *gpuPayload) iterate(ctx context.Context, id int) error {
	m := p.mats[id%len(p.mats)]
	n := p.size
	for i := 0; i < n; i++ {
		if i%32 == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
		row := m.a[i*n : (i+1)*n]
		out := m.c[i*n : (i+1)*n]
		for j := 0; j < n; j++ {
			sum := 0.0
			for k := 0; k < n; k++ {
				sum += row[k] * m.b[k*n+j]
			}
			out[j] = sum
		}
	}
	if math.IsNaN(m.c[0]) {
		return cerrors.Runtime{Component: string(KindGPU), Reason: "matrix product produced NaN"}
	}
	return nil
}

func (p *gpuPayload) cleanup() {
	p.mats = nil
}

// memoryPayload はブロックの確保・書き込み・検証を繰り返す
// 直近のブロックを保持してメモリ使用量を維持する
type memoryPayload struct {
	blockSize int
	retain    int

	mu       sync.Mutex
	retained [][][]byte // goroutine ごとのリング
	next     []int
	rngs     []*rand.Rand
}

func (p *memoryPayload) setup(cfg Config) error {
	p.blockSize = cfg.Intensity * memoryBlockUnit
	if v := cfg.Param("block_mib", ""); v != "" {
		mib, err := strconv.Atoi(v)
		if err != nil || mib <= 0 {
			return cerrors.Setup{Component: string(KindMemory), Target: cfg.Name, Reason: "invalid block_mib " + v}
		}
		p.blockSize = mib << 20
	}
	p.retain = defaultRetained
	if v := cfg.Param("retain", ""); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return cerrors.Setup{Component: string(KindMemory), Target: cfg.Name, Reason: "invalid retain " + v}
		}
		p.retain = n
	}

	n := Goroutines(KindMemory, cfg.Intensity)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retained = make([][][]byte, n)
	p.next = make([]int, n)
	p.rngs = make([]*rand.Rand, n)
	for i := range n {
		p.retained[i] = make([][]byte, p.retain)
		p.rngs[i] = rand.New(rand.NewSource(time.Now().UnixNano() + int64(i)))
	}
	return nil
}

func (p *memoryPayload) iterate(ctx context.Context, id int) error {
	block := make([]byte, p.blockSize)

	p.mu.Lock()
	rng := p.rngs[id]
	p.mu.Unlock()

	if _, err := rng.Read(block); err != nil {
		return errors.Wrap(err, "fill block")
	}
	want := crc32.ChecksumIEEE(block)

	if err := ctx.Err(); err != nil {
		return err
	}

	if got := crc32.ChecksumIEEE(block); got != want {
		return cerrors.Runtime{Component: string(KindMemory), Reason: "checksum mismatch after fill"}
	}

	if p.retain > 0 {
		p.mu.Lock()
		ring := p.retained[id]
		ring[p.next[id]] = block
		p.next[id] = (p.next[id] + 1) % len(ring)
		p.mu.Unlock()
	}
	return nil
}

func (p *memoryPayload) cleanup() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retained = nil
	p.next = nil
	p.rngs = nil
}
