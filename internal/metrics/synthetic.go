package metrics

import (
	"math/rand"
	"sync"
	"time"
)

// 合成メトリクスの値域
const (
	syntheticCPUMin  = 10.0
	syntheticCPUMax  = 90.0
	syntheticMemMin  = 20.0
	syntheticMemMax  = 80.0
	syntheticDiskMin = 30.0
	syntheticDiskMax = 60.0
	syntheticTempMin = 30.0
	syntheticTempMax = 70.0
	syntheticStep    = 8.0
)

const syntheticTotalMemory uint64 = 16 << 30

// Synthetic は擬似乱数のランダムウォークでメトリクスを生成する
// シードを固定すると系列が再現可能になる
type Synthetic struct {
	sampler

	rngMu sync.Mutex
	rng   *rand.Rand
	cpu   float64
	mem   float64
	disk  float64
	temp  float64
}

var _ Provider = (*Synthetic)(nil)

// NewSynthetic は合成プロバイダを作成する
// seed が 0 の場合は現在時刻を使う
func NewSynthetic(seed int64) *Synthetic {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	s := &Synthetic{
		rng:  rng,
		cpu:  uniform(rng, syntheticCPUMin, syntheticCPUMax),
		mem:  uniform(rng, syntheticMemMin, syntheticMemMax),
		disk: uniform(rng, syntheticDiskMin, syntheticDiskMax),
		temp: uniform(rng, syntheticTempMin, syntheticTempMax),
	}
	s.read = s.next
	return s
}

// next は次のサンプルを生成する
func (s *Synthetic) next() Snapshot {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()

	s.cpu = s.walk(s.cpu, syntheticCPUMin, syntheticCPUMax)
	s.mem = s.walk(s.mem, syntheticMemMin, syntheticMemMax)
	s.disk = s.walk(s.disk, syntheticDiskMin, syntheticDiskMax)
	s.temp = s.walk(s.temp, syntheticTempMin, syntheticTempMax)

	avail := uint64(float64(syntheticTotalMemory) * (1 - s.mem/100))

	return Snapshot{
		CPUUsage:        s.cpu,
		MemoryUsage:     s.mem,
		DiskUsage:       s.disk,
		Temperature:     s.temp,
		TotalMemory:     syntheticTotalMemory,
		AvailableMemory: avail,
		Timestamp:       time.Now(),
	}
}

func (s *Synthetic) walk(v, lo, hi float64) float64 {
	v += (s.rng.Float64()*2 - 1) * syntheticStep
	if v < lo {
		v = lo
	}
	if v > hi {
		v = hi
	}
	return v
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}
