package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestNewIterations(t *testing.T) {
	m := NewIterations()

	if m.Total() != 0 {
		t.Errorf("expected 0 total iterations, got %d", m.Total())
	}
	if m.Succeeded() != 0 {
		t.Errorf("expected 0 succeeded iterations, got %d", m.Succeeded())
	}
}

func TestIterationsRecordSuccess(t *testing.T) {
	m := NewIterations()

	m.RecordSuccess(10 * time.Millisecond)
	m.RecordSuccess(20 * time.Millisecond)
	m.RecordSuccess(30 * time.Millisecond)

	if m.Total() != 3 {
		t.Errorf("expected 3 total iterations, got %d", m.Total())
	}
	if m.Succeeded() != 3 {
		t.Errorf("expected 3 succeeded iterations, got %d", m.Succeeded())
	}
	if m.Failed() != 0 {
		t.Errorf("expected 0 failed iterations, got %d", m.Failed())
	}
}

func TestIterationsRecordFailure(t *testing.T) {
	m := NewIterations()

	m.RecordFailure(10 * time.Millisecond)
	m.RecordSuccess(20 * time.Millisecond)

	if m.Total() != 2 {
		t.Errorf("expected 2 total iterations, got %d", m.Total())
	}
	if m.Failed() != 1 {
		t.Errorf("expected 1 failed iteration, got %d", m.Failed())
	}
}

func TestIterationsAverageLatency(t *testing.T) {
	m := NewIterations()

	m.RecordSuccess(10 * time.Millisecond)
	m.RecordSuccess(20 * time.Millisecond)
	m.RecordSuccess(30 * time.Millisecond)

	if avg := m.AverageLatency(); avg != 20*time.Millisecond {
		t.Errorf("expected average latency 20ms, got %v", avg)
	}
}

func TestIterationsErrorRate(t *testing.T) {
	m := NewIterations()

	m.RecordSuccess(10 * time.Millisecond)
	m.RecordFailure(10 * time.Millisecond)

	if rate := m.ErrorRate(); rate != 0.5 {
		t.Errorf("expected error rate 0.5, got %f", rate)
	}
}

func TestIterationsP99Latency(t *testing.T) {
	m := NewIterations()

	for i := 1; i <= 100; i++ {
		m.RecordSuccess(time.Duration(i) * time.Millisecond)
	}

	p99 := m.P99Latency()
	if p99 < 99*time.Millisecond || p99 > 100*time.Millisecond {
		t.Errorf("expected P99 around 99-100ms, got %v", p99)
	}
}

func TestIterationsReset(t *testing.T) {
	m := NewIterations()

	m.RecordSuccess(10 * time.Millisecond)
	m.RecordFailure(20 * time.Millisecond)

	m.Reset()

	if m.Total() != 0 {
		t.Errorf("expected total 0 after reset, got %d", m.Total())
	}
	if m.P99Latency() != 0 {
		t.Errorf("expected P99 0 after reset, got %v", m.P99Latency())
	}
}

func TestIterationsConcurrent(t *testing.T) {
	m := NewIterations()
	var wg sync.WaitGroup

	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				m.RecordSuccess(time.Millisecond)
			}
		}()
	}

	wg.Wait()

	if m.Total() != 10000 {
		t.Errorf("expected 10000 iterations, got %d", m.Total())
	}
}
