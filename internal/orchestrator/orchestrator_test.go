package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"hwstress/internal/cerrors"
	"hwstress/internal/metrics"
	"hwstress/internal/telemetry"
	"hwstress/internal/worker"
)

func newCPU(t *testing.T, name string) *worker.Stressor {
	t.Helper()
	cfg := worker.DefaultConfig(worker.KindCPU, name)
	cfg.Intensity = 1
	cfg.SampleInterval = 10 * time.Millisecond
	w, err := worker.New(worker.KindCPU, cfg)
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func TestNewOrchestrator(t *testing.T) {
	o := New(Config{})

	if o.Size() != 0 {
		t.Errorf("expected size 0, got %d", o.Size())
	}
	if o.GlobalDuration() != worker.DefaultDuration {
		t.Errorf("expected default duration, got %v", o.GlobalDuration())
	}
	if o.GlobalIntensity() != worker.DefaultIntensity {
		t.Errorf("expected default intensity, got %d", o.GlobalIntensity())
	}
}

func TestAddRemoveWorker(t *testing.T) {
	o := New(Config{})
	w := newCPU(t, "cpu-1")

	// Add
	if err := o.AddWorker(w); err != nil {
		t.Errorf("failed to add worker: %v", err)
	}
	if o.Size() != 1 {
		t.Errorf("expected size 1, got %d", o.Size())
	}

	// Add duplicate should fail
	err := o.AddWorker(newCPU(t, "cpu-1"))
	if !cerrors.IsConfiguration(err) {
		t.Errorf("expected configuration error for duplicate, got %v", err)
	}

	// Get
	got, ok := o.Worker("cpu-1")
	if !ok || got.Name() != "cpu-1" {
		t.Error("expected to find worker")
	}

	// Remove
	if err := o.RemoveWorker("cpu-1"); err != nil {
		t.Errorf("failed to remove worker: %v", err)
	}
	if o.Size() != 0 {
		t.Errorf("expected size 0, got %d", o.Size())
	}

	// Remove non-existent should fail
	if err := o.RemoveWorker("cpu-1"); err == nil {
		t.Error("expected error when removing non-existent worker")
	}
}

func TestWorkersRegistrationOrder(t *testing.T) {
	o := New(Config{})
	names := []string{"zeta", "alpha", "mid", "beta"}
	for _, n := range names {
		if err := o.AddWorker(newCPU(t, n)); err != nil {
			t.Fatal(err)
		}
	}

	ws := o.Workers()
	for i, w := range ws {
		if w.Name() != names[i] {
			t.Errorf("expected %s at %d, got %s", names[i], i, w.Name())
		}
	}
}

func TestGlobalSettingsValidation(t *testing.T) {
	o := New(Config{})

	if err := o.SetGlobalDuration(0); !cerrors.IsConfiguration(err) {
		t.Errorf("expected configuration error, got %v", err)
	}
	if err := o.SetGlobalIntensity(0); !cerrors.IsConfiguration(err) {
		t.Errorf("expected configuration error, got %v", err)
	}
	if err := o.SetGlobalIntensity(11); !cerrors.IsConfiguration(err) {
		t.Errorf("expected configuration error, got %v", err)
	}

	if err := o.SetGlobalDuration(time.Second); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := o.SetGlobalIntensity(3); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if o.GlobalDuration() != time.Second || o.GlobalIntensity() != 3 {
		t.Errorf("globals not applied: %v / %d", o.GlobalDuration(), o.GlobalIntensity())
	}
}

func TestRunOneUnknownWorker(t *testing.T) {
	o := New(Config{})
	if _, err := o.RunOne(context.Background(), "ghost"); err == nil {
		t.Error("expected error for unknown worker")
	}
	if _, ok := o.Result("ghost"); ok {
		t.Error("expected no result for unknown worker")
	}
}

func TestRunOneAppliesGlobals(t *testing.T) {
	o := New(Config{})
	_ = o.SetGlobalDuration(200 * time.Millisecond)
	_ = o.SetGlobalIntensity(1)
	_ = o.AddWorker(newCPU(t, "cpu-1"))

	var started []string
	var completed []worker.Result
	o.OnStart(func(name string) { started = append(started, name) })
	o.OnComplete(func(r worker.Result) { completed = append(completed, r) })

	r, err := o.RunOne(context.Background(), "cpu-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Status != worker.StatusCompleted {
		t.Errorf("expected COMPLETED, got %s", r.Status)
	}
	if r.Elapsed > 2*time.Second {
		t.Errorf("expected global duration to apply, elapsed %v", r.Elapsed)
	}
	if len(started) != 1 || started[0] != "cpu-1" {
		t.Errorf("expected one start callback, got %v", started)
	}
	if len(completed) != 1 || completed[0].Name != "cpu-1" {
		t.Errorf("expected one complete callback, got %d", len(completed))
	}
}

func TestWorkerOverride(t *testing.T) {
	o := New(Config{})
	_ = o.SetGlobalDuration(time.Minute)
	_ = o.AddWorker(newCPU(t, "cpu-1"))

	cfg := worker.DefaultConfig(worker.KindCPU, "cpu-1")
	cfg.Duration = 150 * time.Millisecond
	cfg.Intensity = 2
	if err := o.SetWorkerConfig("cpu-1", cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r, err := o.RunOne(context.Background(), "cpu-1")
	if err != nil {
		t.Fatal(err)
	}
	if r.Elapsed > 2*time.Second {
		t.Errorf("expected override duration, elapsed %v", r.Elapsed)
	}
	w, _ := o.Worker("cpu-1")
	if w.Config().Intensity != 2 {
		t.Errorf("expected override intensity 2, got %d", w.Config().Intensity)
	}

	// Override after first start should fail
	if err := o.SetWorkerConfig("cpu-1", cfg); !cerrors.IsConfiguration(err) {
		t.Errorf("expected configuration error after start, got %v", err)
	}
	if err := o.SetWorkerConfig("ghost", cfg); err == nil {
		t.Error("expected error for unknown worker")
	}
}

func TestInvalidOverrideRejected(t *testing.T) {
	o := New(Config{})
	_ = o.AddWorker(newCPU(t, "cpu-1"))

	cfg := worker.DefaultConfig(worker.KindCPU, "cpu-1")
	cfg.Intensity = 99
	if err := o.SetWorkerConfig("cpu-1", cfg); !cerrors.IsConfiguration(err) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestRunAllCompletesInOrder(t *testing.T) {
	m := telemetry.NewMetrics()
	o := New(Config{Metrics: m})
	_ = o.SetGlobalDuration(500 * time.Millisecond)
	_ = o.SetGlobalIntensity(1)

	kinds := []worker.Kind{worker.KindCPU, worker.KindGPU, worker.KindCPU, worker.KindGPU}
	for i, k := range kinds {
		cfg := worker.DefaultConfig(k, fmt.Sprintf("w-%d", i))
		cfg.Params = map[string]string{"matrix_size": "16"}
		w, err := worker.New(k, cfg)
		if err != nil {
			t.Fatal(err)
		}
		if err := o.AddWorker(w); err != nil {
			t.Fatal(err)
		}
	}

	var mu sync.Mutex
	var started, order []string
	o.OnStart(func(name string) {
		mu.Lock()
		started = append(started, name)
		mu.Unlock()
	})
	o.OnComplete(func(r worker.Result) {
		mu.Lock()
		order = append(order, r.Name)
		mu.Unlock()
		if r.Status != worker.StatusCompleted {
			t.Errorf("expected %s COMPLETED, got %s", r.Name, r.Status)
		}
	})

	start := time.Now()
	results, err := o.RunAll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("expected workers to run concurrently, took %v", time.Since(start))
	}

	if len(results) != 4 {
		t.Fatalf("expected 4 results, got %d", len(results))
	}
	for i, r := range results {
		want := fmt.Sprintf("w-%d", i)
		if r.Name != want {
			t.Errorf("expected result %d to be %s, got %s", i, want, r.Name)
		}
		if order[i] != want {
			t.Errorf("expected completion %d to be %s, got %s", i, want, order[i])
		}
	}
	if len(started) != 4 {
		t.Errorf("expected 4 start callbacks, got %d", len(started))
	}
	if o.IsAnyRunning() {
		t.Error("expected no running workers")
	}

	expected := `
# HELP hwstress_worker_runs_total Worker runs by kind and terminal status
# TYPE hwstress_worker_runs_total counter
hwstress_worker_runs_total{kind="cpu",status="COMPLETED"} 2
hwstress_worker_runs_total{kind="gpu",status="COMPLETED"} 2
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "hwstress_worker_runs_total"); err != nil {
		t.Errorf("unexpected worker run counters: %v", err)
	}
}

func TestRunAllEmpty(t *testing.T) {
	o := New(Config{})
	results, err := o.RunAll(context.Background())
	if err != nil || len(results) != 0 {
		t.Errorf("expected no results and no error, got %v / %v", results, err)
	}
}

func TestRunAllContextCancel(t *testing.T) {
	o := New(Config{})
	_ = o.SetGlobalDuration(time.Minute)
	_ = o.SetGlobalIntensity(1)
	_ = o.AddWorker(newCPU(t, "cpu-1"))
	_ = o.AddWorker(newCPU(t, "cpu-2"))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	results, err := o.RunAll(ctx)
	if err == nil {
		t.Error("expected context error")
	}
	for _, r := range results {
		if r.Status != worker.StatusInterrupted {
			t.Errorf("expected %s INTERRUPTED, got %s", r.Name, r.Status)
		}
	}
}

func TestStopAll(t *testing.T) {
	o := New(Config{})
	_ = o.SetGlobalDuration(time.Minute)
	_ = o.SetGlobalIntensity(1)
	_ = o.AddWorker(newCPU(t, "cpu-1"))
	_ = o.AddWorker(newCPU(t, "cpu-2"))

	done := make(chan []worker.Result)
	go func() {
		results, _ := o.RunAll(context.Background())
		done <- results
	}()

	time.Sleep(100 * time.Millisecond)
	if !o.IsAnyRunning() {
		t.Fatal("expected workers to be running")
	}
	if o.RunningCount() != 2 {
		t.Errorf("expected 2 running, got %d", o.RunningCount())
	}

	o.StopAll()

	select {
	case results := <-done:
		for _, r := range results {
			if r.Status != worker.StatusInterrupted {
				t.Errorf("expected INTERRUPTED, got %s", r.Status)
			}
		}
	case <-time.After(3 * time.Second):
		t.Fatal("RunAll did not return after StopAll")
	}
}

func TestRunOneWhileRunning(t *testing.T) {
	o := New(Config{})
	_ = o.SetGlobalDuration(time.Minute)
	_ = o.AddWorker(newCPU(t, "cpu-1"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_, _ = o.RunOne(ctx, "cpu-1")
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if _, err := o.RunOne(context.Background(), "cpu-1"); err == nil {
		t.Error("expected error when worker is already running")
	}

	cancel()
	<-done

	r, ok := o.Result("cpu-1")
	if !ok || r.Status != worker.StatusInterrupted {
		t.Errorf("expected INTERRUPTED, got %s", r.Status)
	}
}

func TestConcurrentRunOneFiresOnce(t *testing.T) {
	o := New(Config{})
	_ = o.SetGlobalDuration(500 * time.Millisecond)
	_ = o.AddWorker(newCPU(t, "cpu-1"))

	var mu sync.Mutex
	starts, completes := 0, 0
	o.OnStart(func(string) {
		mu.Lock()
		starts++
		mu.Unlock()
	})
	o.OnComplete(func(worker.Result) {
		mu.Lock()
		completes++
		mu.Unlock()
	})

	const callers = 8
	gate := make(chan struct{})
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-gate
			_, err := o.RunOne(context.Background(), "cpu-1")
			errs <- err
		}()
	}
	close(gate)
	wg.Wait()
	close(errs)

	succeeded, rejected := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case cerrors.IsConfiguration(err):
			rejected++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || rejected != callers-1 {
		t.Errorf("expected 1 run and %d rejections, got %d and %d", callers-1, succeeded, rejected)
	}

	mu.Lock()
	if starts != 1 || completes != 1 {
		t.Errorf("expected one start and one complete callback, got %d and %d", starts, completes)
	}
	mu.Unlock()

	if _, err := o.RunAll(context.Background()); err != nil {
		t.Errorf("expected worker released after completion, got %v", err)
	}
}

func TestSetProviderAppliesToWorkers(t *testing.T) {
	o := New(Config{})
	_ = o.SetGlobalDuration(100 * time.Millisecond)
	_ = o.AddWorker(newCPU(t, "cpu-1"))
	o.SetProvider(metrics.NewSynthetic(3))
	// Added after the provider is attached
	_ = o.AddWorker(newCPU(t, "cpu-2"))

	results, err := o.RunAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if len(r.MetricsHistory) == 0 {
			t.Errorf("expected %s to record samples", r.Name)
		}
	}
	if len(o.Results()) != 2 {
		t.Errorf("expected 2 results, got %d", len(o.Results()))
	}
}

func TestProgressCallback(t *testing.T) {
	o := New(Config{})
	_ = o.SetGlobalDuration(300 * time.Millisecond)
	_ = o.AddWorker(newCPU(t, "cpu-1"))

	var mu sync.Mutex
	var last float64
	o.OnProgress(func(name string, p float64) {
		mu.Lock()
		last = p
		mu.Unlock()
	})

	if _, err := o.RunOne(context.Background(), "cpu-1"); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	defer mu.Unlock()
	if last != 1 {
		t.Errorf("expected final progress 1, got %v", last)
	}
}

func TestRunOneSpan(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	o := New(Config{Tracer: tp.Tracer("test")})
	_ = o.SetGlobalDuration(100 * time.Millisecond)
	_ = o.AddWorker(newCPU(t, "cpu-1"))

	if _, err := o.RunOne(context.Background(), "cpu-1"); err != nil {
		t.Fatal(err)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "orchestrator.run_one" {
		t.Errorf("unexpected span name %s", spans[0].Name)
	}
}

func TestCreateWorkers(t *testing.T) {
	o := New(Config{})
	if err := o.CreateWorkers(worker.KindMemory, 3, "mem"); err != nil {
		t.Fatal(err)
	}
	if o.Size() != 3 {
		t.Errorf("expected 3 workers, got %d", o.Size())
	}
	if _, ok := o.Worker("mem-2"); !ok {
		t.Error("expected mem-2 to exist")
	}
	if err := o.CreateWorkers(worker.KindMemory, 1, "mem"); err == nil {
		t.Error("expected duplicate error")
	}
}
