// Package worker provides the stress workers and the goroutine set they run on.
//
// A Worker drives one resource (CPU, memory, disk, simulated GPU or the
// loopback network path) for a configured duration. Every worker follows the
// same state machine:
//
//	PENDING -> RUNNING -> COMPLETED | FAILED | TIMEOUT | INTERRUPTED
//
// # Basic Usage
//
//	cfg := worker.DefaultConfig(worker.KindCPU, "cpu-1")
//	cfg.Duration = 10 * time.Second
//	cfg.Intensity = 8
//
//	w, err := worker.New(worker.KindCPU, cfg)
//	if err != nil {
//	    return err
//	}
//	w.SetProvider(provider)
//	w.Start()
//	_ = w.Wait(ctx)
//	fmt.Println(w.Result().Status)
//
// # Goroutines
//
// The number of goroutines is derived from the intensity (see Goroutines).
// Each goroutine repeats one bounded iteration and checks for cancellation in
// between, so Stop returns well under a second after it is called.
//
// # Failures
//
// An iteration error is counted and the loop keeps going. Once more than ten
// iterations failed and failures make up more than half of all iterations the
// run ends as FAILED. A setup error (for example an unwritable temp directory
// for the disk worker) fails the run before any goroutine starts. If the
// goroutines do not stop within the grace period the run ends as TIMEOUT.
//
// # Pool
//
// Pool runs a fixed number of goroutines over the same Loop and stops them
// with a bounded grace period:
//
//	pool := worker.NewPool(4)
//	pool.Start(ctx, func(ctx context.Context, id int) {
//	    for ctx.Err() == nil {
//	        // do work
//	    }
//	})
//	drained := pool.Stop()
package worker
