// Package orchestrator runs a registry of stress workers.
//
// An Orchestrator holds workers in registration order, applies the global
// duration and intensity to workers without a per-worker override, and fans
// start/complete/progress notifications out to a single set of callbacks.
//
// # Basic Usage
//
//	o := orchestrator.New(orchestrator.Config{Logger: log})
//	_ = o.SetGlobalDuration(30 * time.Second)
//
//	if err := o.CreateWorkers(worker.KindCPU, 2, "cpu"); err != nil {
//	    return err
//	}
//	o.OnComplete(func(r worker.Result) {
//	    fmt.Println(r.Name, r.Status)
//	})
//
//	results, err := o.RunAll(ctx)
//
// # Overrides
//
// SetWorkerConfig pins a worker's configuration. It must be called before the
// worker's first run; afterwards global changes no longer apply to it.
//
// # Thread Safety
//
// All operations are safe for concurrent use. Callbacks run on the goroutine
// that observed the event and must not block for long.
package orchestrator
