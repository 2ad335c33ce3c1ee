// Package metrics provides system metric sampling and per-worker iteration
// statistics.
//
// A Provider samples the machine (or a synthetic model of it) on a fixed
// interval and hands out immutable Snapshot values. Workers attach a provider
// to record a baseline, a peak and a bounded history of samples for their run.
//
// # Providers
//
//	p := metrics.NewSynthetic(42) // seeded random walk, deterministic in tests
//	p.OnSample(func(s metrics.Snapshot) {
//	    fmt.Printf("cpu=%.1f%% mem=%.1f%%\n", s.CPUUsage, s.MemoryUsage)
//	})
//	p.StartSampling(500 * time.Millisecond)
//	defer p.StopSampling()
//
// On Linux, NewSystem reads /proc/stat, /proc/meminfo and the thermal zones
// under /sys, and reports root filesystem usage.
//
// # History
//
// History keeps the most recent N snapshots and evicts the oldest once it is
// full. Summarize reduces a slice of snapshots to averages and maxima, and
// WriteCSV / WriteJSON export them.
//
// # Iterations
//
// Iterations counts completed and failed iterations and tracks their latency.
// All operations are safe for concurrent use.
package metrics
