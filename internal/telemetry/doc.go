// Package telemetry holds the Prometheus collectors and the OpenTelemetry
// tracer setup shared by the orchestrator, the fault engine and the API server.
//
// Collectors live on a private registry so that several runs in one process
// (and parallel tests) do not collide with the global default registry.
//
//	m := telemetry.NewMetrics()
//	m.ObserveWorkerRun("cpu", "COMPLETED", 2*time.Second, 1200)
//	http.Handle("/metrics", m.Handler())
//
// A nil *Metrics is valid and records nothing.
//
// InitTracer installs a global tracer provider. With the stdout exporter spans
// are written as JSON to the configured writer; with "none" spans are created
// but never exported.
package telemetry
