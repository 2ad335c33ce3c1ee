// Package cerrors defines the error taxonomy shared by workers, the
// orchestrator, and the fault engine.
//
// Three kinds of failure are distinguished:
//
//   - Setup: a resource was unavailable before work started (temp directory,
//     loopback listener). Fatal to that run or injection.
//   - Runtime: an error during one iteration. Recorded; the loop continues
//     unless the failure rate crosses the worker threshold.
//   - Configuration: invalid duration, intensity, probability, or an unknown
//     name. Rejected synchronously.
//
// Setup and Runtime errors never cross the worker/orchestrator boundary as
// returned errors; callers observe them through worker.Result and
// fault.Record. Use TypeOf to classify an error after wrapping:
//
//	if cerrors.TypeOf(err) == cerrors.ErrorTypeConfiguration {
//	    // reject input
//	}
package cerrors
