// Package logger provides a component-tagged, thread-safe logging facility
// built on logrus.
//
// The logger supports four levels: Debug, Info, Warn, and Error.
// Each entry carries a timestamp, level, optional component name (a worker
// name, "orchestrator", "fault"), and message.
//
// # Basic Usage
//
// Components receive a *Logger at construction:
//
//	l := logger.New(os.Stderr, logger.LevelInfo)
//	orch := orchestrator.New(l)
//	l.Info("cpu-1", "completed %d operations", ops)
//
// A nil *Logger discards everything, so tests can pass nil.
//
// The package-level functions write to Default and exist for the CLI.
//
// # Formats
//
// FormatText renders "[timestamp] [LEVEL] [component] message key=value",
// FormatJSON delegates to logrus.JSONFormatter.
//
// # Thread Safety
//
// All logging operations are safe for concurrent use.
package logger
