// Package logging provides structured logging for crossfix runs.
//
// This package wraps Go's log/slog to provide JSON-formatted logs with
// persistent context attributes. Each run writes a single debug.log inside
// its run directory so a finished run can be analyzed after the fact next
// to its iteration history.
//
// # Context Propagation
//
//	runLogger := logger.WithRun("3f2a9c")
//	implLogger := runLogger.WithLoop("implementation").WithPhase("self_review_alignment")
//	implLogger.Info("round completed", "iteration", 4, "write_actions", 2)
//
// Output:
//
//	{"time":"...","level":"INFO","msg":"round completed","run_id":"3f2a9c","loop":"implementation","phase":"self_review_alignment","iteration":4,"write_actions":2}
//
// # Rotation
//
// [NewLoggerWithRotation] writes through a [RotatingWriter] backed by an
// afero.Fs, so long runs with verbose backends do not grow a single log file
// without bound. Tests use afero.NewMemMapFs.
//
// # Thread Safety
//
// All types in this package are safe for concurrent use. Child loggers
// created via With* methods share the underlying writer.
package logging
