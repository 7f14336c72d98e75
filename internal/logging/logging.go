// Package logging wires go.uber.org/zap for every ambient log line the
// engine emits — lock acquisitions, crash detection, backup cycles,
// transaction boundaries — the way the rest of the retrieval pack's
// infrastructure code (kubernetes-kubernetes vendors go.uber.org/zap)
// reaches for a structured logger rather than fmt.Printf.
package logging

import "go.uber.org/zap"

// New returns a production zap logger. Callers that want a different
// configuration (development mode, a custom sink) should build their
// own *zap.Logger and pass it to cozyfs.Option.Logger instead of
// calling New.
func New() *zap.Logger {
	logger, err := zap.NewProduction()
	if err != nil {
		// zap.NewProduction only fails to build its own sink, which
		// cannot happen with the default config; fall back rather
		// than propagate a constructor error through every caller.
		return zap.NewNop()
	}
	return logger
}

// Nop returns a logger that discards everything, for tests and callers
// that don't want log output.
func Nop() *zap.Logger {
	return zap.NewNop()
}
