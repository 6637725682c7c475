// Package goroutine provides panic recovery helpers for long-lived
// background goroutines.
package goroutine

import (
	"runtime/debug"

	"go.uber.org/zap"
)

// Recover logs a recovered panic with its stack trace. Use as a deferred
// call at the top of goroutines that must never take the process down.
func Recover(component string, logger *zap.SugaredLogger) {
	if r := recover(); r != nil {
		logger.Errorw("Recovered from panic",
			"component", component,
			"panic", r,
			"stack", string(debug.Stack()))
	}
}
