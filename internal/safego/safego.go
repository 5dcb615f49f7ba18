// Package safego launches background goroutines that survive panics.
package safego

import (
	"log/slog"
	"runtime/debug"
)

// Go runs fn in its own goroutine, recovering and logging any panic instead of
// taking the process down. The recorder's shipper fan-out, the background jobs,
// and the policy watcher all go through here so a panic in one delivery or one
// sweep never kills the server.
func Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in background goroutine",
					"panic", r,
					"stack", string(debug.Stack()))
			}
		}()
		fn()
	}()
}
