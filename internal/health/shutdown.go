package health

import "sync/atomic"

var ready atomic.Bool

func init() {
	ready.Store(true)
}

// SetReady flips the global readiness gate. The HTTP server calls it with
// false when graceful shutdown starts so load balancers drain the instance.
func SetReady(v bool) {
	ready.Store(v)
}

// IsReady reports the current readiness gate state.
func IsReady() bool {
	return ready.Load()
}
