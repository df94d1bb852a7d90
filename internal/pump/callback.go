package pump

// Callback is the host-facing observer. Implementations must be
// non-blocking and safe to call from any task's goroutine; a slow callback
// only delays the task that invoked it.
type Callback interface {
	// OnStatsUpdate fires roughly once per second with cumulative totals.
	OnStatsUpdate(tx, rx uint64)
	// OnStop fires exactly once when the session tears down. reason is
	// "Stopped" for a clean stop, or the first terminal error's text.
	OnStop(reason string)
}
