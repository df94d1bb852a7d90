package pump

import "go.uber.org/atomic"

// Counters holds the session's cumulative byte totals. Only ever
// incremented; reads may be slightly stale relative to concurrent writes,
// which the stats task is fine with.
type Counters struct {
	tx atomic.Uint64
	rx atomic.Uint64
}

// AddTx accounts n bytes sent uplink.
func (c *Counters) AddTx(n int) {
	if n > 0 {
		c.tx.Add(uint64(n))
	}
}

// AddRx accounts n bytes received downlink.
func (c *Counters) AddRx(n int) {
	if n > 0 {
		c.rx.Add(uint64(n))
	}
}

// Snapshot reads both counters.
func (c *Counters) Snapshot() (tx, rx uint64) {
	return c.tx.Load(), c.rx.Load()
}
