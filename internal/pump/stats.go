package pump

import "time"

// runStats invokes cb.OnStatsUpdate once per interval until stop fires.
func runStats(counters *Counters, cb Callback, stop *StopHandle, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop.Wait():
			return nil
		case <-ticker.C:
			tx, rx := counters.Snapshot()
			cb.OnStatsUpdate(tx, rx)
		}
	}
}
