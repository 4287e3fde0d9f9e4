package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Watchdog periodically sweeps the cache and marks idle devices and modules
// offline: a single goroutine started from the composition root, cancelled
// via context. It deletes nothing and emits no event on timeout — the
// online flag flips and snapshot readers see it on their next poll.
type Watchdog struct {
	cache    *Cache
	interval time.Duration
	timeout  time.Duration
	log      zerolog.Logger
}

// NewWatchdog creates a watchdog that sweeps every interval and marks a
// module offline once now-lastSeenHeartbeat exceeds timeout.
func NewWatchdog(c *Cache, interval, timeout time.Duration, log zerolog.Logger) *Watchdog {
	return &Watchdog{cache: c, interval: interval, timeout: timeout, log: log}
}

// Run blocks, sweeping on each tick until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := w.sweep()
			if n > 0 {
				w.log.Debug().Int("marked_offline", n).Msg("watchdog sweep")
			}
		}
	}
}

// sweep marks every module whose heartbeat is stale, and every device whose
// last metadata sighting is stale, as offline and returns the number of
// modules and devices transitioned.
func (w *Watchdog) sweep() int {
	w.cache.mu.Lock()
	defer w.cache.mu.Unlock()

	n := 0
	cutoff := now()
	for _, m := range w.cache.telemetryByKey {
		if !m.Online {
			continue
		}
		if m.LastSeenHeartbeat.IsZero() {
			continue
		}
		if cutoff.Sub(m.LastSeenHeartbeat) > w.timeout {
			m.Online = false
			n++
		}
	}
	for _, d := range w.cache.metaByDevice {
		if !d.Online || d.LastSeenInfo.IsZero() {
			continue
		}
		if cutoff.Sub(d.LastSeenInfo) > w.timeout {
			d.Online = false
			n++
		}
	}
	return n
}
