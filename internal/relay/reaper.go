package relay

import (
	"context"
	"time"
)

// ReapIdle removes rooms that have had no members for at least maxIdle.
// Such rooms come from join requests whose client never opened a channel.
// It returns the number of rooms removed.
func (r *Relay) ReapIdle(maxIdle time.Duration) int {
	now := r.now()
	reaped := 0

	for _, rm := range r.snapshot() {
		rm.mu.Lock()
		if !rm.closed && rm.empty() && now.Sub(rm.emptySince) >= maxIdle {
			r.dropLocked(rm)
			reaped++
			r.logger.Info("Room removed", "room", rm.id, "reason", "idle")
		}
		rm.mu.Unlock()
	}
	return reaped
}

// RunReaper calls ReapIdle every interval until ctx is cancelled.
func (r *Relay) RunReaper(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.ReapIdle(maxIdle); n > 0 {
				r.logger.Debug("Reaped idle rooms", "count", n)
			}
		}
	}
}
