package chat

import (
	"context"
	"time"
)

// RunFlusher calls SaveAll every interval until ctx is done. Failures are
// logged by SaveAll and retried on the next tick.
func (r *Instances) RunFlusher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.SaveAll(ctx); err != nil {
				r.logger.Warn("periodic save failed", "err", err)
			}
		}
	}
}
