package idempotency

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunJanitor deletes expired records every interval until ctx is done. Each sweep removes
// at most batch records; a full batch triggers an immediate follow-up sweep.
func RunJanitor(ctx context.Context, store Store, interval time.Duration, batch int, logger *zap.Logger) {
	if store == nil || interval <= 0 {
		return
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for {
				removed, err := store.CleanupExpired(ctx, now, batch)
				if err != nil {
					logger.Warn("idempotency cleanup failed", zap.Error(err))
					break
				}
				if removed > 0 {
					logger.Debug("idempotency records removed", zap.Int("count", removed))
				}
				if batch <= 0 || removed < batch || ctx.Err() != nil {
					break
				}
			}
		}
	}
}
