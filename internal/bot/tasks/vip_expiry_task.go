package tasks

import (
	"context"
	"fmt"
)

// newVIPExpiryTask creates the task that revokes VIP from users whose paid
// period has run out. VIP granted without an end date is left alone.
func newVIPExpiryTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", VIPExpiry)

	return func(ctx context.Context) error {
		n, err := deps.Store.ExpireVIP(ctx, deps.now())
		if err != nil {
			log.ErrorContext(ctx, "VIP expiry task failed", "error", err)
			return fmt.Errorf("vip expiry failed: %w", err)
		}
		if n > 0 {
			log.InfoContext(ctx, "Expired VIP subscriptions", "count", n)
		} else {
			log.DebugContext(ctx, "No VIP subscriptions due to expire")
		}
		return nil
	}
}
