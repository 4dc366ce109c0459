package game

import (
	"context"
	"log"
	"time"
)

// Retrier re-applies credits left over by failed settlements.
type Retrier interface {
	Pending(ctx context.Context) ([]Unresolved, error)
	RetryUnresolved(ctx context.Context) (int, error)
}

// StartReconciler periodically retries unresolved settlement credits until
// ctx is cancelled. It runs once immediately on startup.
func StartReconciler(ctx context.Context, r Retrier, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("[RECONCILE] Starting settlement reconciler (check every %v)", interval)

	reconcileOnce(ctx, r)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[RECONCILE] Reconciler stopped")
			return
		case <-ticker.C:
			reconcileOnce(ctx, r)
		}
	}
}

func reconcileOnce(ctx context.Context, r Retrier) int {
	pending, err := r.Pending(ctx)
	if err != nil {
		log.Printf("[RECONCILE] Failed to list unresolved credits: %v", err)
		return 0
	}
	if len(pending) == 0 {
		return 0
	}

	log.Printf("[RECONCILE] Retrying %d unresolved credit(s)", len(pending))
	resolved, err := r.RetryUnresolved(ctx)
	if err != nil {
		log.Printf("[RECONCILE] Retry failed: %v", err)
		return 0
	}
	if left := len(pending) - resolved; left > 0 {
		log.Printf("[RECONCILE] %d credit(s) still owed after retry", left)
	}
	return resolved
}
