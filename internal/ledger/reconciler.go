package ledger

import (
	"context"
	"log/slog"
	"time"
)

// Reconciler runs Service.Reconcile on a fixed interval.
type Reconciler struct {
	svc      *Service
	interval time.Duration
	logger   *slog.Logger
}

func NewReconciler(svc *Service, interval time.Duration, logger *slog.Logger) *Reconciler {
	return &Reconciler{svc: svc, interval: interval, logger: logger}
}

// Run blocks until ctx is cancelled. A failed pass is logged and retried on the next tick.
// A non-positive interval disables the job.
func (r *Reconciler) Run(ctx context.Context) error {
	if r.interval <= 0 {
		r.logger.InfoContext(ctx, "periodic reconciliation disabled")
		return nil
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.check(ctx)
		}
	}
}

func (r *Reconciler) check(ctx context.Context) {
	mismatches, err := r.svc.Reconcile(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "reconciliation failed", "error", err)
		return
	}

	if len(mismatches) == 0 {
		r.logger.DebugContext(ctx, "reconciliation clean")
		return
	}

	r.logger.ErrorContext(ctx, "reconciliation found mismatches", "count", len(mismatches))
}
