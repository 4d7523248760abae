package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/safar/go-storefront/internal/database"
)

// RunAutoComplete completes paid orders that have stayed delivered longer
// than after, checking every interval until ctx is done. Several replicas
// may run it at once: each claim skips rows locked by another worker.
func (s *Service) RunAutoComplete(ctx context.Context, after, interval time.Duration) {
	if after <= 0 || interval <= 0 {
		return
	}

	logger := s.deps.Logger.With("worker", "auto_complete")
	logger.InfoContext(ctx, "auto-completion started", "after", after, "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		completed, err := s.completeBatch(ctx, time.Now().Add(-after))
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.ErrorContext(ctx, "auto-completion pass failed", "error", err)
		}
		if completed > 0 {
			logger.InfoContext(ctx, "auto-completion pass", "completed", completed)
		}

		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "auto-completion stopped")
			return
		case <-ticker.C:
		}
	}
}

// completeBatch drains every order due at cutoff, one transaction each. An
// order that fails is logged and passed over for the rest of the pass so it
// cannot hold back the orders behind it.
func (s *Service) completeBatch(ctx context.Context, cutoff time.Time) (int, error) {
	var (
		completed int
		failed    []int64
	)
	for {
		if err := ctx.Err(); err != nil {
			return completed, err
		}

		orderID, outcome, err := s.completeNext(ctx, cutoff, failed)
		switch {
		case errors.Is(err, database.ErrOrderNotFound):
			return completed, nil
		case err != nil && orderID != 0 && ctx.Err() == nil:
			s.deps.Logger.ErrorContext(ctx, "auto-completion failed for order",
				"order_id", orderID,
				"error", err)
			failed = append(failed, orderID)
		case err != nil:
			return completed, err
		case outcome.Applied:
			completed++
		}
	}
}
