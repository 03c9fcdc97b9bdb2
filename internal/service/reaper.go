package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/groundbook/internal/broker"
)

const maxSweepBatches = 100

// Sweep снимает все бронирования, срок ожидания оплаты которых истёк, и возвращает их число.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	total := 0
	for range maxSweepBatches {
		expired, err := s.repo.ExpirePendingBookings(ctx, s.now(), s.opts.ReaperBatchSize)
		if err != nil {
			return total, fmt.Errorf("%w: expire bookings: %w", ErrInternal, err)
		}

		for _, b := range expired {
			s.publish(ctx, broker.RoutingBookingExpired, map[string]any{
				"booking_id": b.ID,
				"uid":        b.UID,
			})
		}
		total += len(expired)

		if len(expired) < s.opts.ReaperBatchSize {
			break
		}
	}

	if total > 0 {
		s.logger.Info("expired bookings released", zap.Int("count", total))
	}
	return total, nil
}

// RunReaper периодически снимает просроченные бронирования до отмены ctx.
func (s *Service) RunReaper(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.ReaperInterval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("reaper sweep error", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
