package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/groundbook/internal/broker"
	"github.com/mmeshcher/groundbook/internal/model"
	"github.com/mmeshcher/groundbook/internal/repository"
)

// Finalize подтверждает оплату бронирования. Повторные вызовы для уже оплаченного
// бронирования ничего не меняют и возвращают FinalizeAlreadyPaid.
func (s *Service) Finalize(ctx context.Context, bookingID, paymentID string) (repository.FinalizeOutcome, error) {
	res, err := s.repo.FinalizeBooking(ctx, bookingID, paymentID, s.now())
	if err != nil {
		s.logger.Error("finalize booking error",
			zap.String("bookingID", bookingID),
			zap.String("paymentID", paymentID),
			zap.Error(err),
		)
		return 0, fmt.Errorf("%w: finalize booking: %w", ErrInternal, err)
	}

	switch res.Outcome {
	case repository.FinalizeApplied:
		s.logger.Info("booking paid",
			zap.String("bookingID", bookingID),
			zap.String("paymentID", paymentID),
			zap.String("uid", res.Booking.UID),
			zap.Int64("loyalty", res.LoyaltyCredited),
		)
		if len(res.MissingStock) > 0 {
			s.logger.Warn("stock rows missing for paid booking",
				zap.String("bookingID", bookingID),
				zap.Strings("addonIDs", res.MissingStock),
			)
		}
		s.publish(ctx, broker.RoutingBookingPaid, map[string]any{
			"booking_id": bookingID,
			"uid":        res.Booking.UID,
			"payment_id": paymentID,
			"amount":     res.Booking.TotalAmount,
			"loyalty":    res.LoyaltyCredited,
		})
	case repository.FinalizeAlreadyPaid:
		s.logger.Info("booking already paid", zap.String("bookingID", bookingID))
	case repository.FinalizeNotFound:
		s.logger.Warn("finalize for unknown booking", zap.String("bookingID", bookingID))
	case repository.FinalizeNotPending:
		s.logger.Warn("payment confirmed for failed booking",
			zap.String("bookingID", bookingID),
			zap.String("paymentID", paymentID),
		)
	}

	return res.Outcome, nil
}

// MarkFailed переводит ожидающее оплаты бронирование в failed и освобождает его слоты.
// Возвращает false, если бронирование уже было завершено.
func (s *Service) MarkFailed(ctx context.Context, bookingID string) (bool, error) {
	b, changed, err := s.repo.MarkBookingFailed(ctx, bookingID, model.PaymentStatusFailed, s.now())
	if err != nil {
		if errors.Is(err, repository.ErrBookingNotFound) {
			return false, fmt.Errorf("%w: booking %s", ErrNotFound, bookingID)
		}
		return false, fmt.Errorf("%w: mark booking failed: %w", ErrInternal, err)
	}

	if !changed {
		s.logger.Info("booking not pending, failure ignored",
			zap.String("bookingID", bookingID),
			zap.String("status", string(b.Status)),
		)
		return false, nil
	}

	s.logger.Info("booking failed", zap.String("bookingID", bookingID), zap.String("uid", b.UID))
	s.publish(ctx, broker.RoutingBookingFailed, map[string]any{
		"booking_id": bookingID,
		"uid":        b.UID,
	})
	return true, nil
}
