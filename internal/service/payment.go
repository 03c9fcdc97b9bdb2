package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/groundbook/internal/razorpay"
	"github.com/mmeshcher/groundbook/internal/repository"
)

// VerifyPaymentRequest: результат оплаты, который клиент получил от платёжной формы.
type VerifyPaymentRequest struct {
	UID       string
	BookingID string
	OrderID   string
	PaymentID string
	Signature string
}

// VerifyPayment проверяет подпись результата оплаты и подтверждает бронирование.
// При неверной подписи бронирование сразу переводится в failed.
func (s *Service) VerifyPayment(ctx context.Context, req VerifyPaymentRequest) error {
	if req.BookingID == "" || req.OrderID == "" || req.PaymentID == "" || req.Signature == "" {
		return fmt.Errorf("%w: bookingId, razorpay_order_id, razorpay_payment_id and razorpay_signature are required", ErrInvalidArgument)
	}
	if req.UID == "" {
		return ErrUnauthenticated
	}

	b, err := s.repo.GetBooking(ctx, req.BookingID)
	if err != nil {
		if errors.Is(err, repository.ErrBookingNotFound) {
			return fmt.Errorf("%w: booking %s", ErrNotFound, req.BookingID)
		}
		return fmt.Errorf("%w: get booking: %w", ErrInternal, err)
	}

	if b.UID != req.UID {
		return fmt.Errorf("%w: booking belongs to another user", ErrPermissionDenied)
	}
	if b.Payment.OrderID == "" || b.Payment.OrderID != req.OrderID {
		return fmt.Errorf("%w: order does not match booking", ErrPermissionDenied)
	}

	if !razorpay.VerifyPaymentSignature(s.opts.KeySecret, req.OrderID, req.PaymentID, req.Signature) {
		s.logger.Warn("payment signature mismatch",
			zap.String("bookingID", req.BookingID),
			zap.String("orderID", req.OrderID),
			zap.String("paymentID", req.PaymentID),
		)
		if _, err := s.MarkFailed(ctx, req.BookingID); err != nil {
			s.logger.Error("mark booking failed error", zap.String("bookingID", req.BookingID), zap.Error(err))
		}
		return fmt.Errorf("%w: invalid payment signature", ErrUnauthenticated)
	}

	outcome, err := s.Finalize(ctx, req.BookingID, req.PaymentID)
	if err != nil {
		return err
	}

	switch outcome {
	case repository.FinalizeApplied, repository.FinalizeAlreadyPaid:
		return nil
	case repository.FinalizeNotFound:
		return fmt.Errorf("%w: booking %s", ErrNotFound, req.BookingID)
	default:
		return fmt.Errorf("%w: booking is no longer awaiting payment", ErrConflict)
	}
}

// HandleWebhook обрабатывает событие платёжного шлюза. body: сырое тело запроса,
// по которому проверяется подпись. Ошибка означает, что шлюзу следует ответить не 2xx.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	if !razorpay.VerifyWebhookSignature(s.opts.WebhookSecret, body, signature) {
		s.logger.Warn("webhook signature mismatch")
		return fmt.Errorf("%w: invalid webhook signature", ErrUnauthenticated)
	}

	ev, err := razorpay.ParseWebhookEvent(body)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	switch {
	case ev.OrderPaid != nil:
		return s.handleOrderPaid(ctx, ev.OrderPaid)
	case ev.PaymentFailed != nil:
		s.handlePaymentFailed(ctx, ev.PaymentFailed)
		return nil
	default:
		s.logger.Debug("webhook event ignored", zap.String("event", ev.Event))
		return nil
	}
}

func (s *Service) handleOrderPaid(ctx context.Context, ev *razorpay.OrderPaid) error {
	log := s.logger.With(
		zap.String("bookingID", ev.BookingID),
		zap.String("orderID", ev.OrderID),
		zap.String("paymentID", ev.PaymentID),
	)

	b, err := s.repo.GetBooking(ctx, ev.BookingID)
	if err != nil {
		if errors.Is(err, repository.ErrBookingNotFound) {
			log.Warn("order.paid for unknown booking")
			return nil
		}
		return fmt.Errorf("%w: get booking: %w", ErrInternal, err)
	}

	if b.Payment.OrderID != "" && b.Payment.OrderID != ev.OrderID {
		log.Warn("order.paid order does not match booking", zap.String("bookingOrderID", b.Payment.OrderID))
		return fmt.Errorf("%w: order does not match booking", ErrPermissionDenied)
	}

	if b.TotalAmount != ev.OrderAmount {
		log.Warn("order.paid amount mismatch",
			zap.Int64("expected", b.TotalAmount),
			zap.Int64("got", ev.OrderAmount),
		)
		if _, err := s.MarkFailed(ctx, ev.BookingID); err != nil {
			log.Error("mark booking failed error", zap.Error(err))
		}
		return fmt.Errorf("%w: order amount %d, booking total %d", ErrAmountMismatch, ev.OrderAmount, b.TotalAmount)
	}

	if _, err := s.Finalize(ctx, ev.BookingID, ev.PaymentID); err != nil {
		return err
	}
	return nil
}

func (s *Service) handlePaymentFailed(ctx context.Context, ev *razorpay.PaymentFailed) {
	log := s.logger.With(
		zap.String("bookingID", ev.BookingID),
		zap.String("orderID", ev.OrderID),
		zap.String("paymentID", ev.PaymentID),
		zap.String("reason", ev.Reason),
	)

	if ev.BookingID == "" {
		log.Warn("payment.failed without booking reference")
		return
	}

	if _, err := s.MarkFailed(ctx, ev.BookingID); err != nil {
		if errors.Is(err, ErrNotFound) {
			log.Warn("payment.failed for unknown booking")
			return
		}
		log.Error("mark booking failed error", zap.Error(err))
		return
	}
	log.Info("payment failure recorded", zap.String("description", ev.Description))
}
