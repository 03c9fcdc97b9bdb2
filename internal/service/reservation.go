package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/groundbook/internal/broker"
	"github.com/mmeshcher/groundbook/internal/model"
	"github.com/mmeshcher/groundbook/internal/razorpay"
	"github.com/mmeshcher/groundbook/internal/repository"
	"github.com/mmeshcher/groundbook/internal/validation"
)

const compensationTimeout = 10 * time.Second

// CreateReservation резервирует слоты и создаёт под бронирование заказ в платёжном шлюзе.
// Если заказ создать не удалось, уже сохранённое бронирование удаляется.
func (s *Service) CreateReservation(ctx context.Context, req model.ReservationRequest) (*model.Reservation, error) {
	if req.VenueID == "" {
		req.VenueID = s.opts.DefaultVenueID
	}
	if err := validation.ValidateReservation(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	now := s.now()
	booking, slots := s.newBooking(req, now)

	released, err := s.repo.CreateReservation(ctx, booking, slots, now)
	if err != nil {
		if errors.Is(err, repository.ErrSlotConflict) || errors.Is(err, repository.ErrManpowerConflict) {
			return nil, fmt.Errorf("%w: %w", ErrConflict, err)
		}
		return nil, fmt.Errorf("%w: create reservation: %w", ErrInternal, err)
	}

	for _, id := range released {
		s.logger.Info("stale booking released by new reservation",
			zap.String("bookingID", id),
			zap.String("by", booking.ID),
		)
		s.publish(ctx, broker.RoutingBookingExpired, map[string]any{"booking_id": id})
	}

	order, err := s.gateway.CreateOrder(ctx, razorpay.OrderRequest{
		Amount:   booking.TotalAmount,
		Currency: booking.Currency,
		Receipt:  booking.ID,
		Notes: map[string]string{
			"bookingId": booking.ID,
			"uid":       booking.UID,
		},
	})
	if err != nil {
		s.compensate(ctx, booking.ID, err)
		return nil, fmt.Errorf("%w: create payment order: %w", ErrInternal, err)
	}

	if order.Amount != booking.TotalAmount {
		err := fmt.Errorf("order amount %d differs from booking total %d", order.Amount, booking.TotalAmount)
		s.compensate(ctx, booking.ID, err)
		return nil, fmt.Errorf("%w: %w", ErrInternal, err)
	}

	if err := s.repo.AttachPaymentOrder(ctx, booking.ID, order.ID); err != nil {
		s.compensate(ctx, booking.ID, err)
		return nil, fmt.Errorf("%w: attach payment order: %w", ErrInternal, err)
	}

	s.logger.Info("reservation created",
		zap.String("bookingID", booking.ID),
		zap.String("orderID", order.ID),
		zap.String("uid", booking.UID),
		zap.String("date", booking.Date),
		zap.Int("slots", len(slots)),
		zap.Int64("amount", booking.TotalAmount),
	)

	return &model.Reservation{
		BookingID: booking.ID,
		OrderID:   order.ID,
		Amount:    order.Amount,
	}, nil
}

func (s *Service) newBooking(req model.ReservationRequest, now time.Time) (*model.Booking, []model.Slot) {
	bookingID := uuid.NewString()
	date := model.DayString(req.Slots[0].StartAt, s.opts.Location)
	expiresAt := now.Add(s.opts.ReservationTTL)

	slots := make([]model.Slot, 0, len(req.Slots))
	slotIDs := make([]string, 0, len(req.Slots))
	for _, rs := range req.Slots {
		id := uuid.NewString()
		slotIDs = append(slotIDs, id)
		slots = append(slots, model.Slot{
			ID:         id,
			BookingID:  bookingID,
			VenueID:    req.VenueID,
			DateString: date,
			StartAt:    rs.StartAt,
			EndAt:      rs.EndAt,
			Price:      rs.Price,
			Status:     model.SlotStatusPending,
			CreatedAt:  now,
		})
	}

	booking := &model.Booking{
		ID:          bookingID,
		UID:         req.UID,
		VenueID:     req.VenueID,
		Date:        date,
		SlotIDs:     slotIDs,
		Addons:      req.Addons,
		TotalAmount: req.TotalAmount,
		Currency:    s.opts.Currency,
		Status:      model.BookingStatusPending,
		Payment:     model.Payment{Status: model.PaymentStatusCreated},
		CreatedAt:   now,
		ExpiresAt:   &expiresAt,
	}

	return booking, slots
}

// compensate удаляет бронирование, для которого не удалось оформить заказ. Выполняется
// даже при отменённом контексте запроса, чтобы не оставлять слоты занятыми до истечения срока.
func (s *Service) compensate(ctx context.Context, bookingID string, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	if err := s.repo.DeleteReservation(ctx, bookingID); err != nil && !errors.Is(err, repository.ErrBookingNotFound) {
		s.logger.Error("reservation rollback error",
			zap.String("bookingID", bookingID),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
		return
	}

	s.logger.Warn("reservation rolled back",
		zap.String("bookingID", bookingID),
		zap.NamedError("cause", cause),
	)
}
