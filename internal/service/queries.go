package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmeshcher/groundbook/internal/model"
	"github.com/mmeshcher/groundbook/internal/repository"
)

// GetBookings возвращает бронирования пользователя, новые первыми.
func (s *Service) GetBookings(ctx context.Context, uid string) ([]model.Booking, error) {
	bookings, err := s.repo.GetBookingsByUser(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("%w: get bookings: %w", ErrInternal, err)
	}
	return bookings, nil
}

// GetBooking возвращает бронирование, если оно принадлежит пользователю.
func (s *Service) GetBooking(ctx context.Context, uid, bookingID string) (*model.Booking, error) {
	b, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		if errors.Is(err, repository.ErrBookingNotFound) {
			return nil, fmt.Errorf("%w: booking %s", ErrNotFound, bookingID)
		}
		return nil, fmt.Errorf("%w: get booking: %w", ErrInternal, err)
	}
	if b.UID != uid {
		return nil, fmt.Errorf("%w: booking %s", ErrNotFound, bookingID)
	}
	return b, nil
}

// GetAvailability возвращает занятые на дату слоты площадки: оплаченные и удерживаемые
// бронированиями, срок которых ещё не истёк.
func (s *Service) GetAvailability(ctx context.Context, venueID, date string) ([]model.Slot, error) {
	if venueID == "" {
		venueID = s.opts.DefaultVenueID
	}
	if venueID == "" {
		return nil, fmt.Errorf("%w: venueId is required", ErrInvalidArgument)
	}
	if _, err := time.Parse(model.DateLayout, date); err != nil {
		return nil, fmt.Errorf("%w: date must be %s", ErrInvalidArgument, model.DateLayout)
	}

	slots, err := s.repo.GetActiveSlots(ctx, venueID, date, s.now())
	if err != nil {
		return nil, fmt.Errorf("%w: get slots: %w", ErrInternal, err)
	}
	return slots, nil
}

// GetLoyaltyPoints возвращает накопленные пользователем баллы.
func (s *Service) GetLoyaltyPoints(ctx context.Context, uid string) (int64, error) {
	points, err := s.repo.GetLoyaltyPoints(ctx, uid)
	if err != nil {
		return 0, fmt.Errorf("%w: get loyalty: %w", ErrInternal, err)
	}
	return points, nil
}
