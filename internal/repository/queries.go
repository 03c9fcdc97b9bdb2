package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mmeshcher/groundbook/internal/model"
)

func scanBooking(row pgx.Row) (*model.Booking, error) {
	var (
		b             model.Booking
		addons        []byte
		status        string
		paymentStatus string
		orderID       *string
		paymentID     *string
	)

	err := row.Scan(
		&b.ID, &b.UID, &b.VenueID, &b.Date, &b.SlotIDs, &addons, &b.TotalAmount, &b.Currency, &status,
		&orderID, &paymentStatus, &paymentID, &b.Payment.PaidAt, &b.Payment.FailedAt, &b.CreatedAt, &b.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("scan booking: %w", err)
	}

	if len(addons) > 0 {
		if err := json.Unmarshal(addons, &b.Addons); err != nil {
			return nil, fmt.Errorf("decode addons: %w", err)
		}
	}

	b.Status = model.BookingStatus(status)
	b.Payment.Status = model.PaymentStatus(paymentStatus)
	if orderID != nil {
		b.Payment.OrderID = *orderID
	}
	if paymentID != nil {
		b.Payment.PaymentID = *paymentID
	}

	return &b, nil
}

// GetBooking возвращает бронирование по идентификатору.
func (r *PostgresRepository) GetBooking(ctx context.Context, bookingID string) (*model.Booking, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, bookingID)
	return scanBooking(row)
}

// GetBookingsByUser возвращает бронирования пользователя, начиная с последних.
func (r *PostgresRepository) GetBookingsByUser(ctx context.Context, uid string) ([]model.Booking, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+bookingColumns+`
		 FROM bookings
		 WHERE uid = $1
		 ORDER BY created_at DESC`,
		uid,
	)
	if err != nil {
		return nil, fmt.Errorf("select bookings: %w", err)
	}
	defer rows.Close()

	var res []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetActiveSlots возвращает занятые интервалы площадки за день: оплаченные и ещё не просроченные.
func (r *PostgresRepository) GetActiveSlots(ctx context.Context, venueID, date string, now time.Time) ([]model.Slot, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT s.id, s.booking_id, s.venue_id, s.date_string, s.start_at, s.end_at, s.price, s.status
		 FROM slots s
		 JOIN bookings b ON b.id = s.booking_id
		 WHERE s.venue_id = $1 AND s.date_string = $2
		   AND (s.status = $3 OR (s.status = $4 AND (b.expires_at IS NULL OR b.expires_at >= $5)))
		 ORDER BY s.start_at`,
		venueID, date, string(model.SlotStatusBooked), string(model.SlotStatusPending), now,
	)
	if err != nil {
		return nil, fmt.Errorf("select slots: %w", err)
	}
	defer rows.Close()

	var res []model.Slot
	for rows.Next() {
		var (
			s      model.Slot
			status string
		)
		if err := rows.Scan(&s.ID, &s.BookingID, &s.VenueID, &s.DateString, &s.StartAt, &s.EndAt, &s.Price, &status); err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		s.Status = model.SlotStatus(status)
		res = append(res, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// GetLoyaltyPoints возвращает баллы лояльности пользователя. Пользователь без начислений имеет ноль баллов.
func (r *PostgresRepository) GetLoyaltyPoints(ctx context.Context, uid string) (int64, error) {
	var points int64
	err := r.pool.QueryRow(ctx, `SELECT loyalty_points FROM users WHERE uid = $1`, uid).Scan(&points)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("select loyalty points: %w", err)
	}
	return points, nil
}
