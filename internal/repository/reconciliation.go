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

// FinalizeOutcome описывает, что сделала попытка подтвердить оплату.
type FinalizeOutcome int

const (
	// FinalizeApplied: бронирование переведено в paid этим вызовом.
	FinalizeApplied FinalizeOutcome = iota
	// FinalizeAlreadyPaid: бронирование уже было оплачено, ничего не изменено.
	FinalizeAlreadyPaid
	// FinalizeNotFound: бронирования нет.
	FinalizeNotFound
	// FinalizeNotPending: бронирование уже завершилось неуспешно.
	FinalizeNotPending
)

func (o FinalizeOutcome) String() string {
	switch o {
	case FinalizeApplied:
		return "applied"
	case FinalizeAlreadyPaid:
		return "already_paid"
	case FinalizeNotFound:
		return "not_found"
	case FinalizeNotPending:
		return "not_pending"
	default:
		return "unknown"
	}
}

// FinalizeResult: результат подтверждения оплаты.
type FinalizeResult struct {
	Outcome FinalizeOutcome
	Booking *model.Booking
	// LoyaltyCredited: начисленные баллы лояльности.
	LoyaltyCredited int64
	// MissingStock: позиции инвентаря, для которых не нашлось складской записи.
	MissingStock []string
}

// ExpiredBooking: бронирование, снятое по истечении срока ожидания оплаты.
type ExpiredBooking struct {
	ID  string
	UID string
}

// FinalizeBooking идемпотентно переводит бронирование в paid: слоты становятся booked,
// списывается инвентарь и начисляются баллы. Всё применяется атомарно.
func (r *PostgresRepository) FinalizeBooking(ctx context.Context, bookingID, paymentID string, now time.Time) (*FinalizeResult, error) {
	var res *FinalizeResult
	err := r.withRetry(ctx, func(ctx context.Context) error {
		var err error
		res, err = r.finalizeBooking(ctx, bookingID, paymentID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (r *PostgresRepository) finalizeBooking(ctx context.Context, bookingID, paymentID string, now time.Time) (*FinalizeResult, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	b, err := lockBooking(ctx, tx, bookingID)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return &FinalizeResult{Outcome: FinalizeNotFound}, nil
		}
		return nil, err
	}

	switch b.Status {
	case model.BookingStatusPaid:
		return &FinalizeResult{Outcome: FinalizeAlreadyPaid, Booking: b}, nil
	case model.BookingStatusFailed:
		return &FinalizeResult{Outcome: FinalizeNotPending, Booking: b}, nil
	}

	_, err = tx.Exec(ctx,
		`UPDATE bookings
		 SET status = $2, payment_status = $3, payment_id = $4, paid_at = $5, expires_at = NULL
		 WHERE id = $1`,
		b.ID, string(model.BookingStatusPaid), string(model.PaymentStatusPaid), paymentID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("update booking: %w", err)
	}

	addons, err := json.Marshal(nonNilAddons(b.Addons))
	if err != nil {
		return nil, fmt.Errorf("marshal addons: %w", err)
	}

	_, err = tx.Exec(ctx,
		`UPDATE slots SET status = $2, addons = $3 WHERE id = ANY($1)`,
		b.SlotIDs, string(model.SlotStatusBooked), addons,
	)
	if err != nil {
		return nil, fmt.Errorf("book slots: %w", err)
	}

	res := &FinalizeResult{Outcome: FinalizeApplied}

	for _, a := range b.ItemAddons() {
		tag, err := tx.Exec(ctx, `UPDATE stock SET stock = stock - $2 WHERE id = $1`, a.ID, a.Units())
		if err != nil {
			return nil, fmt.Errorf("decrement stock %s: %w", a.ID, err)
		}
		if tag.RowsAffected() == 0 {
			res.MissingStock = append(res.MissingStock, a.ID)
		}
	}

	if credit := b.LoyaltyCredit(); credit > 0 {
		_, err = tx.Exec(ctx,
			`INSERT INTO users (uid, loyalty_points, updated_at) VALUES ($1, $2, $3)
			 ON CONFLICT (uid) DO UPDATE
			 SET loyalty_points = users.loyalty_points + EXCLUDED.loyalty_points, updated_at = EXCLUDED.updated_at`,
			b.UID, credit, now,
		)
		if err != nil {
			return nil, fmt.Errorf("credit loyalty: %w", err)
		}
		res.LoyaltyCredited = credit
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	b.Status = model.BookingStatusPaid
	b.Payment.Status = model.PaymentStatusPaid
	b.Payment.PaymentID = paymentID
	b.Payment.PaidAt = &now
	b.ExpiresAt = nil
	res.Booking = b

	return res, nil
}

// MarkBookingFailed переводит бронирование в failed, только пока оно ожидает оплаты,
// и сразу удаляет его слоты. Возвращает false, если бронирование уже завершено.
func (r *PostgresRepository) MarkBookingFailed(ctx context.Context, bookingID string, paymentStatus model.PaymentStatus, now time.Time) (*model.Booking, bool, error) {
	var (
		booking *model.Booking
		changed bool
	)
	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		b, err := lockBooking(ctx, tx, bookingID)
		if err != nil {
			return err
		}

		if b.Status != model.BookingStatusPending {
			booking, changed = b, false
			return nil
		}

		_, err = tx.Exec(ctx,
			`UPDATE bookings SET status = $2, payment_status = $3, failed_at = $4 WHERE id = $1`,
			b.ID, string(model.BookingStatusFailed), string(paymentStatus), now,
		)
		if err != nil {
			return fmt.Errorf("update booking: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM slots WHERE booking_id = $1`, b.ID); err != nil {
			return fmt.Errorf("delete slots: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		b.Status = model.BookingStatusFailed
		b.Payment.Status = paymentStatus
		b.Payment.FailedAt = &now
		booking, changed = b, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return booking, changed, nil
}

// ExpirePendingBookings снимает не более limit бронирований, ожидающих оплаты дольше срока,
// и удаляет их слоты. Брони, заблокированные параллельным подтверждением, пропускаются.
func (r *PostgresRepository) ExpirePendingBookings(ctx context.Context, now time.Time, limit int) ([]ExpiredBooking, error) {
	var expired []ExpiredBooking
	err := r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		rows, err := tx.Query(ctx,
			`UPDATE bookings SET status = $3, payment_status = $4, failed_at = $1
			 WHERE id IN (
				SELECT id FROM bookings
				WHERE status = $5 AND expires_at < $1
				ORDER BY expires_at
				LIMIT $2
				FOR UPDATE SKIP LOCKED
			 )
			 RETURNING id, uid`,
			now, limit, string(model.BookingStatusFailed), string(model.PaymentStatusExpired), string(model.BookingStatusPending),
		)
		if err != nil {
			return fmt.Errorf("expire bookings: %w", err)
		}

		batch, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ExpiredBooking, error) {
			var e ExpiredBooking
			err := row.Scan(&e.ID, &e.UID)
			return e, err
		})
		if err != nil {
			return fmt.Errorf("collect expired bookings: %w", err)
		}

		if len(batch) > 0 {
			ids := make([]string, 0, len(batch))
			for _, e := range batch {
				ids = append(ids, e.ID)
			}
			if _, err := tx.Exec(ctx, `DELETE FROM slots WHERE booking_id = ANY($1)`, ids); err != nil {
				return fmt.Errorf("delete expired slots: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		expired = batch
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}

func lockBooking(ctx context.Context, tx pgx.Tx, bookingID string) (*model.Booking, error) {
	row := tx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, bookingID)
	return scanBooking(row)
}
