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

const bookingColumns = `id, uid, venue_id, date_string, slot_ids, addons, total_amount, currency, status,
	payment_order_id, payment_status, payment_id, paid_at, failed_at, created_at, expires_at`

// CreateReservation в одной транзакции проверяет пересечения и занятость персонала,
// освобождает пересекающиеся просроченные брони и сохраняет новое бронирование со слотами.
// Возвращает идентификаторы просроченных бронирований, освобождённых по ходу.
func (r *PostgresRepository) CreateReservation(ctx context.Context, b *model.Booking, slots []model.Slot, now time.Time) ([]string, error) {
	if len(slots) == 0 {
		return nil, errors.New("reservation without slots")
	}

	var released []string
	err := r.withRetry(ctx, func(ctx context.Context) error {
		var err error
		released, err = r.createReservation(ctx, b, slots, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return released, nil
}

func (r *PostgresRepository) createReservation(ctx context.Context, b *model.Booking, slots []model.Slot, now time.Time) ([]string, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Сериализуем все брони одного дня: и проверку пересечений, и проверку персонала.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "slots:"+b.Date); err != nil {
		return nil, fmt.Errorf("lock day: %w", err)
	}

	held, err := heldSlots(ctx, tx, b.VenueID, b.Date)
	if err != nil {
		return nil, err
	}

	intervals := make([]model.Interval, 0, len(slots))
	for _, s := range slots {
		intervals = append(intervals, s.Interval())
	}

	check := model.CheckOverlaps(intervals, held, now)
	if check.Conflict != nil {
		return nil, &ConflictError{Requested: *check.Conflict, Existing: *check.Existing}
	}

	var released []string
	if len(check.StaleBookings) > 0 {
		released, err = expireBookings(ctx, tx, check.StaleBookings, now)
		if err != nil {
			return nil, err
		}
		// Просроченную бронь могли оплатить между чтением слотов и её снятием.
		if conflict := unreleasedConflict(intervals, held, check.StaleBookings, released); conflict != nil {
			return nil, conflict
		}
	}

	if len(model.ManpowerIDs(b.Addons)) > 0 {
		taken, err := bookedManpower(ctx, tx, b.Date)
		if err != nil {
			return nil, err
		}
		if id, clash := model.ManpowerClash(b.Addons, taken); clash {
			return nil, &ConflictError{ManpowerID: id}
		}
	}

	addons, err := json.Marshal(nonNilAddons(b.Addons))
	if err != nil {
		return nil, fmt.Errorf("marshal addons: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO bookings (id, uid, venue_id, date_string, slot_ids, addons, total_amount, currency,
			status, payment_status, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		b.ID, b.UID, b.VenueID, b.Date, b.SlotIDs, addons, b.TotalAmount, b.Currency,
		string(b.Status), string(b.Payment.Status), b.CreatedAt, b.ExpiresAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert booking: %w", err)
	}

	batch := &pgx.Batch{}
	for _, s := range slots {
		batch.Queue(
			`INSERT INTO slots (id, booking_id, venue_id, date_string, start_at, end_at, price, status, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			s.ID, s.BookingID, s.VenueID, s.DateString, s.StartAt, s.EndAt, s.Price, string(s.Status), s.CreatedAt,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("insert slots: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return released, nil
}

func heldSlots(ctx context.Context, tx pgx.Tx, venueID, date string) ([]model.HeldSlot, error) {
	rows, err := tx.Query(ctx,
		`SELECT s.id, s.booking_id, s.venue_id, s.date_string, s.start_at, s.end_at, s.price, s.status, b.expires_at
		 FROM slots s
		 JOIN bookings b ON b.id = s.booking_id
		 WHERE s.date_string = $1 AND s.venue_id = $2 AND s.status IN ($3, $4)`,
		date, venueID, string(model.SlotStatusPending), string(model.SlotStatusBooked),
	)
	if err != nil {
		return nil, fmt.Errorf("select held slots: %w", err)
	}
	defer rows.Close()

	var res []model.HeldSlot
	for rows.Next() {
		var (
			h      model.HeldSlot
			status string
		)
		if err := rows.Scan(&h.ID, &h.BookingID, &h.VenueID, &h.DateString, &h.StartAt, &h.EndAt, &h.Price, &status, &h.BookingExpiresAt); err != nil {
			return nil, fmt.Errorf("scan held slot: %w", err)
		}
		h.Status = model.SlotStatus(status)
		res = append(res, h)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

func bookedManpower(ctx context.Context, tx pgx.Tx, date string) (map[string]struct{}, error) {
	rows, err := tx.Query(ctx,
		`SELECT addons FROM slots WHERE date_string = $1 AND status = $2 AND addons IS NOT NULL`,
		date, string(model.SlotStatusBooked),
	)
	if err != nil {
		return nil, fmt.Errorf("select booked addons: %w", err)
	}
	defer rows.Close()

	var slots []model.Slot
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan booked addons: %w", err)
		}
		var addons []model.Addon
		if err := json.Unmarshal(raw, &addons); err != nil {
			return nil, fmt.Errorf("decode booked addons: %w", err)
		}
		slots = append(slots, model.Slot{Status: model.SlotStatusBooked, Addons: addons})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return model.BookedManpower(slots), nil
}

// expireBookings переводит ещё не завершённые брони в failed/expired и удаляет их слоты.
func expireBookings(ctx context.Context, tx pgx.Tx, ids []string, now time.Time) ([]string, error) {
	rows, err := tx.Query(ctx,
		`UPDATE bookings SET status = $2, payment_status = $3, failed_at = $4
		 WHERE id = ANY($1) AND status = $5
		 RETURNING id`,
		ids, string(model.BookingStatusFailed), string(model.PaymentStatusExpired), now, string(model.BookingStatusPending),
	)
	if err != nil {
		return nil, fmt.Errorf("expire bookings: %w", err)
	}
	expired, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect expired bookings: %w", err)
	}

	if len(expired) == 0 {
		return nil, nil
	}

	if _, err := tx.Exec(ctx, `DELETE FROM slots WHERE booking_id = ANY($1)`, expired); err != nil {
		return nil, fmt.Errorf("delete expired slots: %w", err)
	}

	return expired, nil
}

// unreleasedConflict возвращает конфликт с первым слотом просроченного бронирования,
// которое не удалось снять, потому что оно уже не ожидает оплаты.
func unreleasedConflict(proposed []model.Interval, held []model.HeldSlot, stale, released []string) *ConflictError {
	done := make(map[string]struct{}, len(released))
	for _, id := range released {
		done[id] = struct{}{}
	}

	for _, id := range stale {
		if _, ok := done[id]; ok {
			continue
		}
		for _, h := range held {
			if h.BookingID != id {
				continue
			}
			for _, p := range proposed {
				if p.Overlaps(h.Interval()) {
					return &ConflictError{Requested: p, Existing: h.Interval()}
				}
			}
		}
	}
	return nil
}

// AttachPaymentOrder привязывает заказ платёжного шлюза к бронированию. Заказ задаётся только один раз.
func (r *PostgresRepository) AttachPaymentOrder(ctx context.Context, bookingID, orderID string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE bookings SET payment_order_id = $2 WHERE id = $1 AND payment_order_id IS NULL`,
		bookingID, orderID,
	)
	if err != nil {
		return fmt.Errorf("attach payment order: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var existing *string
	err = r.pool.QueryRow(ctx, `SELECT payment_order_id FROM bookings WHERE id = $1`, bookingID).Scan(&existing)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrBookingNotFound
		}
		return fmt.Errorf("select payment order: %w", err)
	}
	if existing != nil && *existing == orderID {
		return nil
	}
	return ErrOrderAlreadyAttached
}

// DeleteReservation удаляет только что созданное бронирование вместе со слотами.
// Используется как компенсация, если заказ в платёжном шлюзе создать не удалось.
func (r *PostgresRepository) DeleteReservation(ctx context.Context, bookingID string) error {
	return r.withRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if _, err := tx.Exec(ctx, `DELETE FROM slots WHERE booking_id = $1`, bookingID); err != nil {
			return fmt.Errorf("delete slots: %w", err)
		}

		tag, err := tx.Exec(ctx,
			`DELETE FROM bookings WHERE id = $1 AND status = $2`,
			bookingID, string(model.BookingStatusPending),
		)
		if err != nil {
			return fmt.Errorf("delete booking: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrBookingNotFound
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

func nonNilAddons(addons []model.Addon) []model.Addon {
	if addons == nil {
		return []model.Addon{}
	}
	return addons
}
