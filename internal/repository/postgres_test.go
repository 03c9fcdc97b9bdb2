package repository

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/groundbook/internal/model"
)

// Тесты работают с настоящей базой и запускаются, только если задан TEST_DATABASE_URI.
func newTestRepository(t *testing.T) *PostgresRepository {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URI")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URI is not set")
	}

	r, err := NewPostgresRepository(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

// testDay возвращает уникальный день, чтобы тесты не мешали друг другу.
func testDay() time.Time {
	offset := time.Duration(uuid.New().ID()%20000) * 24 * time.Hour
	return time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC).Add(offset)
}

func newTestReservation(uid, venueID string, day time.Time, now time.Time, hours ...int) (*model.Booking, []model.Slot) {
	bookingID := uuid.NewString()
	date := model.DayString(day, time.UTC)
	expiresAt := now.Add(10 * time.Minute)

	b := &model.Booking{
		ID:        bookingID,
		UID:       uid,
		VenueID:   venueID,
		Date:      date,
		Currency:  "INR",
		Status:    model.BookingStatusPending,
		Payment:   model.Payment{Status: model.PaymentStatusCreated},
		CreatedAt: now,
		ExpiresAt: &expiresAt,
	}

	var slots []model.Slot
	for _, h := range hours {
		start := day.Add(time.Duration(h) * time.Hour)
		s := model.Slot{
			ID:         uuid.NewString(),
			BookingID:  bookingID,
			VenueID:    venueID,
			DateString: date,
			StartAt:    start,
			EndAt:      start.Add(time.Hour),
			Price:      50000,
			Status:     model.SlotStatusPending,
			CreatedAt:  now,
		}
		slots = append(slots, s)
		b.SlotIDs = append(b.SlotIDs, s.ID)
		b.TotalAmount += s.Price
	}
	return b, slots
}

func TestCreateReservationConflicts(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()
	now := time.Now().UTC()
	day := testDay()

	b1, s1 := newTestReservation("u1", "v1", day, now, 9)
	_, err := r.CreateReservation(ctx, b1, s1, now)
	require.NoError(t, err)

	b2, s2 := newTestReservation("u2", "v1", day, now, 9)
	_, err = r.CreateReservation(ctx, b2, s2, now)
	require.ErrorIs(t, err, ErrSlotConflict)

	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.True(t, conflict.Existing.Start.Equal(s1[0].StartAt))

	_, err = r.GetBooking(ctx, b2.ID)
	require.ErrorIs(t, err, ErrBookingNotFound, "rejected reservation leaves nothing behind")

	b3, s3 := newTestReservation("u2", "v2", day, now, 9)
	_, err = r.CreateReservation(ctx, b3, s3, now)
	require.NoError(t, err, "other venue is independent")
}

func TestCreateReservationConcurrent(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()
	now := time.Now().UTC()
	day := testDay()

	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, s := newTestReservation(uuid.NewString(), "v1", day, now, 18)
			_, err := r.CreateReservation(ctx, b, s, now)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, ErrSlotConflict)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
}

func TestManpowerConflictAcrossVenues(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()
	now := time.Now().UTC()
	day := testDay()
	coach := model.Addon{ID: "coach-1", Type: model.AddonTypeManpower, Price: 20000}

	b1, s1 := newTestReservation("u1", "v1", day, now, 8)
	b1.Addons = []model.Addon{coach}
	_, err := r.CreateReservation(ctx, b1, s1, now)
	require.NoError(t, err)

	res, err := r.FinalizeBooking(ctx, b1.ID, "pay_1", now)
	require.NoError(t, err)
	require.Equal(t, FinalizeApplied, res.Outcome)

	b2, s2 := newTestReservation("u2", "v2", day, now, 15)
	b2.Addons = []model.Addon{coach}
	_, err = r.CreateReservation(ctx, b2, s2, now)
	require.ErrorIs(t, err, ErrManpowerConflict, "staff is shared between venues for the day")

	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "coach-1", conflict.ManpowerID)

	b3, s3 := newTestReservation("u2", "v2", day.Add(24*time.Hour), now, 15)
	b3.Addons = []model.Addon{coach}
	_, err = r.CreateReservation(ctx, b3, s3, now)
	require.NoError(t, err, "next day is free")
}

func TestFinalizeBookingIdempotent(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()
	now := time.Now().UTC()
	day := testDay()
	uid := uuid.NewString()
	itemID := "item-" + uuid.NewString()

	_, err := r.pool.Exec(ctx, `INSERT INTO stock (id, name, price, stock) VALUES ($1, 'Cones', 5000, 10)`, itemID)
	require.NoError(t, err)

	b, s := newTestReservation(uid, "v1", day, now, 9)
	b.Addons = []model.Addon{{ID: itemID, Type: model.AddonTypeItem, Quantity: 2, Price: 5000, Name: "Cones"}}
	b.TotalAmount += 10000

	_, err = r.CreateReservation(ctx, b, s, now)
	require.NoError(t, err)
	require.NoError(t, r.AttachPaymentOrder(ctx, b.ID, "order_"+b.ID))

	res, err := r.FinalizeBooking(ctx, b.ID, "pay_1", now)
	require.NoError(t, err)
	assert.Equal(t, FinalizeApplied, res.Outcome)
	assert.Equal(t, int64(6), res.LoyaltyCredited)

	res, err = r.FinalizeBooking(ctx, b.ID, "pay_2", now)
	require.NoError(t, err)
	assert.Equal(t, FinalizeAlreadyPaid, res.Outcome)

	var stock int
	require.NoError(t, r.pool.QueryRow(ctx, `SELECT stock FROM stock WHERE id = $1`, itemID).Scan(&stock))
	assert.Equal(t, 8, stock)

	points, err := r.GetLoyaltyPoints(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, int64(6), points)

	got, err := r.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusPaid, got.Status)
	assert.Equal(t, "pay_1", got.Payment.PaymentID)
	assert.Nil(t, got.ExpiresAt)

	slots, err := r.GetActiveSlots(ctx, "v1", b.Date, now)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, model.SlotStatusBooked, slots[0].Status)

	res, err = r.FinalizeBooking(ctx, uuid.NewString(), "pay_3", now)
	require.NoError(t, err)
	assert.Equal(t, FinalizeNotFound, res.Outcome)
}

func TestMarkBookingFailed(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()
	now := time.Now().UTC()
	day := testDay()

	b, s := newTestReservation("u1", "v1", day, now, 9, 10)
	_, err := r.CreateReservation(ctx, b, s, now)
	require.NoError(t, err)

	got, changed, err := r.MarkBookingFailed(ctx, b.ID, model.PaymentStatusFailed, now)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, model.BookingStatusFailed, got.Status)

	_, changed, err = r.MarkBookingFailed(ctx, b.ID, model.PaymentStatusFailed, now)
	require.NoError(t, err)
	assert.False(t, changed)

	slots, err := r.GetActiveSlots(ctx, "v1", b.Date, now)
	require.NoError(t, err)
	assert.Empty(t, slots)

	res, err := r.FinalizeBooking(ctx, b.ID, "pay_1", now)
	require.NoError(t, err)
	assert.Equal(t, FinalizeNotPending, res.Outcome)
}

func TestExpireAndContestStaleBookings(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()
	now := time.Now().UTC()
	day := testDay()

	stale, s := newTestReservation("u1", "v1", day, now.Add(-time.Hour), 9)
	_, err := r.CreateReservation(ctx, stale, s, now.Add(-time.Hour))
	require.NoError(t, err)

	fresh, s2 := newTestReservation("u2", "v1", day, now, 9)
	released, err := r.CreateReservation(ctx, fresh, s2, now)
	require.NoError(t, err)
	assert.Equal(t, []string{stale.ID}, released)

	got, err := r.GetBooking(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusFailed, got.Status)
	assert.Equal(t, model.PaymentStatusExpired, got.Payment.Status)

	later := now.Add(time.Hour)
	expired, err := r.ExpirePendingBookings(ctx, later, 1000)
	require.NoError(t, err)
	ids := make([]string, 0, len(expired))
	for _, e := range expired {
		ids = append(ids, e.ID)
	}
	assert.Contains(t, ids, fresh.ID)

	slots, err := r.GetActiveSlots(ctx, "v1", fresh.Date, later)
	require.NoError(t, err)
	assert.Empty(t, slots)
}

func TestContestStaleBookingPaidLate(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()
	now := time.Now().UTC()
	day := testDay()

	stale, s := newTestReservation("u1", "v1", day, now.Add(-time.Hour), 9)
	_, err := r.CreateReservation(ctx, stale, s, now.Add(-time.Hour))
	require.NoError(t, err)

	res, err := r.FinalizeBooking(ctx, stale.ID, "pay_late", now)
	require.NoError(t, err)
	require.Equal(t, FinalizeApplied, res.Outcome)

	contender, s2 := newTestReservation("u2", "v1", day, now, 9)
	_, err = r.CreateReservation(ctx, contender, s2, now)
	require.ErrorIs(t, err, ErrSlotConflict)
}

func TestContestStaleBookingPaidConcurrently(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()
	now := time.Now().UTC()
	day := testDay()

	stale, s := newTestReservation("u1", "v1", day, now.Add(-time.Hour), 9)
	_, err := r.CreateReservation(ctx, stale, s, now.Add(-time.Hour))
	require.NoError(t, err)

	// Держим строку брони, как это делает подтверждение оплаты.
	tx, err := r.pool.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)
	_, err = lockBooking(ctx, tx, stale.ID)
	require.NoError(t, err)

	contender, s2 := newTestReservation("u2", "v1", day, now, 9)
	done := make(chan error, 1)
	go func() {
		_, err := r.CreateReservation(ctx, contender, s2, now)
		done <- err
	}()

	// Ждём, пока резервирование упрётся в блокировку строки.
	require.Eventually(t, func() bool {
		var waiting bool
		err := r.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM pg_locks WHERE NOT granted AND locktype IN ('transactionid', 'tuple'))`,
		).Scan(&waiting)
		return err == nil && waiting
	}, 5*time.Second, 10*time.Millisecond)

	_, err = tx.Exec(ctx,
		`UPDATE bookings SET status = 'paid', payment_status = 'paid', expires_at = NULL WHERE id = $1`, stale.ID)
	require.NoError(t, err)
	_, err = tx.Exec(ctx, `UPDATE slots SET status = 'booked' WHERE booking_id = $1`, stale.ID)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrSlotConflict)
	case <-time.After(10 * time.Second):
		t.Fatal("reservation did not finish")
	}

	slots, err := r.GetActiveSlots(ctx, "v1", stale.Date, now)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, stale.ID, slots[0].BookingID)
}

func TestAttachAndDeleteReservation(t *testing.T) {
	r := newTestRepository(t)
	ctx := context.Background()
	now := time.Now().UTC()
	day := testDay()

	b, s := newTestReservation("u1", "v1", day, now, 9)
	_, err := r.CreateReservation(ctx, b, s, now)
	require.NoError(t, err)

	orderID := "order_" + b.ID
	require.NoError(t, r.AttachPaymentOrder(ctx, b.ID, orderID))
	require.NoError(t, r.AttachPaymentOrder(ctx, b.ID, orderID))
	require.ErrorIs(t, r.AttachPaymentOrder(ctx, b.ID, "order_other_"+b.ID), ErrOrderAlreadyAttached)
	require.ErrorIs(t, r.AttachPaymentOrder(ctx, uuid.NewString(), "order_x_"+b.ID), ErrBookingNotFound)

	require.NoError(t, r.DeleteReservation(ctx, b.ID))
	require.ErrorIs(t, r.DeleteReservation(ctx, b.ID), ErrBookingNotFound)

	again, s2 := newTestReservation("u2", "v1", day, now, 9)
	_, err = r.CreateReservation(ctx, again, s2, now)
	require.NoError(t, err)
}
