package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mmeshcher/groundbook/internal/model"
	"github.com/mmeshcher/groundbook/internal/razorpay"
	"github.com/mmeshcher/groundbook/internal/repository"
)

// memRepository: хранилище в памяти с той же семантикой транзакций, что и Postgres:
// каждая операция выполняется целиком под одной блокировкой.
type memRepository struct {
	mu       sync.Mutex
	bookings map[string]*model.Booking
	slots    map[string]model.Slot
	stock    map[string]int
	loyalty  map[string]int64

	finalizeCalls int
	createErr     error
	// beforeRelease вызывается под блокировкой перед снятием просроченного бронирования.
	beforeRelease func(b *model.Booking)
}

func newMemRepository() *memRepository {
	return &memRepository{
		bookings: make(map[string]*model.Booking),
		slots:    make(map[string]model.Slot),
		stock:    make(map[string]int),
		loyalty:  make(map[string]int64),
	}
}

func (r *memRepository) Close() error { return nil }

func (r *memRepository) CreateReservation(_ context.Context, b *model.Booking, slots []model.Slot, now time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.createErr != nil {
		return nil, r.createErr
	}

	var held []model.HeldSlot
	var sameDay []model.Slot
	for _, s := range r.slots {
		if s.DateString != b.Date {
			continue
		}
		sameDay = append(sameDay, s)
		if s.VenueID != b.VenueID {
			continue
		}
		held = append(held, model.HeldSlot{Slot: s, BookingExpiresAt: r.bookings[s.BookingID].ExpiresAt})
	}

	intervals := make([]model.Interval, 0, len(slots))
	for _, s := range slots {
		intervals = append(intervals, s.Interval())
	}

	check := model.CheckOverlaps(intervals, held, now)
	if check.Conflict != nil {
		return nil, &repository.ConflictError{Requested: *check.Conflict, Existing: *check.Existing}
	}

	if id, clash := model.ManpowerClash(b.Addons, model.BookedManpower(sameDay)); clash {
		return nil, &repository.ConflictError{ManpowerID: id}
	}

	var released []string
	for _, id := range check.StaleBookings {
		stale := r.bookings[id]
		if r.beforeRelease != nil {
			r.beforeRelease(stale)
		}
		if stale.Status != model.BookingStatusPending {
			for _, h := range held {
				for _, p := range intervals {
					if h.BookingID == id && p.Overlaps(h.Interval()) {
						return nil, &repository.ConflictError{Requested: p, Existing: h.Interval()}
					}
				}
			}
		}
		r.failLocked(stale, model.PaymentStatusExpired, now)
		released = append(released, id)
	}

	stored := *b
	r.bookings[b.ID] = &stored
	for _, s := range slots {
		r.slots[s.ID] = s
	}
	return released, nil
}

func (r *memRepository) AttachPaymentOrder(_ context.Context, bookingID, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bookings[bookingID]
	if !ok {
		return repository.ErrBookingNotFound
	}
	if b.Payment.OrderID != "" && b.Payment.OrderID != orderID {
		return repository.ErrOrderAlreadyAttached
	}
	b.Payment.OrderID = orderID
	return nil
}

func (r *memRepository) DeleteReservation(_ context.Context, bookingID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bookings[bookingID]
	if !ok || b.Status != model.BookingStatusPending {
		return repository.ErrBookingNotFound
	}
	r.deleteSlotsLocked(bookingID)
	delete(r.bookings, bookingID)
	return nil
}

func (r *memRepository) GetBooking(_ context.Context, bookingID string) (*model.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bookings[bookingID]
	if !ok {
		return nil, repository.ErrBookingNotFound
	}
	cp := *b
	return &cp, nil
}

func (r *memRepository) GetBookingsByUser(_ context.Context, uid string) ([]model.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Booking
	for _, b := range r.bookings {
		if b.UID == uid {
			res = append(res, *b)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

func (r *memRepository) GetActiveSlots(_ context.Context, venueID, date string, now time.Time) ([]model.Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Slot
	for _, s := range r.slots {
		if s.VenueID != venueID || s.DateString != date {
			continue
		}
		if s.Status == model.SlotStatusPending && r.bookings[s.BookingID].IsExpired(now) {
			continue
		}
		res = append(res, s)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].StartAt.Before(res[j].StartAt) })
	return res, nil
}

func (r *memRepository) GetLoyaltyPoints(_ context.Context, uid string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loyalty[uid], nil
}

func (r *memRepository) FinalizeBooking(_ context.Context, bookingID, paymentID string, now time.Time) (*repository.FinalizeResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.finalizeCalls++

	b, ok := r.bookings[bookingID]
	if !ok {
		return &repository.FinalizeResult{Outcome: repository.FinalizeNotFound}, nil
	}
	switch b.Status {
	case model.BookingStatusPaid:
		cp := *b
		return &repository.FinalizeResult{Outcome: repository.FinalizeAlreadyPaid, Booking: &cp}, nil
	case model.BookingStatusFailed:
		cp := *b
		return &repository.FinalizeResult{Outcome: repository.FinalizeNotPending, Booking: &cp}, nil
	}

	b.Status = model.BookingStatusPaid
	b.Payment.Status = model.PaymentStatusPaid
	b.Payment.PaymentID = paymentID
	b.Payment.PaidAt = &now
	b.ExpiresAt = nil

	for id, s := range r.slots {
		if s.BookingID != bookingID {
			continue
		}
		s.Status = model.SlotStatusBooked
		s.Addons = b.Addons
		r.slots[id] = s
	}

	res := &repository.FinalizeResult{Outcome: repository.FinalizeApplied}
	for _, a := range b.ItemAddons() {
		if _, ok := r.stock[a.ID]; !ok {
			res.MissingStock = append(res.MissingStock, a.ID)
			continue
		}
		r.stock[a.ID] -= a.Units()
	}

	res.LoyaltyCredited = b.LoyaltyCredit()
	r.loyalty[b.UID] += res.LoyaltyCredited

	cp := *b
	res.Booking = &cp
	return res, nil
}

func (r *memRepository) MarkBookingFailed(_ context.Context, bookingID string, paymentStatus model.PaymentStatus, now time.Time) (*model.Booking, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.bookings[bookingID]
	if !ok {
		return nil, false, repository.ErrBookingNotFound
	}
	if b.Status != model.BookingStatusPending {
		cp := *b
		return &cp, false, nil
	}
	r.failLocked(b, paymentStatus, now)
	cp := *b
	return &cp, true, nil
}

func (r *memRepository) ExpirePendingBookings(_ context.Context, now time.Time, limit int) ([]repository.ExpiredBooking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []repository.ExpiredBooking
	for _, b := range r.bookings {
		if len(res) == limit {
			break
		}
		if b.Status != model.BookingStatusPending || !b.IsExpired(now) {
			continue
		}
		r.failLocked(b, model.PaymentStatusExpired, now)
		res = append(res, repository.ExpiredBooking{ID: b.ID, UID: b.UID})
	}
	return res, nil
}

func (r *memRepository) failLocked(b *model.Booking, paymentStatus model.PaymentStatus, now time.Time) {
	b.Status = model.BookingStatusFailed
	b.Payment.Status = paymentStatus
	b.Payment.FailedAt = &now
	r.deleteSlotsLocked(b.ID)
}

func (r *memRepository) deleteSlotsLocked(bookingID string) {
	for id, s := range r.slots {
		if s.BookingID == bookingID {
			delete(r.slots, id)
		}
	}
}

func (r *memRepository) booking(id string) model.Booking {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.bookings[id]
}

func (r *memRepository) slotsOf(bookingID string) []model.Slot {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res []model.Slot
	for _, s := range r.slots {
		if s.BookingID == bookingID {
			res = append(res, s)
		}
	}
	return res
}

func (r *memRepository) stockOf(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stock[id]
}

type fakeGateway struct {
	mu          sync.Mutex
	err         error
	amountDelta int64
	requests    []razorpay.OrderRequest
}

func (g *fakeGateway) CreateOrder(_ context.Context, in razorpay.OrderRequest) (*razorpay.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.requests = append(g.requests, in)
	if g.err != nil {
		return nil, g.err
	}
	return &razorpay.Order{
		ID:       fmt.Sprintf("order_%d", len(g.requests)),
		Amount:   in.Amount + g.amountDelta,
		Currency: in.Currency,
		Receipt:  in.Receipt,
		Status:   "created",
	}, nil
}

type fakePublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *fakePublisher) PublishJSON(_ context.Context, key string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return nil
}

func (p *fakePublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}
