// Package service содержит бизнес-логику бронирования: резервирование слотов,
// подтверждение оплаты из разных источников и снятие просроченных броней.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/groundbook/internal/broker"
	"github.com/mmeshcher/groundbook/internal/model"
	"github.com/mmeshcher/groundbook/internal/razorpay"
	"github.com/mmeshcher/groundbook/internal/repository"
)

// Repository определяет контракт хранилища слотов и бронирований.
type Repository interface {
	Close() error
	CreateReservation(ctx context.Context, b *model.Booking, slots []model.Slot, now time.Time) ([]string, error)
	AttachPaymentOrder(ctx context.Context, bookingID, orderID string) error
	DeleteReservation(ctx context.Context, bookingID string) error
	GetBooking(ctx context.Context, bookingID string) (*model.Booking, error)
	GetBookingsByUser(ctx context.Context, uid string) ([]model.Booking, error)
	GetActiveSlots(ctx context.Context, venueID, date string, now time.Time) ([]model.Slot, error)
	GetLoyaltyPoints(ctx context.Context, uid string) (int64, error)
	FinalizeBooking(ctx context.Context, bookingID, paymentID string, now time.Time) (*repository.FinalizeResult, error)
	MarkBookingFailed(ctx context.Context, bookingID string, paymentStatus model.PaymentStatus, now time.Time) (*model.Booking, bool, error)
	ExpirePendingBookings(ctx context.Context, now time.Time, limit int) ([]repository.ExpiredBooking, error)
}

// PaymentGateway создаёт заказы в платёжном шлюзе.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, in razorpay.OrderRequest) (*razorpay.Order, error)
}

// EventPublisher публикует события жизненного цикла бронирований.
type EventPublisher interface {
	PublishJSON(ctx context.Context, key string, v any) error
}

// Options содержит параметры бизнес-логики.
type Options struct {
	Currency       string
	ReservationTTL time.Duration
	DefaultVenueID string
	Location       *time.Location

	// KeySecret: секрет ключа API, которым шлюз подписывает результат оплаты.
	KeySecret     string
	WebhookSecret string

	ReaperInterval  time.Duration
	ReaperBatchSize int
}

func (o Options) withDefaults() Options {
	if o.Currency == "" {
		o.Currency = "INR"
	}
	if o.ReservationTTL <= 0 {
		o.ReservationTTL = 10 * time.Minute
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.ReaperInterval <= 0 {
		o.ReaperInterval = time.Hour
	}
	if o.ReaperBatchSize <= 0 {
		o.ReaperBatchSize = 500
	}
	return o
}

// Service содержит бизнес-логику сервиса бронирования.
type Service struct {
	repo      Repository
	gateway   PaymentGateway
	publisher EventPublisher
	logger    *zap.Logger
	opts      Options
	now       func() time.Time
}

// NewService создаёт сервис. publisher может быть nil, тогда события не публикуются.
func NewService(repo Repository, gateway PaymentGateway, publisher EventPublisher, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:      repo,
		gateway:   gateway,
		publisher: publisher,
		logger:    logger,
		opts:      opts.withDefaults(),
		now:       time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

func (s *Service) publish(ctx context.Context, key string, data any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishJSON(ctx, key, broker.NewEvent(key, data, s.now())); err != nil {
		s.logger.Warn("publish event error", zap.String("event", key), zap.Error(err))
	}
}
