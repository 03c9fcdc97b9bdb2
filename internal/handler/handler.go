// Package handler содержит HTTP-обработчики API сервиса бронирования.
package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/groundbook/internal/middleware"
	"github.com/mmeshcher/groundbook/internal/model"
	"github.com/mmeshcher/groundbook/internal/razorpay"
	"github.com/mmeshcher/groundbook/internal/service"
)

const maxBodySize = 1 << 20

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateReservation(ctx context.Context, req model.ReservationRequest) (*model.Reservation, error)
	VerifyPayment(ctx context.Context, req service.VerifyPaymentRequest) error
	HandleWebhook(ctx context.Context, body []byte, signature string) error
	Sweep(ctx context.Context) (int, error)
	GetBookings(ctx context.Context, uid string) ([]model.Booking, error)
	GetBooking(ctx context.Context, uid, bookingID string) (*model.Booking, error)
	GetAvailability(ctx context.Context, venueID, date string) ([]model.Slot, error)
	GetLoyaltyPoints(ctx context.Context, uid string) (int64, error)
}

// Handler реализует HTTP-обработчики API сервиса бронирования.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	cronSecret     string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// Пустой cronSecret закрывает эндпоинт очистки.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware, cronSecret string) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		cronSecret:     cronSecret,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	switch service.Kind(err) {
	case "invalid_argument", "amount_mismatch":
		return http.StatusBadRequest
	case "conflict":
		return http.StatusConflict
	case "unauthenticated":
		return http.StatusUnauthorized
	case "permission_denied":
		return http.StatusForbidden
	case "not_found":
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	kind := service.Kind(err)
	msg := err.Error()
	if kind == "internal" {
		msg = http.StatusText(http.StatusInternalServerError)
	}
	writeJSON(w, status, errorResponse{Error: errorBody{Kind: kind, Message: msg}})
}

func (h *Handler) fail(w http.ResponseWriter, err error, fields ...zap.Field) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", append(fields, zap.Error(err))...)
	}
	h.writeError(w, status, err)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed request body: %v", service.ErrInvalidArgument, err)
	}
	return nil
}

// CreateReservation резервирует слоты текущего пользователя и создаёт заказ на оплату.
func (h *Handler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	uid, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, service.ErrUnauthenticated)
		return
	}

	var req reservationRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, err)
		return
	}

	res, err := h.service.CreateReservation(r.Context(), req.toModel(uid))
	if err != nil {
		h.fail(w, err, zap.String("uid", uid))
		return
	}

	writeJSON(w, http.StatusOK, reservationResponse{
		Success:   true,
		OrderID:   res.OrderID,
		BookingID: res.BookingID,
		Amount:    res.Amount,
	})
}

// VerifyPayment подтверждает оплату по подписи, полученной клиентом от платёжной формы.
func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	uid, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, service.ErrUnauthenticated)
		return
	}

	var req verifyRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, err)
		return
	}

	err := h.service.VerifyPayment(r.Context(), service.VerifyPaymentRequest{
		UID:       uid,
		BookingID: req.BookingID,
		OrderID:   req.OrderID,
		PaymentID: req.PaymentID,
		Signature: req.Signature,
	})
	if err != nil {
		h.fail(w, err, zap.String("uid", uid), zap.String("bookingID", req.BookingID))
		return
	}

	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// RazorpayWebhook принимает события платёжного шлюза. Подпись проверяется по сырому телу.
// Ответ не 2xx заставляет шлюз повторить доставку.
func (h *Handler) RazorpayWebhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Errorf("%w: read body: %v", service.ErrInvalidArgument, err))
		return
	}

	err = h.service.HandleWebhook(r.Context(), body, r.Header.Get(razorpay.SignatureHeader))
	if err != nil {
		status := http.StatusBadRequest
		if service.Kind(err) == "internal" {
			status = http.StatusInternalServerError
			h.logger.Error("webhook processing error", zap.Error(err))
		}
		h.writeError(w, status, err)
		return
	}

	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// CleanupExpired снимает просроченные бронирования по запросу внешнего планировщика.
func (h *Handler) CleanupExpired(w http.ResponseWriter, r *http.Request) {
	if !h.cronAuthorized(r) {
		h.writeError(w, http.StatusUnauthorized, service.ErrUnauthenticated)
		return
	}

	cleaned, err := h.service.Sweep(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}

	writeJSON(w, http.StatusOK, cleanupResponse{Success: true, Cleaned: cleaned})
}

func (h *Handler) cronAuthorized(r *http.Request) bool {
	if h.cronSecret == "" {
		return false
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.cronSecret)) == 1
}

// GetBookings возвращает бронирования текущего пользователя.
func (h *Handler) GetBookings(w http.ResponseWriter, r *http.Request) {
	uid, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, service.ErrUnauthenticated)
		return
	}

	bookings, err := h.service.GetBookings(r.Context(), uid)
	if err != nil {
		h.fail(w, err, zap.String("uid", uid))
		return
	}

	if len(bookings) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]bookingResponse, 0, len(bookings))
	for _, b := range bookings {
		resp = append(resp, newBookingResponse(b))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetBooking возвращает одно бронирование текущего пользователя.
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	uid, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, service.ErrUnauthenticated)
		return
	}

	bookingID := chi.URLParam(r, "bookingID")
	b, err := h.service.GetBooking(r.Context(), uid, bookingID)
	if err != nil {
		h.fail(w, err, zap.String("uid", uid), zap.String("bookingID", bookingID))
		return
	}

	writeJSON(w, http.StatusOK, newBookingResponse(*b))
}

// GetLoyalty возвращает баллы лояльности текущего пользователя.
func (h *Handler) GetLoyalty(w http.ResponseWriter, r *http.Request) {
	uid, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, service.ErrUnauthenticated)
		return
	}

	points, err := h.service.GetLoyaltyPoints(r.Context(), uid)
	if err != nil {
		h.fail(w, err, zap.String("uid", uid))
		return
	}

	writeJSON(w, http.StatusOK, loyaltyResponse{Points: points})
}

// GetVenueSlots возвращает занятые слоты площадки на дату из параметра date.
func (h *Handler) GetVenueSlots(w http.ResponseWriter, r *http.Request) {
	venueID := chi.URLParam(r, "venueID")
	date := r.URL.Query().Get("date")

	slots, err := h.service.GetAvailability(r.Context(), venueID, date)
	if err != nil {
		h.fail(w, err, zap.String("venueID", venueID), zap.String("date", date))
		return
	}

	resp := make([]slotResponse, 0, len(slots))
	for _, s := range slots {
		resp = append(resp, newSlotResponse(s))
	}
	writeJSON(w, http.StatusOK, resp)
}
