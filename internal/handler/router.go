package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/mmeshcher/groundbook/internal/middleware"
	"github.com/mmeshcher/groundbook/internal/service"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса бронирования.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api", func(r chi.Router) {
		r.Post("/webhooks/razorpay", h.RazorpayWebhook)
		r.Post("/cron/cleanup-expired", h.CleanupExpired)
		r.Get("/venues/{venueID}/slots", h.GetVenueSlots)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Post("/reservations", h.CreateReservation)
			r.Post("/payments/verify", h.VerifyPayment)

			r.Get("/bookings", h.GetBookings)
			r.Get("/bookings/{bookingID}", h.GetBooking)

			r.Get("/user/loyalty", h.GetLoyalty)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, http.StatusNotFound, service.ErrNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: errorBody{
			Kind:    "invalid_argument",
			Message: http.StatusText(http.StatusMethodNotAllowed),
		}})
	})

	return r
}
