package handler

import (
	"time"

	"github.com/mmeshcher/groundbook/internal/model"
)

// Суммы в API передаются в основных единицах валюты, внутри сервиса: в минорных.

type slotRequest struct {
	StartAt time.Time `json:"startAt"`
	EndAt   time.Time `json:"endAt"`
	Price   float64   `json:"price"`
}

type addonRequest struct {
	ID       string  `json:"id"`
	Type     string  `json:"type"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
	Name     string  `json:"name"`
}

type reservationRequest struct {
	VenueID     string         `json:"venueId"`
	Slots       []slotRequest  `json:"slots"`
	Addons      []addonRequest `json:"addons"`
	TotalAmount float64        `json:"totalAmount"`
}

func (r reservationRequest) toModel(uid string) model.ReservationRequest {
	req := model.ReservationRequest{
		UID:         uid,
		VenueID:     r.VenueID,
		TotalAmount: model.ToMinor(r.TotalAmount),
	}
	for _, s := range r.Slots {
		req.Slots = append(req.Slots, model.SlotRequest{
			StartAt: s.StartAt,
			EndAt:   s.EndAt,
			Price:   model.ToMinor(s.Price),
		})
	}
	for _, a := range r.Addons {
		req.Addons = append(req.Addons, model.Addon{
			ID:       a.ID,
			Type:     model.AddonType(a.Type),
			Quantity: a.Quantity,
			Price:    model.ToMinor(a.Price),
			Name:     a.Name,
		})
	}
	return req
}

type reservationResponse struct {
	Success   bool   `json:"success"`
	OrderID   string `json:"orderId"`
	BookingID string `json:"bookingId"`
	// Amount: сумма заказа в минорных единицах, как её ожидает платёжная форма.
	Amount int64 `json:"amount"`
}

type verifyRequest struct {
	PaymentID string `json:"razorpay_payment_id"`
	OrderID   string `json:"razorpay_order_id"`
	Signature string `json:"razorpay_signature"`
	BookingID string `json:"bookingId"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type cleanupResponse struct {
	Success bool `json:"success"`
	Cleaned int  `json:"cleaned"`
}

type loyaltyResponse struct {
	Points int64 `json:"loyaltyPoints"`
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errorResponse struct {
	Success bool      `json:"success"`
	Error   errorBody `json:"error"`
}

type addonResponse struct {
	ID       string  `json:"id"`
	Type     string  `json:"type"`
	Quantity int     `json:"quantity"`
	Price    float64 `json:"price"`
	Name     string  `json:"name"`
}

type paymentResponse struct {
	OrderID   string `json:"orderId,omitempty"`
	Status    string `json:"status"`
	PaymentID string `json:"razorpayPaymentId,omitempty"`
	PaidAt    string `json:"paidAt,omitempty"`
	FailedAt  string `json:"failedAt,omitempty"`
}

type bookingResponse struct {
	ID          string          `json:"id"`
	VenueID     string          `json:"venueId"`
	Date        string          `json:"date"`
	SlotIDs     []string        `json:"slotIds"`
	Addons      []addonResponse `json:"addons"`
	TotalAmount float64         `json:"totalAmount"`
	Currency    string          `json:"currency"`
	Status      string          `json:"status"`
	Payment     paymentResponse `json:"payment"`
	CreatedAt   string          `json:"createdAt"`
	ExpiresAt   string          `json:"expiresAt,omitempty"`
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

func newBookingResponse(b model.Booking) bookingResponse {
	addons := make([]addonResponse, 0, len(b.Addons))
	for _, a := range b.Addons {
		addons = append(addons, addonResponse{
			ID:       a.ID,
			Type:     string(a.Type),
			Quantity: a.Quantity,
			Price:    model.FromMinor(a.Price),
			Name:     a.Name,
		})
	}

	slotIDs := b.SlotIDs
	if slotIDs == nil {
		slotIDs = []string{}
	}

	return bookingResponse{
		ID:          b.ID,
		VenueID:     b.VenueID,
		Date:        b.Date,
		SlotIDs:     slotIDs,
		Addons:      addons,
		TotalAmount: model.FromMinor(b.TotalAmount),
		Currency:    b.Currency,
		Status:      string(b.Status),
		Payment: paymentResponse{
			OrderID:   b.Payment.OrderID,
			Status:    string(b.Payment.Status),
			PaymentID: b.Payment.PaymentID,
			PaidAt:    formatTime(b.Payment.PaidAt),
			FailedAt:  formatTime(b.Payment.FailedAt),
		},
		CreatedAt: b.CreatedAt.Format(time.RFC3339),
		ExpiresAt: formatTime(b.ExpiresAt),
	}
}

type slotResponse struct {
	ID      string  `json:"id"`
	VenueID string  `json:"venueId"`
	Date    string  `json:"date"`
	StartAt string  `json:"startAt"`
	EndAt   string  `json:"endAt"`
	Price   float64 `json:"price"`
	Status  string  `json:"status"`
}

func newSlotResponse(s model.Slot) slotResponse {
	return slotResponse{
		ID:      s.ID,
		VenueID: s.VenueID,
		Date:    s.DateString,
		StartAt: s.StartAt.Format(time.RFC3339),
		EndAt:   s.EndAt.Format(time.RFC3339),
		Price:   model.FromMinor(s.Price),
		Status:  string(s.Status),
	}
}
