package validation

import (
	"errors"
	"testing"
	"time"

	"github.com/mmeshcher/groundbook/internal/model"
)

func validRequest() model.ReservationRequest {
	start := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	return model.ReservationRequest{
		UID:     "user-1",
		VenueID: "main-ground",
		Slots: []model.SlotRequest{
			{StartAt: start, EndAt: start.Add(time.Hour), Price: 50000},
		},
		Addons: []model.Addon{
			{ID: "ball", Type: model.AddonTypeItem, Quantity: 2, Price: 5000, Name: "Ball"},
		},
		TotalAmount: 60000,
	}
}

func TestValidateReservation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *model.ReservationRequest)
		field  string
	}{
		{
			name:   "valid",
			mutate: func(r *model.ReservationRequest) {},
		},
		{
			name:   "missing uid",
			mutate: func(r *model.ReservationRequest) { r.UID = "" },
			field:  "uid",
		},
		{
			name:   "no slots",
			mutate: func(r *model.ReservationRequest) { r.Slots = nil },
			field:  "slots",
		},
		{
			name: "end before start",
			mutate: func(r *model.ReservationRequest) {
				r.Slots[0].EndAt = r.Slots[0].StartAt.Add(-time.Minute)
			},
			field: "slots[0]",
		},
		{
			name: "overlapping slots in one request",
			mutate: func(r *model.ReservationRequest) {
				s := r.Slots[0]
				r.Slots = append(r.Slots, model.SlotRequest{StartAt: s.StartAt.Add(30 * time.Minute), EndAt: s.EndAt.Add(30 * time.Minute)})
			},
			field: "slots[1]",
		},
		{
			name:   "unknown addon type",
			mutate: func(r *model.ReservationRequest) { r.Addons[0].Type = "drone" },
			field:  "addons[0].type",
		},
		{
			name:   "zero total",
			mutate: func(r *model.ReservationRequest) { r.TotalAmount = 0; r.Slots[0].Price = 0; r.Addons = nil },
			field:  "totalAmount",
		},
		{
			name:   "total mismatch",
			mutate: func(r *model.ReservationRequest) { r.TotalAmount = 55000 },
			field:  "totalAmount",
		},
		{
			name: "unpriced addons accept total above slots",
			mutate: func(r *model.ReservationRequest) {
				r.Addons[0].Price = 0
				r.TotalAmount = 60000
			},
		},
		{
			name: "unpriced addons reject total below slots",
			mutate: func(r *model.ReservationRequest) {
				r.Addons[0].Price = 0
				r.TotalAmount = 40000
			},
			field: "totalAmount",
		},
		{
			name: "quantity defaults to one",
			mutate: func(r *model.ReservationRequest) {
				r.Addons[0].Quantity = 0
				r.TotalAmount = 55000
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)

			err := ValidateReservation(req)
			if tt.field == "" {
				if err != nil {
					t.Fatalf("ValidateReservation() unexpected error: %v", err)
				}
				return
			}

			var fe *FieldError
			if !errors.As(err, &fe) {
				t.Fatalf("ValidateReservation() = %v, want *FieldError", err)
			}
			if fe.Field != tt.field {
				t.Fatalf("field = %q, want %q", fe.Field, tt.field)
			}
		})
	}
}
