// Package validation содержит функции валидации входных данных.
package validation

import (
	"fmt"

	"github.com/mmeshcher/groundbook/internal/model"
)

// MaxSlotsPerRequest ограничивает число интервалов в одном бронировании.
const MaxSlotsPerRequest = 48

// FieldError описывает некорректное поле запроса.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func fieldErr(field, format string, args ...any) error {
	return &FieldError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ValidateReservation проверяет запрос на бронирование до открытия транзакции.
// Сумма сверяется с ценами слотов и услуг, только если цена указана у каждой услуги.
func ValidateReservation(req model.ReservationRequest) error {
	if req.UID == "" {
		return fieldErr("uid", "is required")
	}
	if req.VenueID == "" {
		return fieldErr("venueId", "is required")
	}

	if len(req.Slots) == 0 {
		return fieldErr("slots", "at least one slot is required")
	}
	if len(req.Slots) > MaxSlotsPerRequest {
		return fieldErr("slots", "too many slots: %d > %d", len(req.Slots), MaxSlotsPerRequest)
	}

	var expected int64
	for i, s := range req.Slots {
		if s.StartAt.IsZero() || s.EndAt.IsZero() {
			return fieldErr(fmt.Sprintf("slots[%d]", i), "startAt and endAt are required")
		}
		if !s.Interval().Valid() {
			return fieldErr(fmt.Sprintf("slots[%d]", i), "startAt must be before endAt")
		}
		if s.Price < 0 {
			return fieldErr(fmt.Sprintf("slots[%d].price", i), "must not be negative")
		}
		for j := 0; j < i; j++ {
			if s.Interval().Overlaps(req.Slots[j].Interval()) {
				return fieldErr(fmt.Sprintf("slots[%d]", i), "overlaps slots[%d]", j)
			}
		}
		expected += s.Price
	}

	slotsTotal := expected
	priced := true
	for i, a := range req.Addons {
		if err := validateAddon(i, a); err != nil {
			return err
		}
		if a.Price == 0 {
			priced = false
		}
		expected += a.Cost()
	}

	if req.TotalAmount <= 0 {
		return fieldErr("totalAmount", "must be positive")
	}
	// Без цен услуг сумму можно сверить только снизу.
	if !priced {
		if req.TotalAmount < slotsTotal {
			return fieldErr("totalAmount", "is less than the slots total: got %d, want at least %d", req.TotalAmount, slotsTotal)
		}
		return nil
	}
	if req.TotalAmount != expected {
		return fieldErr("totalAmount", "does not match slots and addons: got %d, want %d", req.TotalAmount, expected)
	}

	return nil
}

func validateAddon(i int, a model.Addon) error {
	field := fmt.Sprintf("addons[%d]", i)
	if a.ID == "" {
		return fieldErr(field+".id", "is required")
	}
	switch a.Type {
	case model.AddonTypeItem, model.AddonTypeManpower:
	default:
		return fieldErr(field+".type", "unknown addon type %q", a.Type)
	}
	if a.Quantity < 0 {
		return fieldErr(field+".quantity", "must not be negative")
	}
	if a.Price < 0 {
		return fieldErr(field+".price", "must not be negative")
	}
	return nil
}
