package model

import "time"

// SlotRequest: запрошенный пользователем интервал с ценой в минорных единицах.
type SlotRequest struct {
	StartAt time.Time
	EndAt   time.Time
	Price   int64
}

// Interval возвращает интервал запрошенного слота.
func (s SlotRequest) Interval() Interval {
	return Interval{Start: s.StartAt, End: s.EndAt}
}

// ReservationRequest: входные данные для создания бронирования.
type ReservationRequest struct {
	UID         string
	VenueID     string
	Slots       []SlotRequest
	Addons      []Addon
	TotalAmount int64
}

// Intervals возвращает интервалы всех запрошенных слотов.
func (r ReservationRequest) Intervals() []Interval {
	res := make([]Interval, 0, len(r.Slots))
	for _, s := range r.Slots {
		res = append(res, s.Interval())
	}
	return res
}

// Reservation: результат успешного создания бронирования.
type Reservation struct {
	BookingID string
	OrderID   string
	// Amount: сумма заказа платёжного шлюза в минорных единицах.
	Amount int64
}
