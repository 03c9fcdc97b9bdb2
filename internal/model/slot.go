package model

import "time"

// DateLayout: формат календарного дня, по которому шардируются слоты.
const DateLayout = "2006-01-02"

// SlotStatus описывает статус временного слота.
type SlotStatus string

const (
	SlotStatusPending SlotStatus = "pending"
	SlotStatusBooked  SlotStatus = "booked"
)

// Slot: неделимый интервал времени на площадке в пределах одного календарного дня.
type Slot struct {
	ID         string
	BookingID  string
	VenueID    string
	DateString string
	StartAt    time.Time
	EndAt      time.Time
	Price      int64
	Status     SlotStatus
	Addons     []Addon
	CreatedAt  time.Time
}

// Interval возвращает полуинтервал [StartAt, EndAt) слота.
func (s Slot) Interval() Interval {
	return Interval{Start: s.StartAt, End: s.EndAt}
}

// Interval: полуоткрытый интервал времени [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Valid сообщает, что начало интервала строго раньше конца.
func (i Interval) Valid() bool {
	return i.Start.Before(i.End)
}

// Overlaps проверяет пересечение двух полуинтервалов.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && i.End.After(o.Start)
}

// String форматирует интервал для сообщений об ошибках.
func (i Interval) String() string {
	return i.Start.Format(time.RFC3339) + " - " + i.End.Format(time.RFC3339)
}

// DayString возвращает календарный день момента t в часовом поясе площадки.
func DayString(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DateLayout)
}

// HeldSlot: существующий активный слот вместе со сроком ожидания оплаты его бронирования.
type HeldSlot struct {
	Slot
	BookingExpiresAt *time.Time
}

// Stale сообщает, что слот удерживается неоплаченным бронированием с истёкшим сроком.
func (h HeldSlot) Stale(now time.Time) bool {
	return h.Status == SlotStatusPending && h.BookingExpiresAt != nil && h.BookingExpiresAt.Before(now)
}

// OverlapCheck: результат сверки запрошенных интервалов с уже существующими слотами.
type OverlapCheck struct {
	// Conflict заполнен, если запрошенный интервал пересекается с действующим слотом.
	Conflict *Interval
	// Existing: интервал слота, с которым произошёл конфликт.
	Existing *Interval
	// StaleBookings: просроченные бронирования, чьи слоты пересекаются с запросом и подлежат освобождению.
	StaleBookings []string
}

// CheckOverlaps сверяет запрошенные интервалы со слотами дня. Пересечение с просроченным
// pending-слотом не считается конфликтом: такое бронирование попадает в StaleBookings.
func CheckOverlaps(proposed []Interval, existing []HeldSlot, now time.Time) OverlapCheck {
	var res OverlapCheck
	seen := make(map[string]struct{})

	for _, p := range proposed {
		for _, e := range existing {
			if !p.Overlaps(e.Interval()) {
				continue
			}
			if e.Stale(now) {
				if _, ok := seen[e.BookingID]; !ok {
					seen[e.BookingID] = struct{}{}
					res.StaleBookings = append(res.StaleBookings, e.BookingID)
				}
				continue
			}
			conflict, existingInterval := p, e.Interval()
			return OverlapCheck{Conflict: &conflict, Existing: &existingInterval}
		}
	}

	return res
}

// BookedManpower собирает идентификаторы персонала, уже закреплённого за оплаченными слотами.
func BookedManpower(slots []Slot) map[string]struct{} {
	ids := make(map[string]struct{})
	for _, s := range slots {
		if s.Status != SlotStatusBooked {
			continue
		}
		for _, id := range ManpowerIDs(s.Addons) {
			ids[id] = struct{}{}
		}
	}
	return ids
}

// ManpowerClash возвращает первый запрошенный идентификатор персонала, который уже занят.
func ManpowerClash(requested []Addon, taken map[string]struct{}) (string, bool) {
	for _, id := range ManpowerIDs(requested) {
		if _, ok := taken[id]; ok {
			return id, true
		}
	}
	return "", false
}
