// Package model содержит доменные сущности сервиса бронирования площадок.
package model

import (
	"math"
	"time"
)

// BookingStatus описывает статус бронирования.
type BookingStatus string

const (
	BookingStatusPending BookingStatus = "pending"
	BookingStatusPaid    BookingStatus = "paid"
	BookingStatusFailed  BookingStatus = "failed"
)

// PaymentStatus описывает статус платежа, привязанного к бронированию.
type PaymentStatus string

const (
	PaymentStatusCreated PaymentStatus = "created"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
	PaymentStatusExpired PaymentStatus = "expired"
)

// AddonType описывает вид дополнительной услуги.
type AddonType string

const (
	// AddonTypeItem: расходный инвентарь со складским остатком.
	AddonTypeItem AddonType = "item"
	// AddonTypeManpower: персонал, который не может работать на двух бронях в один день.
	AddonTypeManpower AddonType = "manpower"
)

// Addon описывает дополнительную услугу в составе бронирования. Цена хранится в минорных единицах.
type Addon struct {
	ID       string    `json:"id"`
	Type     AddonType `json:"type"`
	Quantity int       `json:"quantity"`
	Price    int64     `json:"price"`
	Name     string    `json:"name"`
}

// Units возвращает количество единиц услуги; отсутствующее количество считается за одну.
func (a Addon) Units() int {
	if a.Quantity <= 0 {
		return 1
	}
	return a.Quantity
}

// Cost возвращает стоимость услуги с учётом количества.
func (a Addon) Cost() int64 {
	return a.Price * int64(a.Units())
}

// Payment описывает платёжную часть бронирования.
type Payment struct {
	OrderID   string
	Status    PaymentStatus
	PaymentID string
	PaidAt    *time.Time
	FailedAt  *time.Time
}

// Booking: агрегат бронирования, за который платит пользователь.
type Booking struct {
	ID          string
	UID         string
	VenueID     string
	Date        string
	SlotIDs     []string
	Addons      []Addon
	TotalAmount int64
	Currency    string
	Status      BookingStatus
	Payment     Payment
	CreatedAt   time.Time
	ExpiresAt   *time.Time
}

// IsTerminal сообщает, что бронирование больше не может менять статус.
func (b *Booking) IsTerminal() bool {
	return b.Status == BookingStatusPaid || b.Status == BookingStatusFailed
}

// IsExpired сообщает, что срок ожидания оплаты истёк к моменту now.
func (b *Booking) IsExpired(now time.Time) bool {
	return b.Status == BookingStatusPending && b.ExpiresAt != nil && b.ExpiresAt.Before(now)
}

// LoyaltyCredit возвращает количество баллов за оплаченное бронирование: по одному баллу за каждые 100 единиц суммы.
func (b *Booking) LoyaltyCredit() int64 {
	if b.TotalAmount <= 0 {
		return 0
	}
	return b.TotalAmount / (100 * 100)
}

// ItemAddons возвращает услуги, по которым нужно списать складской остаток.
func (b *Booking) ItemAddons() []Addon {
	var items []Addon
	for _, a := range b.Addons {
		if a.Type == AddonTypeItem {
			items = append(items, a)
		}
	}
	return items
}

// ManpowerIDs возвращает идентификаторы персонала из списка услуг.
func ManpowerIDs(addons []Addon) []string {
	var ids []string
	for _, a := range addons {
		if a.Type == AddonTypeManpower {
			ids = append(ids, a.ID)
		}
	}
	return ids
}

// ToMinor переводит сумму в основных единицах валюты в минорные (рупии в пайсы).
func ToMinor(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// FromMinor переводит сумму в минорных единицах в основные.
func FromMinor(amount int64) float64 {
	return float64(amount) / 100
}
