package razorpay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// SignatureHeader: заголовок с подписью тела вебхука.
const SignatureHeader = "X-Razorpay-Signature"

// Типы событий вебхука, которые обрабатывает сервис.
const (
	EventOrderPaid     = "order.paid"
	EventPaymentFailed = "payment.failed"
)

// ErrMalformedEvent возвращается, если тело вебхука не соответствует ожидаемой схеме.
var ErrMalformedEvent = errors.New("malformed webhook event")

// Notes: произвольные заметки Razorpay. Пустые заметки приходят в виде JSON-массива.
type Notes map[string]string

// UnmarshalJSON принимает объект, пустой массив или null.
func (n *Notes) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("[]")) {
		*n = Notes{}
		return nil
	}

	var raw map[string]any
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return fmt.Errorf("notes: %w", err)
	}

	res := make(Notes, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			res[k] = val
		case nil:
		default:
			res[k] = fmt.Sprint(val)
		}
	}
	*n = res
	return nil
}

// BookingID извлекает идентификатор бронирования из заметок.
func (n Notes) BookingID() string {
	if v := n["bookingId"]; v != "" {
		return v
	}
	return n["booking_id"]
}

type paymentEntity struct {
	ID               string  `json:"id"`
	Amount           int64   `json:"amount"`
	Currency         string  `json:"currency"`
	Status           string  `json:"status"`
	OrderID          string  `json:"order_id"`
	Notes            Notes   `json:"notes"`
	ErrorCode        *string `json:"error_code"`
	ErrorDescription *string `json:"error_description"`
}

type orderEntity struct {
	ID         string `json:"id"`
	Amount     int64  `json:"amount"`
	AmountPaid int64  `json:"amount_paid"`
	Receipt    string `json:"receipt"`
	Status     string `json:"status"`
	Notes      Notes  `json:"notes"`
}

type envelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity paymentEntity `json:"entity"`
		} `json:"payment"`
		Order *struct {
			Entity orderEntity `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

// OrderPaid: событие полной оплаты заказа.
type OrderPaid struct {
	OrderID string
	// BookingID берётся из receipt заказа.
	BookingID   string
	OrderAmount int64
	PaymentID   string
}

// PaymentFailed: событие неуспешной попытки оплаты.
type PaymentFailed struct {
	PaymentID   string
	OrderID     string
	BookingID   string
	Reason      string
	Description string
}

// WebhookEvent: разобранное событие вебхука. Заполнен ровно один из вариантов
// OrderPaid и PaymentFailed; для прочих событий оба пусты.
type WebhookEvent struct {
	Event         string
	OrderPaid     *OrderPaid
	PaymentFailed *PaymentFailed
}

// ParseWebhookEvent разбирает сырое тело вебхука и проверяет обязательные поля события.
func ParseWebhookEvent(body []byte) (*WebhookEvent, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("%w: event is required", ErrMalformedEvent)
	}

	ev := &WebhookEvent{Event: env.Event}

	switch env.Event {
	case EventOrderPaid:
		if env.Payload.Order == nil || env.Payload.Payment == nil {
			return nil, fmt.Errorf("%w: order.paid requires order and payment entities", ErrMalformedEvent)
		}
		order := env.Payload.Order.Entity
		payment := env.Payload.Payment.Entity
		if order.ID == "" || order.Receipt == "" || payment.ID == "" {
			return nil, fmt.Errorf("%w: order.paid requires order id, receipt and payment id", ErrMalformedEvent)
		}
		if order.Amount <= 0 {
			return nil, fmt.Errorf("%w: order amount must be positive", ErrMalformedEvent)
		}
		ev.OrderPaid = &OrderPaid{
			OrderID:     order.ID,
			BookingID:   order.Receipt,
			OrderAmount: order.Amount,
			PaymentID:   payment.ID,
		}

	case EventPaymentFailed:
		if env.Payload.Payment == nil || env.Payload.Payment.Entity.ID == "" {
			return nil, fmt.Errorf("%w: payment.failed requires payment entity", ErrMalformedEvent)
		}
		payment := env.Payload.Payment.Entity
		pf := &PaymentFailed{
			PaymentID: payment.ID,
			OrderID:   payment.OrderID,
			BookingID: payment.Notes.BookingID(),
		}
		if pf.BookingID == "" && env.Payload.Order != nil {
			pf.BookingID = env.Payload.Order.Entity.Receipt
		}
		if payment.ErrorCode != nil {
			pf.Reason = *payment.ErrorCode
		}
		if payment.ErrorDescription != nil {
			pf.Description = *payment.ErrorDescription
		}
		ev.PaymentFailed = pf
	}

	return ev, nil
}
