package service

import "errors"

// Виды ошибок, которые различает API. Конкретные ошибки оборачивают один из них.
var (
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrConflict         = errors.New("conflict")
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
	ErrAmountMismatch   = errors.New("amount mismatch")
	ErrInternal         = errors.New("internal error")
)

// Kind возвращает машинное имя вида ошибки.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAmountMismatch):
		return "amount_mismatch"
	default:
		return "internal"
	}
}
