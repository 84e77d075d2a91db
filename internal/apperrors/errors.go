package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the machine-readable error classification returned to API clients.
type Kind string

const (
	KindInvalidState      Kind = "INVALID_STATE"
	KindIllegalTransition Kind = "ILLEGAL_TRANSITION"
	KindVehicleBusy       Kind = "VEHICLE_BUSY"
	KindNotFound          Kind = "NOT_FOUND"
	KindValidation        Kind = "VALIDATION"
	KindChannelDelivery   Kind = "CHANNEL_DELIVERY"
)

// Error carries a Kind alongside the message so handlers can map it to an
// HTTP status and clients can branch on it without string matching.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

// Is lets errors.Is match two *Error values by Kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func InvalidState(format string, args ...interface{}) *Error {
	return newf(KindInvalidState, format, args...)
}

func IllegalTransition(format string, args ...interface{}) *Error {
	return newf(KindIllegalTransition, format, args...)
}

func VehicleBusy(format string, args ...interface{}) *Error {
	return newf(KindVehicleBusy, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return newf(KindNotFound, format, args...)
}

func Validation(format string, args ...interface{}) *Error {
	return newf(KindValidation, format, args...)
}

func ChannelDelivery(format string, args ...interface{}) *Error {
	return newf(KindChannelDelivery, format, args...)
}

// KindOf extracts the Kind from err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// HTTPStatus maps an error to the status code the API surfaces it with.
// Unknown errors map to 500.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalidState, KindIllegalTransition, KindVehicleBusy:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation:
		return http.StatusBadRequest
	case KindChannelDelivery:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
