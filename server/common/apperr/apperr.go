package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind partitions engine failures so callers can tell retryable provider
// faults apart from bad input, missing rows, and exhausted quotas.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindStorage         Kind = "storage"
	KindProvider        Kind = "provider"
	KindProviderTimeout Kind = "provider_timeout"
	KindNotFound        Kind = "not_found"
	KindQuotaExceeded   Kind = "quota_exceeded"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Storage(message string, err error) error {
	return &Error{Kind: KindStorage, Message: message, Err: err}
}

func Provider(message string, err error) error {
	return &Error{Kind: KindProvider, Message: message, Err: err}
}

func ProviderTimeout(message string, err error) error {
	return &Error{Kind: KindProviderTimeout, Message: message, Err: err}
}

func NotFound(resource string) error {
	return &Error{Kind: KindNotFound, Message: resource + " not found"}
}

func QuotaExceeded(message string) error {
	return &Error{Kind: KindQuotaExceeded, Message: message}
}

func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

func IsKind(err error, kind Kind) bool {
	got, ok := KindOf(err)
	return ok && got == kind
}

// HTTPStatus maps every failure kind to a distinct status class so
// presentation code can distinguish retryable from rejected calls.
func HTTPStatus(err error) int {
	kind, ok := KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindQuotaExceeded:
		return http.StatusTooManyRequests
	case KindStorage:
		return http.StatusBadGateway
	case KindProvider:
		return http.StatusBadGateway
	case KindProviderTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
