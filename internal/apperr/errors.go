package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers and for the HTTP boundary.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindConflict          Kind = "conflict"
	KindInsufficientStock Kind = "insufficient_stock"
	KindGateway           Kind = "gateway"
)

// Sentinels so callers can write errors.Is(err, apperr.ErrNotFound).
var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrConflict          = &Error{Kind: KindConflict}
	ErrInsufficientStock = &Error{Kind: KindInsufficientStock}
	ErrGateway           = &Error{Kind: KindGateway}
)

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return string(e.Kind) + ": " + e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, which makes the sentinels above usable with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Msg == "" && t.Err == nil
}

func Validation(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func Conflict(format string, args ...any) error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

// Gateway wraps a provider failure, keeping its detail reachable through errors.Unwrap.
func Gateway(err error, format string, args ...any) error {
	return &Error{Kind: KindGateway, Msg: fmt.Sprintf(format, args...), Err: err}
}

// StockError is the InsufficientStock failure; it names the instrument and both quantities.
type StockError struct {
	InstrumentID string
	Name         string
	Requested    int
	Available    int
}

func (e *StockError) Error() string {
	name := e.Name
	if name == "" {
		name = e.InstrumentID
	}
	return fmt.Sprintf("insufficient stock for %s: available %d, requested %d", name, e.Available, e.Requested)
}

func (e *StockError) Is(target error) bool { return target == ErrInsufficientStock }

func KindOf(err error) (Kind, bool) {
	var se *StockError
	if errors.As(err, &se) {
		return KindInsufficientStock, true
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	return "", false
}

// HTTPStatus maps an error to the status code the API answers with.
func HTTPStatus(err error) int {
	k, ok := KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindInsufficientStock:
		return http.StatusConflict
	case KindGateway:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
