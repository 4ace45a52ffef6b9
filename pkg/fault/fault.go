// Package fault defines the error taxonomy surfaced to clients as Error replies.
package fault

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthorization
	KindNotFound
	KindInvariant
	KindUnknownRequestType
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindInvariant:
		return "invariant"
	case KindUnknownRequestType:
		return "unknown_request_type"
	default:
		return "internal"
	}
}

// Error is a classified, client-safe failure.
type Error struct {
	Kind        Kind
	Description string
	Err         error
}

func (e *Error) Error() string {
	return e.Description
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Description: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error    { return newf(KindValidation, format, args...) }
func Authorization(format string, args ...any) *Error { return newf(KindAuthorization, format, args...) }
func NotFound(format string, args ...any) *Error      { return newf(KindNotFound, format, args...) }
func Invariant(format string, args ...any) *Error     { return newf(KindInvariant, format, args...) }

func UnknownRequestType(requestType string) *Error {
	return newf(KindUnknownRequestType, "unknown request type '%s'", requestType)
}

// Wrap classifies err under kind, keeping it reachable through errors.Is/As.
func Wrap(kind Kind, err error, description string) *Error {
	return &Error{Kind: kind, Description: description, Err: err}
}

// KindOf reports the kind of err, or KindInternal when err is unclassified.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// Is reports whether err is a fault of the given kind.
func Is(err error, kind Kind) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == kind
}
