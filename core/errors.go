package core

import (
	"errors"
	"fmt"
)

// Kind enumerates the error categories surfaced to callers across every
// subsystem. Callers type-switch on Kind rather than matching error strings.
type Kind int

const (
	KindUnknown Kind = iota
	KindInsufficientMana
	KindPolicyDenied
	KindInvalidInput
	KindDatabaseError
	KindSerializationError
	KindDeserializationError
	KindSignatureError
	KindDagOperationFailed
	KindResourceNotFound
	KindNetworkError
	KindTimeout
	KindPermissionDenied
	KindInvalidJobState
	KindDuplicateMessage
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindInsufficientMana:
		return "InsufficientMana"
	case KindPolicyDenied:
		return "PolicyDenied"
	case KindInvalidInput:
		return "InvalidInput"
	case KindDatabaseError:
		return "DatabaseError"
	case KindSerializationError:
		return "SerializationError"
	case KindDeserializationError:
		return "DeserializationError"
	case KindSignatureError:
		return "SignatureError"
	case KindDagOperationFailed:
		return "DagOperationFailed"
	case KindResourceNotFound:
		return "ResourceNotFound"
	case KindNetworkError:
		return "NetworkError"
	case KindTimeout:
		return "Timeout"
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindInvalidJobState:
		return "InvalidJobState"
	case KindDuplicateMessage:
		return "DuplicateMessage"
	case KindInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type carried across component boundaries. It
// wraps an underlying cause (if any) so callers can still errors.Is/As
// through it.
type Error struct {
	Kind    Kind
	Reason  string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// NewError builds a Kind-tagged error with no underlying cause.
func NewError(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

// WrapError builds a Kind-tagged error around an existing cause.
func WrapError(kind Kind, reason string, cause error) *Error {
	return &Error{Kind: kind, Reason: reason, Wrapped: cause}
}

// KindOf extracts the Kind of err if it (or something it wraps) is an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
