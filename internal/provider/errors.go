package provider

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a provider failure for retry purposes.
type ErrorKind int

const (
	// KindTransient marks retryable failures: network errors, 5xx
	// responses, rate limits, timeouts.
	KindTransient ErrorKind = iota + 1

	// KindPermanent marks fatal failures: authentication, unsupported
	// model, malformed request. Never retried.
	KindPermanent
)

// String returns a short label for logging.
func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Error is the typed failure returned by embedding and completion providers.
// Callers classify with IsTransient / IsPermanent rather than inspecting
// the wrapped error.
type Error struct {
	Provider string
	Op       string
	Kind     ErrorKind
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: %s (%s): %v", e.Provider, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable provider failure.
func Transient(providerName, op string, err error) *Error {
	return &Error{Provider: providerName, Op: op, Kind: KindTransient, Err: err}
}

// Permanent wraps err as a fatal provider failure.
func Permanent(providerName, op string, err error) *Error {
	return &Error{Provider: providerName, Op: op, Kind: KindPermanent, Err: err}
}

// IsTransient reports whether err is a retryable provider failure.
func IsTransient(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == KindTransient
}

// IsPermanent reports whether err is a fatal provider failure.
func IsPermanent(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == KindPermanent
}
