// Package fault defines the error taxonomy shared by the query pipeline and
// its collaborators.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies where an error originated.
type Kind int

const (
	// Validation errors are raised synchronously, before any pipeline work.
	Validation Kind = iota + 1
	// Provider errors come from AI, embedding, transcription or extraction.
	Provider
	// Persistence errors come from a failed store transaction.
	Persistence
	// Delivery errors come from webhook or realtime delivery. They are
	// logged and never propagated.
	Delivery
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Provider:
		return "provider"
	case Persistence:
		return "persistence"
	case Delivery:
		return "delivery"
	default:
		return "unknown"
	}
}

// Error is a classified error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Invalid returns a Validation error with a formatted message.
func Invalid(format string, args ...any) error {
	return &Error{Kind: Validation, Err: fmt.Errorf(format, args...)}
}

// ProviderErr classifies err as a Provider error. Returns nil for nil err.
func ProviderErr(op string, err error) error { return wrap(Provider, op, err) }

// PersistenceErr classifies err as a Persistence error. Returns nil for nil err.
func PersistenceErr(op string, err error) error { return wrap(Persistence, op, err) }

// DeliveryErr classifies err as a Delivery error. Returns nil for nil err.
func DeliveryErr(op string, err error) error { return wrap(Delivery, op, err) }

// Is reports whether any error in err's chain is a fault of the given kind.
func Is(err error, kind Kind) bool {
	var fe *Error
	for err != nil {
		if !errors.As(err, &fe) {
			return false
		}
		if fe.Kind == kind {
			return true
		}
		err = fe.Err
	}
	return false
}
