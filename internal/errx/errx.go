// Package errx provides error kinds shared by the storage backends, the link
// service and the HTTP layer. A Kind says what went wrong; the HTTP layer
// turns it into a status code without inspecting driver errors.
package errx

import (
	"errors"
	"fmt"
)

type Kind uint8

const (
	Unknown Kind = iota
	// NotFound: the targeted record does not exist.
	NotFound
	// Invalid: malformed draft, patch or query, rejected before storage.
	Invalid
	// Unavailable: the backend or a dependency cannot be reached or is not configured.
	Unavailable
	// Integrity: a write was rejected and rolled back (e.g. a failed bulk insert).
	Integrity
	// Upstream: a third-party API answered with an error.
	Upstream
	Internal
)

type Error struct {
	Op   string
	Kind Kind
	Err  error
}

// E wraps err with an operation name and a kind. It returns nil for a nil err.
func E(op string, kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

// Wrap re-wraps err under op keeping the kind of the innermost errx error.
func Wrap(op string, err error) error {
	return E(op, KindOf(err), err)
}

// String returns the string representation of the error kind.
func (k Kind) String() string {
	switch k {
	case Unknown:
		return "Unknown"
	case NotFound:
		return "NotFound"
	case Invalid:
		return "Invalid"
	case Unavailable:
		return "Unavailable"
	case Integrity:
		return "Integrity"
	case Upstream:
		return "Upstream"
	case Internal:
		return "Internal"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op
	}
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

func OpOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
