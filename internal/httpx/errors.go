package httpx

import (
	"net/http"

	"github.com/linksapi/links/internal/errx"
)

// ErrorKindToStatus maps errx.Kind to HTTP status codes.
func ErrorKindToStatus(kind errx.Kind) int {
	switch kind {
	case errx.NotFound:
		return http.StatusNotFound
	case errx.Invalid:
		return http.StatusBadRequest
	case errx.Unavailable:
		return http.StatusServiceUnavailable
	case errx.Upstream:
		return http.StatusBadGateway
	default:
		// Integrity, Internal and Unknown are server-side failures.
		return http.StatusInternalServerError
	}
}

// ErrorKindToCode maps errx.Kind to the "error" field of JSON error bodies.
func ErrorKindToCode(kind errx.Kind) string {
	switch kind {
	case errx.NotFound:
		return "not_found"
	case errx.Invalid:
		return "invalid_input"
	case errx.Unavailable:
		return "unavailable"
	case errx.Integrity:
		return "integrity_failure"
	case errx.Upstream:
		return "upstream_error"
	default:
		return "internal_error"
	}
}

// WriteKindError writes the standard error body for err's kind with message.
func WriteKindError(w http.ResponseWriter, err error, message string) {
	kind := errx.KindOf(err)
	WriteError(w, ErrorKindToStatus(kind), ErrorKindToCode(kind), message, nil)
}
