// Package idgen assigns record identifiers for backends that cannot let the
// database generate them.
package idgen

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator returns a new globally unique identifier in its canonical text form.
// Implementations must be safe for concurrent use.
type Generator interface {
	NewID() (string, error)
}

// Version selects a UUID variant.
type Version uint8

const (
	// V4 ids are random.
	V4 Version = 4
	// V7 ids start with a millisecond timestamp and sort by creation time.
	V7 Version = 7
)

type v4Gen struct{}

// NewV4 returns a Generator producing random UUID v4 values.
func NewV4() Generator { return v4Gen{} }

func (v4Gen) NewID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("uuid v4: %w", err)
	}
	return id.String(), nil
}

type v7Gen struct {
	maxRetries int
}

type V7Option func(*v7Gen)

// WithRetries sets how many times uuid.NewV7 is retried after the first
// failed attempt. Negative values are ignored.
func WithRetries(n int) V7Option {
	return func(g *v7Gen) {
		if n >= 0 {
			g.maxRetries = n
		}
	}
}

// NewV7 returns a Generator producing time-ordered UUID v7 values.
func NewV7(opts ...V7Option) Generator {
	g := &v7Gen{maxRetries: 1}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *v7Gen) NewID() (string, error) {
	var last error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		id, err := uuid.NewV7()
		if err == nil {
			return id.String(), nil
		}
		last = err
	}
	return "", fmt.Errorf("uuid v7 generation failed after %d attempts: %w", g.maxRetries+1, last)
}

// New returns a Generator for the requested UUID version, defaulting to v4.
// Options only apply to v7.
func New(v Version, v7opts ...V7Option) Generator {
	switch v {
	case V7:
		return NewV7(v7opts...)
	default:
		return NewV4()
	}
}
