// Package optional provides a value that remembers whether it was absent,
// explicitly null, or set. It is meant for partial-update payloads where a
// missing JSON key and a JSON null are different inputs.
package optional

import (
	"bytes"
	"encoding/json"
)

type state uint8

const (
	absent state = iota
	null
	set
)

// Value holds an optional T. The zero Value is absent.
type Value[T any] struct {
	v     T
	state state
}

// Of returns a Value set to v.
func Of[T any](v T) Value[T] {
	return Value[T]{v: v, state: set}
}

// Null returns a Value that was explicitly null.
func Null[T any]() Value[T] {
	return Value[T]{state: null}
}

// Get returns the value and true only when it was set to a non-null value.
func (o Value[T]) Get() (T, bool) {
	return o.v, o.state == set
}

func (o Value[T]) IsSet() bool    { return o.state == set }
func (o Value[T]) IsNull() bool   { return o.state == null }
func (o Value[T]) IsAbsent() bool { return o.state == absent }

// UnmarshalJSON is only invoked for keys present in the payload, so a
// missing key keeps the zero (absent) state.
func (o *Value[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		var zero T
		o.v, o.state = zero, null
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	o.v, o.state = v, set
	return nil
}

func (o Value[T]) MarshalJSON() ([]byte, error) {
	if o.state != set {
		return []byte("null"), nil
	}
	return json.Marshal(o.v)
}
