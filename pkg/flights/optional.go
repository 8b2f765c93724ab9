package flights

import (
	"bytes"
	"encoding/json"
)

// NoData is the marker rendered in place of a missing value. It only ever
// appears in a rendered ColumnTable; typed rows carry Optional values instead,
// so the marker can never leak into arithmetic.
const NoData = "No Data"

// Optional holds a value that may be absent. The zero value is absent.
type Optional[T any] struct {
	value T
	valid bool
}

// Some wraps a present value.
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, valid: true}
}

// None returns an absent value.
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.valid
}

// Valid reports whether the value is present.
func (o Optional[T]) Valid() bool {
	return o.valid
}

// OrElse returns the value, or def when absent.
func (o Optional[T]) OrElse(def T) T {
	if !o.valid {
		return def
	}
	return o.value
}

// Cell returns the value for a rendered table cell, NoData when absent.
func (o Optional[T]) Cell() any {
	if !o.valid {
		return NoData
	}
	return o.value
}

// Map applies fn to a present value; absence propagates.
func Map[T, U any](o Optional[T], fn func(T) U) Optional[U] {
	if !o.valid {
		return None[U]()
	}
	return Some(fn(o.value))
}

// MarshalJSON encodes an absent value as null.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

// UnmarshalJSON decodes null (or an empty slot) as absent.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*o = None[T]()
		return nil
	}
	var v T
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}
