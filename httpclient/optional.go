package httpclient

import (
	"github.com/goccy/go-json"
)

// Optional is a value that may be absent. An absent Optional contributes no
// query/form pairs and no header; a present one encodes exactly like its
// value.
//
// Plain pointers work the same way; Optional exists for values where a
// pointer would be awkward (literals, map values).
type Optional[T any] struct {
	value   T
	present bool
}

// Some returns a present Optional.
func Some[T any](v T) Optional[T] { return Optional[T]{value: v, present: true} }

// None returns an absent Optional.
func None[T any]() Optional[T] { return Optional[T]{} }

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) { return o.value, o.present }

// IsPresent reports whether a value is set.
func (o Optional[T]) IsPresent() bool { return o.present }

// OrElse returns the value or fallback when absent.
func (o Optional[T]) OrElse(fallback T) T {
	if o.present {
		return o.value
	}
	return fallback
}

func (o Optional[T]) optionalValue() (any, bool) { return o.value, o.present }

// MarshalJSON renders an absent value as null.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.present {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

// UnmarshalJSON treats null as absent.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = Optional[T]{}
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}

type optional interface {
	optionalValue() (any, bool)
}
