package store

import (
	"errors"
	"fmt"
)

// CounterKey is the key of the shared counter.
const CounterKey = "counter"

var (
	// ErrUnknownKey is returned for keys the schema does not declare.
	ErrUnknownKey = errors.New("unknown key")
	// ErrOutOfRange is returned when a value violates its field bounds.
	ErrOutOfRange = errors.New("value out of range")
)

// Field describes an integer entry: inclusive bounds and the value reported
// before anything was stored.
type Field struct {
	Min     int
	Max     int
	Default int
}

// Schema is the closed set of keys a Store accepts.
type Schema map[string]Field

// DefaultSchema declares the counter: 0 to 100, default 10.
var DefaultSchema = Schema{
	CounterKey: {Min: 0, Max: 100, Default: 10},
}

// Field returns the declaration for key.
func (s Schema) Field(key string) (Field, error) {
	f, ok := s[key]
	if !ok {
		return Field{}, fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	return f, nil
}

// Validate checks value against the bounds declared for key.
func (s Schema) Validate(key string, value int) error {
	f, err := s.Field(key)
	if err != nil {
		return err
	}
	if value < f.Min || value > f.Max {
		return fmt.Errorf("%w: %s=%d, want %d..%d", ErrOutOfRange, key, value, f.Min, f.Max)
	}
	return nil
}
