// Package store holds the small persisted key/value state shared by every
// window: a schema-checked integer per key with change observers.
package store

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// ChangeFunc observes a stored value changing from oldValue to newValue.
type ChangeFunc func(oldValue, newValue int)

type observer struct {
	id int
	fn ChangeFunc
}

// Store validates values against a Schema, persists them through a Backend
// and notifies observers when a value changes.
type Store struct {
	mu        sync.Mutex
	schema    Schema
	backend   Backend
	logger    zerolog.Logger
	last      map[string]int
	observers map[string][]observer
	nextObsID int
}

// New returns a Store over backend. A nil schema means DefaultSchema.
func New(backend Backend, schema Schema, logger zerolog.Logger) *Store {
	if schema == nil {
		schema = DefaultSchema
	}
	return &Store{
		schema:    schema,
		backend:   backend,
		logger:    logger.With().Str("component", "store").Logger(),
		last:      make(map[string]int),
		observers: make(map[string][]observer),
	}
}

// Get returns the persisted value for key, or the schema default if nothing
// has been stored. Backend failures are returned as-is.
func (s *Store) Get(key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(key)
}

func (s *Store) getLocked(key string) (int, error) {
	field, err := s.schema.Field(key)
	if err != nil {
		return 0, err
	}
	values, err := s.backend.Load()
	if err != nil {
		return 0, err
	}
	v, ok := values[key]
	if !ok {
		return field.Default, nil
	}
	if err := s.schema.Validate(key, v); err != nil {
		return 0, fmt.Errorf("stored value invalid: %w", err)
	}
	return v, nil
}

// Set validates and stores value under key. Out-of-range values are rejected
// and leave the stored value untouched. Observers of key run synchronously
// after the write, once each, if the value actually changed.
func (s *Store) Set(key string, value int) error {
	if err := s.schema.Validate(key, value); err != nil {
		return err
	}

	s.mu.Lock()
	var old int
	err := s.backend.Update(func(values map[string]int) error {
		prev, ok := values[key]
		if !ok {
			prev = s.schema[key].Default
		}
		old = prev
		values[key] = value
		return nil
	})
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.last[key] = value
	observers := append([]observer(nil), s.observers[key]...)
	s.mu.Unlock()

	if old == value {
		return nil
	}
	s.logger.Debug().Str("key", key).Int("old", old).Int("new", value).Msg("value changed")
	for _, o := range observers {
		o.fn(old, value)
	}
	return nil
}

// OnChange registers fn for changes to key and returns a function that
// removes it.
func (s *Store) OnChange(key string, fn ChangeFunc) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextObsID++
	id := s.nextObsID
	s.observers[key] = append(s.observers[key], observer{id: id, fn: fn})
	if _, ok := s.last[key]; !ok {
		if v, err := s.getLocked(key); err == nil {
			s.last[key] = v
		}
	}

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.observers[key]
		for i, o := range list {
			if o.id == id {
				s.observers[key] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// Reload re-reads the backend and notifies observers of any key whose value
// differs from the last one this Store saw. It picks up writes made by other
// processes. Invalid values on disk are logged and skipped.
func (s *Store) Reload() error {
	type change struct {
		key       string
		from, to  int
		observers []observer
	}

	s.mu.Lock()
	values, err := s.backend.Load()
	if err != nil {
		s.mu.Unlock()
		return err
	}

	var changes []change
	for key, list := range s.observers {
		field, err := s.schema.Field(key)
		if err != nil {
			continue
		}
		cur, ok := values[key]
		if !ok {
			cur = field.Default
		}
		if err := s.schema.Validate(key, cur); err != nil {
			s.logger.Warn().Err(err).Msg("ignoring invalid value on reload")
			continue
		}
		prev, seen := s.last[key]
		if !seen {
			prev = field.Default
		}
		s.last[key] = cur
		if prev == cur {
			continue
		}
		changes = append(changes, change{
			key:       key,
			from:      prev,
			to:        cur,
			observers: append([]observer(nil), list...),
		})
	}
	s.mu.Unlock()

	for _, c := range changes {
		s.logger.Info().Str("key", c.key).Int("old", c.from).Int("new", c.to).Msg("value changed externally")
		for _, o := range c.observers {
			o.fn(c.from, c.to)
		}
	}
	return nil
}
