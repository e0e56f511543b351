package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchema_Validate(t *testing.T) {
	tests := []struct {
		key     string
		value   int
		wantErr error
	}{
		{CounterKey, 0, nil},
		{CounterKey, 10, nil},
		{CounterKey, 100, nil},
		{CounterKey, -1, ErrOutOfRange},
		{CounterKey, 101, ErrOutOfRange},
		{"missing", 5, ErrUnknownKey},
	}
	for _, tt := range tests {
		err := DefaultSchema.Validate(tt.key, tt.value)
		if tt.wantErr == nil {
			assert.NoError(t, err, "%s=%d", tt.key, tt.value)
			continue
		}
		assert.ErrorIs(t, err, tt.wantErr, "%s=%d", tt.key, tt.value)
	}
}

func TestSchema_CounterDefault(t *testing.T) {
	f, err := DefaultSchema.Field(CounterKey)
	assert.NoError(t, err)
	assert.Equal(t, Field{Min: 0, Max: 100, Default: 10}, f)
}
