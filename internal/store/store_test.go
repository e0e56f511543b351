package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.toml")
	return New(NewFileBackend(path), DefaultSchema, zerolog.Nop()), path
}

type change struct{ old, new int }

func TestStore_GetDefaultsToTen(t *testing.T) {
	s, path := newTestStore(t)

	v, err := s.Get(CounterKey)
	require.NoError(t, err)
	assert.Equal(t, 10, v)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "reading must not create the file")
}

func TestStore_GetUnknownKey(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Get("volume")
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestStore_SetPersistsAcrossInstances(t *testing.T) {
	s, path := newTestStore(t)
	require.NoError(t, s.Set(CounterKey, 42))

	reopened := New(NewFileBackend(path), nil, zerolog.Nop())
	v, err := reopened.Get(CounterKey)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestStore_SetRejectsOutOfRange(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Set(CounterKey, 55))

	var calls int
	s.OnChange(CounterKey, func(int, int) { calls++ })

	for _, bad := range []int{-1, 101, 1000, -50} {
		err := s.Set(CounterKey, bad)
		assert.ErrorIs(t, err, ErrOutOfRange, "value %d", bad)
	}

	v, err := s.Get(CounterKey)
	require.NoError(t, err)
	assert.Equal(t, 55, v)
	assert.Zero(t, calls)
}

func TestStore_BoundsAreInclusive(t *testing.T) {
	s, _ := newTestStore(t)
	assert.NoError(t, s.Set(CounterKey, 0))
	assert.NoError(t, s.Set(CounterKey, 100))
}

func TestStore_ObserversNotifiedOnce(t *testing.T) {
	s, _ := newTestStore(t)

	var first, second []change
	s.OnChange(CounterKey, func(o, n int) { first = append(first, change{o, n}) })
	s.OnChange(CounterKey, func(o, n int) { second = append(second, change{o, n}) })

	require.NoError(t, s.Set(CounterKey, 42))

	assert.Equal(t, []change{{10, 42}}, first)
	assert.Equal(t, []change{{10, 42}}, second)
}

func TestStore_NoNotificationWhenUnchanged(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, s.Set(CounterKey, 12))

	var calls int
	s.OnChange(CounterKey, func(int, int) { calls++ })
	require.NoError(t, s.Set(CounterKey, 12))
	assert.Zero(t, calls)
}

func TestStore_ObserverCanReadStore(t *testing.T) {
	s, _ := newTestStore(t)

	var seen int
	s.OnChange(CounterKey, func(_, _ int) {
		v, err := s.Get(CounterKey)
		require.NoError(t, err)
		seen = v
	})
	require.NoError(t, s.Set(CounterKey, 77))
	assert.Equal(t, 77, seen)
}

func TestStore_Unsubscribe(t *testing.T) {
	s, _ := newTestStore(t)

	var calls int
	unsubscribe := s.OnChange(CounterKey, func(int, int) { calls++ })
	require.NoError(t, s.Set(CounterKey, 1))
	unsubscribe()
	require.NoError(t, s.Set(CounterKey, 2))
	assert.Equal(t, 1, calls)
}

func TestStore_BackendErrorsPropagate(t *testing.T) {
	backend := NewMemoryBackend()
	s := New(backend, nil, zerolog.Nop())

	backend.LoadErr = errors.New("disk gone")
	_, err := s.Get(CounterKey)
	assert.EqualError(t, err, "disk gone")

	backend.LoadErr = nil
	backend.SaveErr = errors.New("read-only")
	var calls int
	s.OnChange(CounterKey, func(int, int) { calls++ })
	assert.EqualError(t, s.Set(CounterKey, 30), "read-only")
	assert.Zero(t, calls)

	backend.SaveErr = nil
	v, err := s.Get(CounterKey)
	require.NoError(t, err)
	assert.Equal(t, 10, v)
}

func TestFileBackend_PreservesOtherSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.toml")
	require.NoError(t, os.WriteFile(path, []byte("[window]\nremember = true\n"), 0600))

	s := New(NewFileBackend(path), nil, zerolog.Nop())
	require.NoError(t, s.Set(CounterKey, 64))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "[window]")
	assert.Contains(t, content, "remember = true")
	assert.Contains(t, content, "[values]")
	assert.Contains(t, content, "counter = 64")
}

func TestFileBackend_HeaderWrittenOnce(t *testing.T) {
	s, path := newTestStore(t)
	require.NoError(t, s.Set(CounterKey, 1))
	require.NoError(t, s.Set(CounterKey, 2))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "# counter-deck store"))
}

func TestFileBackend_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.toml")
	require.NoError(t, os.WriteFile(path, []byte("values = [[["), 0600))

	s := New(NewFileBackend(path), nil, zerolog.Nop())
	_, err := s.Get(CounterKey)
	assert.Error(t, err)
}

func TestStore_InvalidValueOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.toml")
	require.NoError(t, os.WriteFile(path, []byte("[values]\ncounter = 500\n"), 0600))

	s := New(NewFileBackend(path), nil, zerolog.Nop())
	_, err := s.Get(CounterKey)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestStore_ReloadNotifiesExternalChange(t *testing.T) {
	s, path := newTestStore(t)
	require.NoError(t, s.Set(CounterKey, 20))

	var got []change
	s.OnChange(CounterKey, func(o, n int) { got = append(got, change{o, n}) })

	other := New(NewFileBackend(path), nil, zerolog.Nop())
	require.NoError(t, other.Set(CounterKey, 33))

	require.NoError(t, s.Reload())
	assert.Equal(t, []change{{20, 33}}, got)

	// Nothing new on disk: no second notification.
	require.NoError(t, s.Reload())
	assert.Len(t, got, 1)
}

func TestStore_ReloadSkipsInvalidExternalValue(t *testing.T) {
	s, path := newTestStore(t)
	require.NoError(t, s.Set(CounterKey, 20))

	var calls int
	s.OnChange(CounterKey, func(int, int) { calls++ })

	require.NoError(t, os.WriteFile(path, []byte("[values]\ncounter = -4\n"), 0600))
	require.NoError(t, s.Reload())
	assert.Zero(t, calls)
}

func TestWatchFile_CallsBackOnWrite(t *testing.T) {
	s, path := newTestStore(t)
	require.NoError(t, s.Set(CounterKey, 1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	fired := 0
	require.NoError(t, WatchFile(ctx, path, zerolog.Nop(), func() {
		mu.Lock()
		fired++
		mu.Unlock()
	}))

	other := New(NewFileBackend(path), nil, zerolog.Nop())
	require.NoError(t, other.Set(CounterKey, 2))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fired > 0
	}, 5*time.Second, 20*time.Millisecond)
}

// Two backends on one file stand in for two host processes: their
// read-modify-write cycles must not lose each other's updates.
func TestFileBackend_UpdatesDoNotInterleave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.toml")
	backends := []*FileBackend{NewFileBackend(path), NewFileBackend(path)}
	const perBackend = 25

	var wg sync.WaitGroup
	for _, b := range backends {
		wg.Add(1)
		go func(b *FileBackend) {
			defer wg.Done()
			for i := 0; i < perBackend; i++ {
				err := b.Update(func(values map[string]int) error {
					values["hits"]++
					return nil
				})
				assert.NoError(t, err)
			}
		}(b)
	}
	wg.Wait()

	values, err := NewFileBackend(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 2*perBackend, values["hits"])
}

func TestFileBackend_UpdateErrorSavesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.toml")
	b := NewFileBackend(path)
	require.NoError(t, b.Save(map[string]int{CounterKey: 5}))

	err := b.Update(func(values map[string]int) error {
		values[CounterKey] = 99
		return errors.New("changed my mind")
	})
	assert.EqualError(t, err, "changed my mind")

	values, err := b.Load()
	require.NoError(t, err)
	assert.Equal(t, 5, values[CounterKey])
}

// The old value handed to observers is read under the same lock as the
// write, so a write from another process is reflected in it.
func TestStore_SetSeesOtherProcessValue(t *testing.T) {
	s, path := newTestStore(t)
	require.NoError(t, s.Set(CounterKey, 20))

	var got []change
	s.OnChange(CounterKey, func(o, n int) { got = append(got, change{o, n}) })

	other := New(NewFileBackend(path), nil, zerolog.Nop())
	require.NoError(t, other.Set(CounterKey, 70))

	require.NoError(t, s.Set(CounterKey, 71))
	assert.Equal(t, []change{{70, 71}}, got)
}
