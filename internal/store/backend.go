package store

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

// Backend persists the raw key/value map. Implementations do not validate;
// the Store does.
type Backend interface {
	Load() (map[string]int, error)
	// Update loads the values, lets fn change them and saves the result as
	// one step. Nothing is saved when fn returns an error.
	Update(fn func(values map[string]int) error) error
}

// valuesSection is the TOML table holding stored values. Other tables in the
// same file are preserved across saves.
const valuesSection = "values"

const storeHeader = "# counter-deck store\n\n"

// FileBackend stores values in a TOML file under a [values] table. Updates
// hold a lock on a sibling ".lock" file; the store file itself is replaced by
// rename, so readers never see a partial write.
type FileBackend struct {
	path     string
	lockPath string
}

// NewFileBackend returns a backend for the file at path. The file and its
// directory are created on first save.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{
		path:     path,
		lockPath: path + ".lock",
	}
}

// DefaultPath returns ~/.counter-deck/store.toml.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".counter-deck", "store.toml")
}

// Path returns the file location.
func (b *FileBackend) Path() string {
	return b.path
}

type storeFile struct {
	Values map[string]int `toml:"values"`
}

// Load reads the stored values. A missing file yields an empty map.
func (b *FileBackend) Load() (map[string]int, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]int{}, nil
		}
		return nil, fmt.Errorf("read store: %w", err)
	}

	var file storeFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse store %s: %w", b.path, err)
	}
	if file.Values == nil {
		file.Values = map[string]int{}
	}
	return file.Values, nil
}

// Update runs fn on the current values under the cross-process lock and
// writes the result, keeping any other tables already in the file.
func (b *FileBackend) Update(fn func(values map[string]int) error) error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0700); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	return withFileLock(b.lockPath, func() error {
		values, err := b.Load()
		if err != nil {
			return err
		}
		if err := fn(values); err != nil {
			return err
		}
		return b.write(values)
	})
}

// Save replaces the stored values.
func (b *FileBackend) Save(values map[string]int) error {
	return b.Update(func(current map[string]int) error {
		clear(current)
		for k, v := range values {
			current[k] = v
		}
		return nil
	})
}

// write must run under the lock.
func (b *FileBackend) write(values map[string]int) error {
	existingData, _ := os.ReadFile(b.path)

	existing := make(map[string]interface{})
	if len(existingData) > 0 {
		if err := toml.Unmarshal(existingData, &existing); err != nil {
			existing = make(map[string]interface{})
		}
	}

	table := make(map[string]interface{}, len(values))
	for k, v := range values {
		table[k] = v
	}
	existing[valuesSection] = table

	// Decoding drops comments, so the header is written every time.
	var buf bytes.Buffer
	buf.WriteString(storeHeader)
	if err := toml.NewEncoder(&buf).Encode(existing); err != nil {
		return fmt.Errorf("encode store: %w", err)
	}

	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("write store: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace store: %w", err)
	}
	return nil
}

// MemoryBackend keeps values in memory. Useful for tests and for running
// without a writable home directory.
type MemoryBackend struct {
	mu      sync.Mutex
	values  map[string]int
	LoadErr error
	SaveErr error
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: map[string]int{}}
}

func (m *MemoryBackend) Load() (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	out := make(map[string]int, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryBackend) Update(fn func(values map[string]int) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return m.LoadErr
	}
	values := make(map[string]int, len(m.values))
	for k, v := range m.values {
		values[k] = v
	}
	if err := fn(values); err != nil {
		return err
	}
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.values = values
	return nil
}

// Save replaces the stored values.
func (m *MemoryBackend) Save(values map[string]int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.values = make(map[string]int, len(values))
	for k, v := range values {
		m.values[k] = v
	}
	return nil
}
