// Package securestore holds small secrets (the device token) outside the
// process. Backends expose a plain get/set/delete by key.
package securestore

import (
	"fmt"
	"sync"
)

type Store interface {
	// Get returns ok=false when the key is absent. A non-nil error means the
	// backend itself failed.
	Get(key string) (value []byte, ok bool, err error)
	Set(key string, value []byte) error
	// Delete succeeds when the key does not exist.
	Delete(key string) error
}

// Error wraps a backend failure.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("secure store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Memory is a process-local Store, used when no keychain is configured and in
// tests.
type Memory struct {
	mu    sync.RWMutex
	items map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{items: make(map[string][]byte)}
}

func (m *Memory) Get(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.items[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *Memory) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
	return nil
}
