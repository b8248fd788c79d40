// Package storage provides the two key-value areas session state lives in:
// a durable area that survives restarts and a fast tab-scoped area that only
// survives reloads. Components depend on the Area contract, not the backend.
package storage

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Area is the minimal key-value contract the engine needs
type Area interface {
	// Get returns the values for the requested keys; missing keys are absent
	// from the result, not an error
	Get(keys ...string) (map[string][]byte, error)
	// Set writes all entries
	Set(values map[string][]byte) error
	// Delete removes the given keys; deleting a missing key is a no-op
	Delete(keys ...string) error
	// OnChange registers a callback invoked with each changed key.
	// Returns an unregister function.
	OnChange(fn func(key string)) func()
	// Close releases backend resources
	Close() error
}

// Store bundles the durable and tab-scoped areas
type Store struct {
	Durable Area
	Tab     Area
}

// Close closes both areas, returning the first error
func (s *Store) Close() error {
	var firstErr error
	if err := s.Durable.Close(); err != nil {
		firstErr = err
	}
	if err := s.Tab.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// GetJSON reads key from area and unmarshals it into out. Returns false if
// the key is absent.
func GetJSON(a Area, key string, out any) (bool, error) {
	values, err := a.Get(key)
	if err != nil {
		return false, err
	}
	raw, ok := values[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("failed to decode %q: %w", key, err)
	}
	return true, nil
}

// SetJSON marshals v and writes it under key
func SetJSON(a Area, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %q: %w", key, err)
	}
	return a.Set(map[string][]byte{key: raw})
}

// notifier implements the OnChange bookkeeping shared by both backends
type notifier struct {
	mu     sync.Mutex
	subs   map[int]func(string)
	nextID int
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[int]func(string))}
}

func (n *notifier) register(fn func(string)) func() {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = fn
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
	}
}

func (n *notifier) notify(keys ...string) {
	n.mu.Lock()
	subs := make([]func(string), 0, len(n.subs))
	for _, fn := range n.subs {
		subs = append(subs, fn)
	}
	n.mu.Unlock()

	for _, fn := range subs {
		for _, k := range keys {
			fn(k)
		}
	}
}
