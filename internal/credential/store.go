package credential

import (
	"context"
	"sync"
	"time"
)

// Store is the shared key-value storage holding the credential.
// Every instance following the same tenant reads the same key, so a write by
// one is observed by the others through Watch.
type Store interface {
	// Get returns the stored value, or "" when the key is absent.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error

	// Watch delivers the new value of key ("" when deleted) after every
	// change. The channel is closed when ctx is done.
	Watch(ctx context.Context, key string) (<-chan string, error)
}

const watchBuffer = 8

// MemoryStore is an in-process Store. Several monitors sharing one
// MemoryStore behave like several dashboards sharing a browser origin.
type MemoryStore struct {
	mu       sync.Mutex
	values   map[string]string
	watchers map[string][]chan string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values:   make(map[string]string),
		watchers: make(map[string][]chan string),
	}
}

// Get returns the value for key.
func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key], nil
}

// Set stores value under key and notifies watchers.
func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	s.notifyLocked(key, value)
	return nil
}

// Delete removes key and notifies watchers.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; !ok {
		return nil
	}
	delete(s.values, key)
	s.notifyLocked(key, "")
	return nil
}

// Watch subscribes to changes of key.
func (s *MemoryStore) Watch(ctx context.Context, key string) (<-chan string, error) {
	ch := make(chan string, watchBuffer)

	s.mu.Lock()
	s.watchers[key] = append(s.watchers[key], ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.watchers[key]
		for i, w := range list {
			if w == ch {
				s.watchers[key] = append(list[:i], list[i+1:]...)
				break
			}
		}
		close(ch)
	}()

	return ch, nil
}

// notifyLocked must be called with s.mu held. A full watcher drops its
// oldest pending value so the latest change is always delivered.
func (s *MemoryStore) notifyLocked(key, value string) {
	for _, ch := range s.watchers[key] {
		offer(ch, value)
	}
}

// offer sends value without blocking, evicting the oldest buffered value
// when ch is full. Callers must be the only sender on ch.
func offer(ch chan string, value string) {
	select {
	case ch <- value:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- value:
	default:
	}
}

// Resubscribe pacing for store listeners that lose their connection.
var (
	listenRetryMin = 500 * time.Millisecond
	listenRetryMax = 30 * time.Second
)

// sleepBackoff waits d and returns the next delay, or false when ctx ends.
func sleepBackoff(ctx context.Context, d time.Duration) (time.Duration, bool) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return min(d*2, listenRetryMax), true
	case <-ctx.Done():
		return d, false
	}
}
