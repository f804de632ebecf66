// Package memstore is an in-process store.KV fake for tests and single-node development.
//
// It is grounded on the same mutex-guarded map + expiry bookkeeping the tunnel server
// uses for its channel state, applied here to key/value/TTL triples.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/openhab/cloud-tunnelgw/store"
)

type entry struct {
	value   string
	expires time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// Store is a mutex-guarded in-memory store.KV implementation.
type Store struct {
	mu   sync.Mutex
	data map[string]entry
	now  func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{data: make(map[string]entry), now: time.Now}
}

func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key]
	if !ok || e.expired(s.now()) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *Store) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if e, ok := s.data[key]; ok && !e.expired(now) {
		return false, nil
	}
	s.data[key] = entry{value: value, expires: expiryFor(now, ttl)}
	return true, nil
}

func (s *Store) CompareAndRenew(_ context.Context, key, expected string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	e, ok := s.data[key]
	if !ok || e.expired(now) || e.value != expected {
		return false, nil
	}
	e.expires = expiryFor(now, ttl)
	s.data[key] = e
	return true, nil
}

func (s *Store) CompareAndDelete(_ context.Context, key, expected string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key]
	if !ok || e.expired(s.now()) || e.value != expected {
		return false, nil
	}
	delete(s.data, key)
	return true, nil
}

func (s *Store) TTLOf(_ context.Context, key string) (time.Duration, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	e, ok := s.data[key]
	if !ok || e.expired(now) {
		return 0, false, nil
	}
	if e.expires.IsZero() {
		return 0, true, nil
	}
	return e.expires.Sub(now), true, nil
}

func (s *Store) Close() error { return nil }

func expiryFor(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

var _ store.KV = (*Store)(nil)
