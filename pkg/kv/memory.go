// Copyright (c) 2026 CommerceKit, Inc.
//
// This file is part of edgeauth.
//
// edgeauth is licensed under the GNU Affero General Public License v3.0.
// See the LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html

package kv

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Store guarded by a single
// mutex, so Get/GetDelete/Increment are atomic with respect to each other.
// Intended for development, tests and single-instance deployments.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	nowFn   func() time.Time
	stop    chan struct{}
	once    sync.Once
}

type memoryEntry struct {
	value    []byte
	count    int64
	deadline time.Time // zero means no expiry
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.deadline.IsZero() && now.After(e.deadline)
}

// NewMemoryStore creates a new in-memory store with a background janitor
// that sweeps expired entries. Call Close when done.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*memoryEntry),
		nowFn:   time.Now,
		stop:    make(chan struct{}),
	}
	go s.janitor(time.Minute)
	return s
}

// SetClock overrides the store's time source. Tests use this to advance
// windows without sleeping.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = now
}

// Get returns the value stored under key, or ErrKeyNotFound.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || entry.expired(s.nowFn()) {
		return nil, ErrKeyNotFound
	}
	return entry.value, nil
}

// Put stores value under key with the given ttl.
func (s *MemoryStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := &memoryEntry{value: value}
	if ttl > 0 {
		entry.deadline = s.nowFn().Add(ttl)
	}
	s.entries[key] = entry
	return nil
}

// Delete removes key.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// GetDelete atomically reads and removes the value stored under key.
// Exactly one of any set of concurrent callers for the same key succeeds.
func (s *MemoryStore) GetDelete(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	delete(s.entries, key)
	if entry.expired(s.nowFn()) {
		return nil, ErrKeyNotFound
	}
	return entry.value, nil
}

// Increment adds one to the counter stored under key. The first increment
// in a window starts the expiry clock.
func (s *MemoryStore) Increment(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()
	entry, ok := s.entries[key]
	if !ok || entry.expired(now) {
		entry = &memoryEntry{count: 0}
		if ttl > 0 {
			entry.deadline = now.Add(ttl)
		}
		s.entries[key] = entry
	}
	entry.count++
	entry.value = strconv.AppendInt(entry.value[:0], entry.count, 10)
	return entry.count, nil
}

// Len returns the number of live entries. Used by tests.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()
	n := 0
	for _, entry := range s.entries {
		if !entry.expired(now) {
			n++
		}
	}
	return n
}

// Close stops the background janitor.
func (s *MemoryStore) Close() {
	s.once.Do(func() { close(s.stop) })
}

func (s *MemoryStore) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()
	for key, entry := range s.entries {
		if entry.expired(now) {
			delete(s.entries, key)
		}
	}
}
