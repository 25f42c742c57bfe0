package kv

import (
	"context"
	"sort"
	"sync"

	"signet/pkg/platform/sentinel"
)

// InMemory is a process-local Store. Each key has its own lock, so updates to
// different keys never wait on each other.
type InMemory struct {
	mu      sync.RWMutex
	entries map[string][]byte
	locks   keyedMutex
}

func NewInMemory() *InMemory {
	return &InMemory{
		entries: make(map[string][]byte),
		locks:   keyedMutex{locks: make(map[string]*refMutex)},
	}
}

func (s *InMemory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	value, ok := s.read(key)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return value, nil
}

func (s *InMemory) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := s.locks.lock(key)
	defer unlock()
	s.write(key, value)
	return nil
}

func (s *InMemory) Update(ctx context.Context, key string, fn UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := s.locks.lock(key)
	defer unlock()

	current, found := s.read(key)
	next, err := fn(ctx, current, found)
	if err != nil {
		return err
	}
	s.write(key, next)
	return nil
}

// Delete removes a key. Only tests use it, to simulate index/record drift.
func (s *InMemory) Delete(key string) {
	unlock := s.locks.lock(key)
	defer unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Keys returns every stored key, sorted.
func (s *InMemory) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *InMemory) read(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), value...), true
}

func (s *InMemory) write(key string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = append([]byte(nil), value...)
}

// keyedMutex hands out one mutex per key and drops it once no goroutine holds
// or waits for it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
