package durable

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store used in tests and single-node
// development runs. It mirrors the redis implementation's semantics.
type MemoryStore struct {
	mu sync.Mutex
	m  map[string]json.RawMessage
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{m: make(map[string]json.RawMessage)}
}

func (s *MemoryStore) Get(_ context.Context, key string, dest any) (bool, error) {
	s.mu.Lock()
	val, ok := s.m[key]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return false, fmt.Errorf("decode value for %q: %w", key, err)
	}
	return true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode value for %q: %w", key, err)
	}
	s.mu.Lock()
	s.m[key] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) SetIfAbsent(_ context.Context, key string, value any) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("encode value for %q: %w", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[key]; ok {
		return false, nil
	}
	s.m[key] = data
	return true, nil
}

func (s *MemoryStore) CompareAndSwap(ctx context.Context, key string, old, new any) (bool, error) {
	if old == nil {
		return s.SetIfAbsent(ctx, key, new)
	}

	oldData, err := json.Marshal(old)
	if err != nil {
		return false, fmt.Errorf("encode old value for %q: %w", key, err)
	}
	newData, err := json.Marshal(new)
	if err != nil {
		return false, fmt.Errorf("encode new value for %q: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.m[key]
	if !ok || !bytes.Equal(current, oldData) {
		return false, nil
	}
	s.m[key] = newData
	return true, nil
}
