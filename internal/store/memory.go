package store

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process KV. Lifetime hints are recorded but never evict data.
type Memory struct {
	mu     sync.RWMutex
	data   map[string][]byte
	expiry map[string]time.Time
	nowFn  func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		data:   make(map[string][]byte),
		expiry: make(map[string]time.Time),
		nowFn:  time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Has(_ context.Context, key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[string(key)]
	return ok, nil
}

func (m *Memory) Write(_ context.Context, b *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range b.Ops() {
		if op.Delete {
			delete(m.data, string(op.Key))
			delete(m.expiry, string(op.Key))
			continue
		}
		m.data[string(op.Key)] = append([]byte(nil), op.Value...)
	}
	return nil
}

func (m *Memory) ExtendTTL(_ context.Context, key []byte, lt Lifetime) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := string(key)
	if _, ok := m.data[k]; !ok {
		return ErrNotFound
	}
	now := m.nowFn()
	if exp, ok := m.expiry[k]; ok && exp.Sub(now) >= lt.Threshold {
		return nil
	}
	m.expiry[k] = now.Add(lt.ExtendTo)
	return nil
}

// Expiry returns the recorded lifetime hint for key.
func (m *Memory) Expiry(key []byte) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	exp, ok := m.expiry[string(key)]
	return exp, ok
}

// Len reports the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

func (m *Memory) Close() error { return nil }
