package session

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	mu      sync.Mutex
	state   State
	expires time.Time
	deleted bool
}

// MemoryStore is the single-instance backend. Entries expire after ttl without writes.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[int64]*entry
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{ttl: ttl, now: time.Now, entries: make(map[int64]*entry)}
}

// lock returns the live entry for id with its mutex held.
func (m *MemoryStore) lock(id int64) *entry {
	for {
		m.mu.Lock()
		e, ok := m.entries[id]
		if !ok {
			e = &entry{}
			m.entries[id] = e
		}
		m.mu.Unlock()

		e.mu.Lock()
		if !e.deleted {
			return e
		}
		// Swept between lookup and lock; retry with a fresh entry.
		e.mu.Unlock()
	}
}

func (m *MemoryStore) Get(_ context.Context, id int64) (State, error) {
	m.mu.Lock()
	e, ok := m.entries[id]
	m.mu.Unlock()
	if !ok {
		return State{}, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted || m.now().After(e.expires) {
		return State{}, nil
	}
	return e.state, nil
}

func (m *MemoryStore) Update(_ context.Context, id int64, fn func(*State)) (State, error) {
	e := m.lock(id)
	defer e.mu.Unlock()
	now := m.now()
	if !e.expires.IsZero() && now.After(e.expires) {
		e.state = State{}
	}
	fn(&e.state)
	e.state.UpdatedAt = now
	e.expires = now.Add(m.ttl)
	return e.state, nil
}

func (m *MemoryStore) Clear(_ context.Context, id int64) error {
	e := m.lock(id)
	defer e.mu.Unlock()
	e.deleted = true
	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()
	return nil
}

// Sweep removes expired sessions and returns how many were dropped.
func (m *MemoryStore) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, e := range m.entries {
		if !e.mu.TryLock() {
			continue
		}
		if !e.expires.IsZero() && now.After(e.expires) {
			e.deleted = true
			delete(m.entries, id)
			n++
		}
		e.mu.Unlock()
	}
	return n
}

func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
