// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package recovery

import (
	"sync"
	"time"
)

// DefaultFlowTTL bounds how long a verified flow waits for a password.
const DefaultFlowTTL = 15 * time.Minute

// Store keeps verified flows in memory with a TTL.
type Store struct { //nolint:govet // fieldalignment not critical
	mu    sync.RWMutex
	flows map[string]*flowEntry
	ttl   time.Duration
	done  chan struct{}
	once  sync.Once
}

type flowEntry struct {
	flow      *Flow
	expiresAt time.Time
}

// NewStore creates a store and starts its cleanup loop.
func NewStore(ttl, cleanupInterval time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultFlowTTL
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	s := &Store{
		flows: make(map[string]*flowEntry),
		ttl:   ttl,
		done:  make(chan struct{}),
	}
	go s.cleanup(cleanupInterval)
	return s
}

// Put stores a flow until the store TTL or the flow's session expires,
// whichever comes first.
func (s *Store) Put(f *Flow) {
	expiresAt := time.Now().Add(s.ttl)
	f.mu.Lock()
	if f.session != nil && !f.session.ExpiresAt.IsZero() && f.session.ExpiresAt.Before(expiresAt) {
		expiresAt = f.session.ExpiresAt
	}
	f.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[f.id] = &flowEntry{flow: f, expiresAt: expiresAt}
}

// Get returns a live flow.
func (s *Store) Get(id string) (*Flow, bool) {
	s.mu.RLock()
	entry, ok := s.flows[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if time.Now().After(entry.expiresAt) {
		s.Delete(id)
		return nil, false
	}
	return entry.flow, true
}

// Delete removes a flow.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flows, id)
}

// Len returns the number of stored flows.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.flows)
}

// Close stops the cleanup loop.
func (s *Store) Close() {
	s.once.Do(func() {
		close(s.done)
	})
}

func (s *Store) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.purge(time.Now())
		}
	}
}

func (s *Store) purge(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.flows {
		if now.After(entry.expiresAt) {
			delete(s.flows, id)
		}
	}
}
