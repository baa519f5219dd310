package main

import (
	"sync"
	"time"

	"tableqa/internal/repair"
)

// sessionStore keeps exhausted repair sessions reachable over HTTP until
// they sit idle longer than ttl.
type sessionStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	items map[string]*storedSession
}

type storedSession struct {
	// mu serializes turns; a Session takes one caller at a time.
	mu      sync.Mutex
	session *repair.Session
	expires time.Time
}

func newSessionStore(ttl time.Duration) *sessionStore {
	return &sessionStore{ttl: ttl, now: time.Now, items: map[string]*storedSession{}}
}

// Put registers s and drops anything expired.
func (st *sessionStore) Put(s *repair.Session) {
	st.mu.Lock()
	defer st.mu.Unlock()
	now := st.now()
	for id, item := range st.items {
		if now.After(item.expires) {
			delete(st.items, id)
		}
	}
	st.items[s.ID] = &storedSession{session: s, expires: now.Add(st.ttl)}
}

// Get returns the live session for id and extends its lifetime.
func (st *sessionStore) Get(id string) (*storedSession, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	item, ok := st.items[id]
	if !ok {
		return nil, false
	}
	now := st.now()
	if now.After(item.expires) {
		delete(st.items, id)
		return nil, false
	}
	item.expires = now.Add(st.ttl)
	return item, true
}

// Len reports how many sessions are held, expired ones included.
func (st *sessionStore) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.items)
}
