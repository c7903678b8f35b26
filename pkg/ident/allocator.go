// Package ident allocates monotonically increasing identifiers by scanning a
// backing store for the true maximum in a scope.
package ident

import (
	"fmt"
	"sync"
)

// Store is the backing-store surface the allocator needs: the maximum of an
// integer column over a filtered scope.
type Store interface {
	MaxID(table, column string, filter map[string]any) (int64, error)
}

// Scope identifies one identifier namespace, e.g. "messages in session S".
type Scope struct {
	Table  string
	Column string
	Filter map[string]any
}

// MessagesScope is the identifier namespace for messages in a session.
func MessagesScope(sessionID string) Scope {
	return Scope{Table: "messages", Column: "id", Filter: map[string]any{"session_id": sessionID}}
}

// RequestsScope is the identifier namespace for tool requests in a session.
func RequestsScope(sessionID string) Scope {
	return Scope{Table: "requests", Column: "id", Filter: map[string]any{"session_id": sessionID}}
}

func (s Scope) key() string {
	key := s.Table + "." + s.Column
	if sid, ok := s.Filter["session_id"]; ok {
		key = fmt.Sprintf("%s@%v", key, sid)
	}
	return key
}

// Allocator hands out identifiers strictly greater than every existing one in
// a scope. It never trusts insertion order: the store is asked for the true
// maximum, and a per-scope high-water mark keeps sequential calls strictly
// increasing even when rows have not landed in the store yet.
type Allocator struct {
	store     Store
	mu        sync.Mutex
	highWater map[string]int64
}

// NewAllocator creates an allocator over the given store.
func NewAllocator(store Store) *Allocator {
	return &Allocator{
		store:     store,
		highWater: make(map[string]int64),
	}
}

// Next returns the next identifier for the scope. An empty scope yields 1.
// Store failures propagate so callers never silently reuse an identifier.
func (a *Allocator) Next(scope Scope) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	max, err := a.store.MaxID(scope.Table, scope.Column, scope.Filter)
	if err != nil {
		return 0, fmt.Errorf("allocate %s id: %w", scope.Table, err)
	}

	next := max + 1
	key := scope.key()
	if hw := a.highWater[key]; next <= hw {
		next = hw + 1
	}
	a.highWater[key] = next
	return next, nil
}
