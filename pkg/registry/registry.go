// Package registry tracks in-flight tool requests. The registry is the single
// source of truth for "is this tool call done yet": an in-memory map of
// request state, reconciled into the durable log when a terminal state is
// reached. It is an injected, explicitly-owned collaborator, not a process
// global.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"conductor/pkg/ident"
	"conductor/pkg/logx"
	"conductor/pkg/persistence"
	"conductor/pkg/proto"
)

var (
	// ErrDuplicateRequest indicates a submit collided with an existing request
	// id. This is a programming-error class: the caller's operation is a no-op.
	ErrDuplicateRequest = errors.New("duplicate request id")

	// ErrRequestNotFound indicates the request id is not tracked.
	ErrRequestNotFound = errors.New("request not tracked")

	// ErrResultNotReady indicates Result was called before a terminal state.
	ErrResultNotReady = errors.New("request has not reached a terminal state")
)

// Allocator is the identifier-allocation surface the registry needs.
type Allocator interface {
	Next(scope ident.Scope) (int64, error)
}

// RequestStore is the durable-log surface the registry reconciles into.
type RequestStore interface {
	InsertRequest(req *proto.Request) error
	UpdateRequestStatus(sessionID string, id int64, status proto.RequestStatus, payload string, retryable bool) error
	ListRequests(filter *persistence.RequestFilter) ([]*proto.Request, error)
}

// Entry mirrors a request's volatile fields for fast polling without a
// storage round trip.
//
//nolint:govet // struct alignment optimization not critical for this type
type Entry struct {
	SubmittedAt time.Time
	CompletedAt time.Time
	ID          int64
	SessionID   string
	Tool        string
	Task        string
	UserText    string
	Status      proto.RequestStatus
	Payload     string
	Retryable   bool

	dispatched bool // executor has taken the entry
	reported   bool // terminal state already returned by Sweep
}

// Registry is a mutex-guarded map from request identifier to execution state.
// Submit, Poll, and Sweep may be called concurrently with executor updates
// without lost transitions.
type Registry struct {
	mu      sync.Mutex
	entries map[int64]*Entry
	alloc   Allocator
	store   RequestStore
	logger  *logx.Logger
}

// New creates a registry over the given allocator and durable store.
func New(alloc Allocator, store RequestStore) *Registry {
	return &Registry{
		entries: make(map[int64]*Entry),
		alloc:   alloc,
		store:   store,
		logger:  logx.NewLogger("registry"),
	}
}

// Submit allocates a request identifier, stores a submitted entry, and returns
// immediately. The durable row is written best-effort: a store failure after
// allocation degrades to in-memory-only tracking rather than losing the turn.
func (r *Registry) Submit(sessionID, tool, task, userText string) (int64, error) {
	id, err := r.alloc.Next(ident.RequestsScope(sessionID))
	if err != nil {
		return 0, fmt.Errorf("submit %s: %w", tool, err)
	}

	r.mu.Lock()
	if _, exists := r.entries[id]; exists {
		r.mu.Unlock()
		return 0, fmt.Errorf("%w: %d", ErrDuplicateRequest, id)
	}
	entry := &Entry{
		SubmittedAt: time.Now().UTC(),
		ID:          id,
		SessionID:   sessionID,
		Tool:        tool,
		Task:        task,
		UserText:    userText,
		Status:      proto.StatusSubmitted,
	}
	r.entries[id] = entry
	r.mu.Unlock()

	req := proto.NewRequest(sessionID, tool, userText)
	req.ID = id
	if err := r.store.InsertRequest(req); err != nil {
		r.logger.Warn("Request %d not persisted, tracking in memory only: %v", id, err)
	}

	r.logger.Info("📨 Submitted request %d: %s(%q)", id, tool, task)
	return id, nil
}

// Poll returns the request's current status.
func (r *Registry) Poll(id int64) (proto.RequestStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrRequestNotFound, id)
	}
	return entry.Status, nil
}

// Result returns the payload and retryability. Valid only once the request is
// terminal.
func (r *Registry) Result(id int64) (payload string, retryable bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return "", false, fmt.Errorf("%w: %d", ErrRequestNotFound, id)
	}
	if !entry.Status.IsTerminal() {
		return "", false, fmt.Errorf("%w: %d is %s", ErrResultNotReady, id, entry.Status)
	}
	return entry.Payload, entry.Retryable, nil
}

// Get returns a snapshot of the entry.
func (r *Registry) Get(id int64) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// Sweep returns request ids that reached a terminal state since the last
// sweep, in ascending id order. Each terminal request is reported exactly once.
func (r *Registry) Sweep() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []int64
	for id, entry := range r.entries {
		if entry.Status.IsTerminal() && !entry.reported {
			entry.reported = true
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Evict drops a reconciled entry from the in-memory map. The durable log
// retains the request record.
func (r *Registry) Evict(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

// takeForDispatch marks a submitted entry as taken by the executor, enforcing
// at-most-once dispatch per request id.
func (r *Registry) takeForDispatch(id int64) (Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %d", ErrRequestNotFound, id)
	}
	if entry.dispatched {
		return Entry{}, fmt.Errorf("%w: %d already dispatched", ErrDuplicateRequest, id)
	}
	entry.dispatched = true
	return *entry, nil
}

// markRunning transitions a request to running and mirrors it to the store.
func (r *Registry) markRunning(id int64) error {
	r.mu.Lock()
	entry, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrRequestNotFound, id)
	}
	if !proto.IsValidRequestTransition(entry.Status, proto.StatusRunning) {
		status := entry.Status
		r.mu.Unlock()
		return fmt.Errorf("cannot transition request %d from %s to running", id, status)
	}
	entry.Status = proto.StatusRunning
	sessionID := entry.SessionID
	r.mu.Unlock()

	if err := r.store.UpdateRequestStatus(sessionID, id, proto.StatusRunning, "", false); err != nil {
		r.logger.Warn("Running status for request %d not persisted: %v", id, err)
	}
	return nil
}

// markTerminal records the final status and payload, exactly once.
func (r *Registry) markTerminal(id int64, status proto.RequestStatus, payload string, retryable bool) error {
	r.mu.Lock()
	entry, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrRequestNotFound, id)
	}
	if !proto.IsValidRequestTransition(entry.Status, status) {
		current := entry.Status
		r.mu.Unlock()
		return fmt.Errorf("cannot transition request %d from %s to %s", id, current, status)
	}
	entry.Status = status
	entry.Payload = payload
	entry.Retryable = retryable
	entry.CompletedAt = time.Now().UTC()
	sessionID := entry.SessionID
	r.mu.Unlock()

	if err := r.store.UpdateRequestStatus(sessionID, id, status, payload, retryable); err != nil {
		r.logger.Warn("Terminal status for request %d not persisted: %v", id, err)
	}

	r.logger.Info("🏁 Request %d reached %s", id, status)
	return nil
}

// RecoverOrphans scans the durable log for requests left non-terminal by a
// crash and marks them failed(retryable). In-flight work is lost across a
// restart; this keeps polling from spinning forever on requests whose
// executor no longer exists.
func (r *Registry) RecoverOrphans(sessionID string) ([]int64, error) {
	orphans, err := r.store.ListRequests(&persistence.RequestFilter{
		SessionID: sessionID,
		Statuses:  []string{string(proto.StatusSubmitted), string(proto.StatusRunning)},
	})
	if err != nil {
		return nil, fmt.Errorf("orphan scan: %w", err)
	}

	var recovered []int64
	for _, req := range orphans {
		err := r.store.UpdateRequestStatus(sessionID, req.ID, proto.StatusFailed,
			"orphaned by restart before completion", true)
		if err != nil {
			r.logger.Warn("Failed to mark orphan request %d: %v", req.ID, err)
			continue
		}
		recovered = append(recovered, req.ID)
		r.logger.Info("♻️  Marked orphaned request %d failed (retryable)", req.ID)
	}
	return recovered, nil
}
