package idempotency

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryStore keeps inbox entries in process memory. It serves tests and
// single-instance workers without a database.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*InboxEntry
	now     func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory inbox store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*InboxEntry), now: time.Now}
}

// Get returns a copy of the entry for key
func (s *MemoryStore) Get(_ context.Context, key string) (*InboxEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *entry
	return &cp, nil
}

// Start inserts a STARTED entry or restarts a RECOVERABLE one
func (s *MemoryStore) Start(_ context.Context, key, handlerName string, payload json.RawMessage, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if entry, ok := s.entries[key]; ok {
		if entry.Status != StatusRecoverable {
			return ErrDuplicateMessage
		}
		entry.Status = StatusStarted
		entry.UpdatedAt = now
		return nil
	}

	s.entries[key] = &InboxEntry{
		IdempotencyKey: key,
		HandlerName:    handlerName,
		Status:         StatusStarted,
		Payload:        payload,
		CreatedAt:      now,
		UpdatedAt:      now,
		ExpiresAt:      &expiresAt,
	}
	return nil
}

// SetStatus updates the status and result of an entry
func (s *MemoryStore) SetStatus(_ context.Context, key string, status Status, result json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return ErrNotFound
	}
	entry.Status = status
	entry.Result = result
	entry.UpdatedAt = s.now()
	return nil
}

// DeleteExpired removes expired entries and FINISHED entries older than finishedBefore
func (s *MemoryStore) DeleteExpired(_ context.Context, now, finishedBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for key, entry := range s.entries {
		expired := entry.ExpiresAt != nil && entry.ExpiresAt.Before(now)
		retired := entry.Status == StatusFinished && entry.UpdatedAt.Before(finishedBefore)
		if expired || retired {
			delete(s.entries, key)
			deleted++
		}
	}
	return deleted, nil
}

// RecoverStale marks STARTED entries untouched since startedBefore as RECOVERABLE
func (s *MemoryStore) RecoverStale(_ context.Context, startedBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var recovered int64
	for _, entry := range s.entries {
		if entry.Status == StatusStarted && entry.UpdatedAt.Before(startedBefore) {
			entry.Status = StatusRecoverable
			entry.UpdatedAt = s.now()
			recovered++
		}
	}
	return recovered, nil
}

// Stats counts entries by status
func (s *MemoryStore) Stats(_ context.Context) (*InboxStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := &InboxStats{TotalEntries: int64(len(s.entries))}
	for _, entry := range s.entries {
		switch entry.Status {
		case StatusStarted:
			stats.Started++
		case StatusFinished:
			stats.Finished++
		case StatusRecoverable:
			stats.Recoverable++
		case StatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}
