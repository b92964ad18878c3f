// SPDX-License-Identifier: Apache-2.0

package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemEphemeralStore is an in-process EphemeralStore, useful as the default
// fast path when no external cache (e.g. Redis) is wired up. Expired
// entries are purged lazily on access and by periodic Cleanup calls.
type MemEphemeralStore struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

func NewMemEphemeralStore() *MemEphemeralStore {
	return &MemEphemeralStore{expires: map[string]time.Time{}, now: time.Now}
}

func (s *MemEphemeralStore) Set(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expires[key] = s.now().Add(ttl)
	return nil
}

func (s *MemEphemeralStore) SetBulk(_ context.Context, keys []string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	expiry := s.now().Add(ttl)
	for _, k := range keys {
		s.expires[k] = expiry
	}
	return nil
}

func (s *MemEphemeralStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live(key), nil
}

func (s *MemEphemeralStore) ExistsBulk(_ context.Context, keys []string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		out[k] = s.live(k)
	}
	return out, nil
}

// live reports whether key is present and unexpired; must be called with
// mu held.
func (s *MemEphemeralStore) live(key string) bool {
	exp, ok := s.expires[key]
	if !ok {
		return false
	}
	if s.now().After(exp) {
		delete(s.expires, key)
		return false
	}
	return true
}

// Cleanup evicts all expired entries and returns the number removed.
func (s *MemEphemeralStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	now := s.now()
	for k, exp := range s.expires {
		if now.After(exp) {
			delete(s.expires, k)
			removed++
		}
	}
	return removed
}

// MemDurableStore is an in-process DurableStore. It is not actually
// durable across restarts; it exists for tests and for single-process
// deployments that accept losing idempotency history on crash.
type MemDurableStore struct {
	mu   sync.Mutex
	rows map[string]ProcessedRow
}

func NewMemDurableStore() *MemDurableStore {
	return &MemDurableStore{rows: map[string]ProcessedRow{}}
}

func (s *MemDurableStore) MarkProcessed(_ context.Context, row ProcessedRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[key(row.JobID, row.Table, row.RowID)] = row
	return nil
}

func (s *MemDurableStore) MarkProcessedBulk(_ context.Context, rows []ProcessedRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range rows {
		s.rows[key(row.JobID, row.Table, row.RowID)] = row
	}
	return nil
}

func (s *MemDurableStore) IsProcessed(_ context.Context, jobID, table, rowID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rows[key(jobID, table, rowID)]
	return ok, nil
}

func (s *MemDurableStore) GetProcessedIDs(_ context.Context, jobID, table string, rowIDs []string) (map[string]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(rowIDs))
	for _, id := range rowIDs {
		if _, ok := s.rows[key(jobID, table, id)]; ok {
			out[id] = true
		}
	}
	return out, nil
}
