package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps reservations in process. It backs local runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now, ttl = now.UTC(), normaliseTTL(ttl)
	id := documentID(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[id]; ok && !existing.expired(now) {
		return reservationFor(existing, fingerprint)
	}
	rec := newPendingRecord(key, fingerprint, now, ttl)
	s.records[id] = rec
	return Reservation{State: ReservationStateNew, Record: rec}, nil
}

func (s *MemoryStore) SaveResponse(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now, ttl = now.UTC(), normaliseTTL(ttl)
	id := documentID(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	switch {
	case !ok:
		rec = Record{Key: key, Fingerprint: fingerprint}
	case rec.Fingerprint != fingerprint:
		return ErrFingerprintMismatch
	}
	s.records[id] = complete(rec, resp, now, ttl)
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, documentID(key))
	return nil
}

// CleanupExpired drops up to limit expired records; limit <= 0 means all of them.
func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, rec := range s.records {
		if limit > 0 && removed >= limit {
			break
		}
		if rec.expired(now) {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}
