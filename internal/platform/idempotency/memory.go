package idempotency

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps reservations in process. The API runs on it when no Firestore
// project is configured, so replays only cover retries that reach the same instance.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := documentID(key)
	result, fresh, err := claim(s.lookup(id), key, fingerprint, now.UTC(), ttl)
	if err != nil {
		return Reservation{}, err
	}
	if fresh {
		s.records[id] = result.Record
	}
	return result, nil
}

func (s *MemoryStore) SaveResponse(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := documentID(key)
	record, err := complete(s.lookup(id), key, fingerprint, resp, now.UTC(), ttl)
	if err != nil {
		return err
	}
	s.records[id] = record
	return nil
}

// CleanupExpired drops up to limit expired records, oldest expiry first. A non-positive
// limit removes all of them.
func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	for id, record := range s.records {
		if record.expired(now) {
			expired = append(expired, id)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return s.records[expired[i]].ExpiresAt.Before(s.records[expired[j]].ExpiresAt)
	})
	if limit > 0 && limit < len(expired) {
		expired = expired[:limit]
	}
	for _, id := range expired {
		delete(s.records, id)
	}
	return len(expired), nil
}

// Release leaves a record held by another fingerprint in place.
func (s *MemoryStore) Release(_ context.Context, key, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := documentID(key)
	if record, ok := s.records[id]; ok && record.Fingerprint == fingerprint {
		delete(s.records, id)
	}
	return nil
}

func (s *MemoryStore) lookup(id string) *Record {
	record, ok := s.records[id]
	if !ok {
		return nil
	}
	return &record
}
