package approval

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-node deployments.
// Records expire after the configured TTL.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory approval store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
		ttl:     DefaultTTL,
		now:     time.Now,
	}
}

// SetTTL overrides the record expiry window.
func (s *MemoryStore) SetTTL(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > 0 {
		s.ttl = d
	}
}

func (s *MemoryStore) expired(rec *Record) bool {
	return s.now().Sub(rec.RequestedAt) > s.ttl
}

func (s *MemoryStore) Put(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.records[rec.Fingerprint] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, fingerprint string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[fingerprint]
	if !ok || s.expired(rec) {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) Delete(ctx context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, fingerprint)
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		if rec.Consumed || s.expired(rec) {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}
