package escrow

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-memory Store used as a test double and for local
// development. Production deployments use PostgresStore.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*Intent
	byGWRef map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*Intent),
		byGWRef: make(map[string]string),
	}
}

func (s *MemoryStore) Create(ctx context.Context, intent *Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cloneIntent(intent)
	s.byID[cp.ID] = cp
	if cp.GatewayRef != "" {
		s.byGWRef[cp.GatewayRef] = cp.ID
	}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	intent, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneIntent(intent), nil
}

func (s *MemoryStore) GetByGatewayRef(ctx context.Context, ref string) (*Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byGWRef[ref]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneIntent(s.byID[id]), nil
}

func (s *MemoryStore) Update(ctx context.Context, intent *Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[intent.ID]; !ok {
		return ErrNotFound
	}
	cp := cloneIntent(intent)
	cp.UpdatedAt = time.Now().UTC()
	s.byID[cp.ID] = cp
	if cp.GatewayRef != "" {
		s.byGWRef[cp.GatewayRef] = cp.ID
	}
	intent.UpdatedAt = cp.UpdatedAt
	return nil
}

func cloneIntent(in *Intent) *Intent {
	cp := *in
	if in.Metadata != nil {
		cp.Metadata = make(map[string]string, len(in.Metadata))
		for k, v := range in.Metadata {
			cp.Metadata[k] = v
		}
	}
	if in.AutoReleaseAt != nil {
		t := *in.AutoReleaseAt
		cp.AutoReleaseAt = &t
	}
	return &cp
}
