package users

import (
	"context"
	"sync"
	"time"
)

// MemoryDirectory is an in-memory Directory used as a test double and for
// local development. Production deployments use PostgresDirectory.
type MemoryDirectory struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewMemoryDirectory creates an empty in-memory directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{profiles: make(map[string]*Profile)}
}

// Put inserts or replaces a profile. Test/seed helper.
func (d *MemoryDirectory) Put(p *Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := *p
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	cp.UpdatedAt = time.Now().UTC()
	d.profiles[cp.ID] = &cp
}

func (d *MemoryDirectory) Get(ctx context.Context, userID string) (*Profile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (d *MemoryDirectory) Ban(ctx context.Context, userID, reason string) (*Profile, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	p.Status = StatusBanned
	p.BanReason = reason
	p.UpdatedAt = time.Now().UTC()
	cp := *p
	return &cp, nil
}
