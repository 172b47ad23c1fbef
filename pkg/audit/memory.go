package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hossam-create/mnbara-trustplane/pkg/fault"
)

// MemoryLog is the in-memory Logger used in tests and local development.
// The mutex makes it the single writer for its shard, which keeps the
// sequence counter free of gaps and duplicates.
type MemoryLog struct {
	mu        sync.RWMutex
	entries   []*Entry
	sequence  uint64
	chainHead string
}

// NewMemoryLog creates an empty in-memory audit log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{chainHead: GenesisHash}
}

func (l *MemoryLog) Append(ctx context.Context, rec Record) (*Entry, error) {
	payload, err := marshalPayload(rec.Payload)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	entry := &Entry{
		ID:           uuid.New().String(),
		Sequence:     l.sequence + 1,
		Timestamp:    time.Now().UTC(),
		Actor:        rec.Actor,
		Action:       rec.Action,
		Target:       rec.Target,
		Success:      rec.Success,
		Error:        rec.Error,
		Payload:      payload,
		PreviousHash: l.chainHead,
	}

	hash, err := ComputeEntryHash(entry)
	if err != nil {
		return nil, err
	}
	entry.EntryHash = hash

	l.sequence++
	l.chainHead = hash
	l.entries = append(l.entries, entry)
	return entry, nil
}

func (l *MemoryLog) VerifyChain(ctx context.Context, fromSeq, toSeq uint64) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if fromSeq == 0 {
		fromSeq = 1
	}
	if toSeq == 0 || toSeq > l.sequence {
		toSeq = l.sequence
	}
	if fromSeq > toSeq {
		return nil
	}

	prev := GenesisHash
	if fromSeq > 1 {
		if fromSeq-2 >= uint64(len(l.entries)) {
			return &fault.ChainBrokenError{Sequence: fromSeq, Detail: "entry missing"}
		}
		prev = l.entries[fromSeq-2].EntryHash
	}
	return verifyEntries(prev, l.entries[fromSeq-1:toSeq])
}

func (l *MemoryLog) Query(ctx context.Context, f QueryFilter) ([]*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*Entry, 0)
	skipped := 0
	for _, e := range l.entries {
		if !f.Matches(e) {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

// Sequence returns the current shard sequence.
func (l *MemoryLog) Sequence() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sequence
}

// ChainHead returns the current head hash.
func (l *MemoryLog) ChainHead() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.chainHead
}

func marshalPayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("serialize audit payload: %w", err)
	}
	return b, nil
}
