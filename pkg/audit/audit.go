// Package audit implements the append-only, hash-chained audit log. Every
// mutating decision of the control plane lands here exactly once,
// including failed attempts. Entries are never updated or deleted;
// corrections are new entries referencing the original target.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// GenesisHash anchors the start of every chain shard.
const GenesisHash = "genesis"

var (
	// ErrEntryNotFound is returned when a sequence has no entry.
	ErrEntryNotFound = errors.New("audit entry not found")
)

// Entry is a single immutable audit record. EntryHash covers the sequence,
// previous hash, actor, action, target, timestamp, outcome and payload, so
// any post-hoc modification is detectable.
type Entry struct {
	ID           string          `json:"id"`
	Sequence     uint64          `json:"sequence"`
	Timestamp    time.Time       `json:"timestamp"`
	Actor        string          `json:"actor"`
	Action       string          `json:"action"`
	Target       string          `json:"target"`
	Success      bool            `json:"success"`
	Error        string          `json:"error,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	PreviousHash string          `json:"previous_hash"`
	EntryHash    string          `json:"entry_hash"`
}

// Record is what callers submit; sequencing, hashing and timestamps are
// assigned by the logger.
type Record struct {
	Actor   string
	Action  string
	Target  string
	Success bool
	Error   string
	Payload any
}

// QueryFilter selects entries for the read-only audit listing.
type QueryFilter struct {
	Action    string
	Actor     string
	Target    string
	Success   *bool
	StartTime *time.Time
	EndTime   *time.Time
	StartSeq  uint64
	EndSeq    uint64
	Limit     int
	Offset    int
}

// Matches reports whether e satisfies the filter (pagination excluded).
func (f QueryFilter) Matches(e *Entry) bool {
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if f.Target != "" && e.Target != f.Target {
		return false
	}
	if f.Success != nil && e.Success != *f.Success {
		return false
	}
	if f.StartTime != nil && e.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.Timestamp.After(*f.EndTime) {
		return false
	}
	if f.StartSeq > 0 && e.Sequence < f.StartSeq {
		return false
	}
	if f.EndSeq > 0 && e.Sequence > f.EndSeq {
		return false
	}
	return true
}

// Logger is the append-only audit surface. There is deliberately no
// update or delete capability.
type Logger interface {
	// Append assigns the next sequence number atomically, chains the
	// entry hash to the previous entry, persists and returns it.
	Append(ctx context.Context, rec Record) (*Entry, error)
	// VerifyChain recomputes every hash in [fromSeq, toSeq] in order and
	// fails closed with a ChainBrokenError at the first mismatch.
	VerifyChain(ctx context.Context, fromSeq, toSeq uint64) error
	// Query returns entries matching the filter, ordered by sequence.
	Query(ctx context.Context, f QueryFilter) ([]*Entry, error)
}
