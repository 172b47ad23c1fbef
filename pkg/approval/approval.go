// Package approval implements dual control for high-value administrative
// actions. A qualifying action is parked as a pending record; a second,
// distinct administrator must approve the exact same action before it can
// execute. Records are matched by a canonical fingerprint so the approved
// action cannot drift from the requested one.
package approval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
)

// DefaultThresholdMinor is the monetary threshold above which a second
// approver is required, in minor units (50,000.00 at scale 2).
const DefaultThresholdMinor int64 = 5_000_000

// DefaultTTL is how long a pending approval stays valid.
const DefaultTTL = 24 * time.Hour

// ErrNotFound is returned when no record matches a fingerprint.
var ErrNotFound = errors.New("approval: record not found")

// Record tracks one parked action through the dual-control flow.
type Record struct {
	Fingerprint string     `json:"fingerprint"`
	Module      string     `json:"module"`
	RequestedBy string     `json:"requested_by"`
	RequestedAt time.Time  `json:"requested_at"`
	Summary     string     `json:"summary"`
	ApprovedBy  string     `json:"approved_by,omitempty"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	Consumed    bool       `json:"consumed"`
}

// Approved reports whether the record has a standing, unconsumed approval.
func (r *Record) Approved() bool {
	return r.ApprovedBy != "" && !r.Consumed
}

// Store persists approval records.
type Store interface {
	// Put inserts or replaces a record keyed by its fingerprint.
	Put(ctx context.Context, rec *Record) error
	// Get returns the record for a fingerprint, or ErrNotFound.
	Get(ctx context.Context, fingerprint string) (*Record, error)
	// Delete removes a record. Removing an absent record is not an error.
	Delete(ctx context.Context, fingerprint string) error
	// List returns all pending (unconsumed) records.
	List(ctx context.Context) ([]*Record, error)
}

// Fingerprint derives the canonical identity of an action. The action is
// serialized, canonicalized per RFC 8785, and hashed, so two structurally
// equal actions always collide regardless of field order.
func Fingerprint(action any) (string, error) {
	raw, err := json.Marshal(action)
	if err != nil {
		return "", fmt.Errorf("marshal action: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize action: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// Policy decides which actions need a second approver.
type Policy struct {
	ThresholdMinor int64
}

// DefaultPolicy returns the standard dual-control policy.
func DefaultPolicy() Policy {
	return Policy{ThresholdMinor: DefaultThresholdMinor}
}

// Requires reports whether an action moving amountMinor needs dual
// control. Non-monetary actions pass zero and never qualify.
func (p Policy) Requires(amountMinor int64) bool {
	return amountMinor > p.ThresholdMinor
}
