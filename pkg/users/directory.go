// Package users is the directory of customer profiles consulted by the
// fraud evaluator and mutated (ban only) by the admin orchestrator.
package users

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a profile does not exist.
var ErrNotFound = errors.New("user profile not found")

// Profile status values.
const (
	StatusPending   = "PENDING"
	StatusVerified  = "VERIFIED"
	StatusSuspended = "SUSPENDED"
	StatusBanned    = "BANNED"
)

// Profile is one customer identity.
type Profile struct {
	ID                string    `json:"id"`
	LegalName         string    `json:"legal_name"`
	Status            string    `json:"status"`
	BanReason         string    `json:"ban_reason,omitempty"`
	FlaggedByRiskFeed bool      `json:"flagged_by_risk_feed"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Directory provides profile lookup and the ban mutation. Bans are
// one-way: there is no unban operation on this surface.
type Directory interface {
	Get(ctx context.Context, userID string) (*Profile, error)
	Ban(ctx context.Context, userID, reason string) (*Profile, error)
}
