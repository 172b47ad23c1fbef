package escrow

import (
	"context"
	"errors"
)

// ErrNotFound is returned when an intent id or gateway reference is
// unknown.
var ErrNotFound = errors.New("intent not found")

// Store is the durable home of intents. The machine serializes mutations
// per intent, so implementations only need row-level consistency.
type Store interface {
	Create(ctx context.Context, intent *Intent) error
	Get(ctx context.Context, id string) (*Intent, error)
	GetByGatewayRef(ctx context.Context, ref string) (*Intent, error)
	Update(ctx context.Context, intent *Intent) error
}
