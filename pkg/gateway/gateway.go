// Package gateway abstracts the payment processor behind an explicit
// capability interface: create an intent, capture it, refund it. The
// control plane only advances local state after explicit gateway
// confirmation.
package gateway

import (
	"context"
	"time"
)

// CreateIntentRequest carries what the processor needs to open an intent.
type CreateIntentRequest struct {
	AmountMinor   int64             `json:"amount_minor"`
	Currency      string            `json:"currency"`
	CustomerID    string            `json:"customer_id"`
	OrderID       string            `json:"order_id"`
	PaymentMethod string            `json:"payment_method,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// IntentRef is the processor's handle for a created intent.
type IntentRef struct {
	Reference string    `json:"reference"`
	CreatedAt time.Time `json:"created_at"`
}

// Gateway is the opaque payment-processor capability. Implementations must
// treat every call as potentially blocking on network I/O and honor the
// context deadline.
type Gateway interface {
	// CreateIntent opens a manual-capture intent at the processor.
	CreateIntent(ctx context.Context, req CreateIntentRequest) (*IntentRef, error)
	// Capture captures (releases) the given amount of a secured intent.
	Capture(ctx context.Context, reference string, amountMinor int64) error
	// Refund returns the given amount to the payer.
	Refund(ctx context.Context, reference string, amountMinor int64) error
}
