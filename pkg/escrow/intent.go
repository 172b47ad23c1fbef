// Package escrow owns the lifecycle of payment intents. All mutating
// transitions run under a per-intent serialization lock, and the gateway
// call plus local state change are treated as one logical step: if the
// gateway call fails, local state does not move.
package escrow

import (
	"time"

	"github.com/hossam-create/mnbara-trustplane/pkg/money"
)

// Status is an intent's position in the lifecycle graph.
//
//	requires_payment_method → pending_capture → funds_secured
//	funds_secured ⇄ held
//	funds_secured/held → released | partially_refunded | refunded
//	partially_refunded → partially_refunded | released | refunded
//
// released and refunded are terminal.
type Status string

const (
	StatusRequiresPaymentMethod Status = "requires_payment_method"
	StatusPendingCapture        Status = "pending_capture"
	StatusFundsSecured          Status = "funds_secured"
	StatusHeld                  Status = "held"
	StatusReleased              Status = "released"
	StatusRefunded              Status = "refunded"
	StatusPartiallyRefunded     Status = "partially_refunded"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusReleased || s == StatusRefunded
}

// Intent is one escrowed payment. Amount is immutable after creation;
// status only moves along the lifecycle graph. Intents are never deleted,
// only terminally transitioned.
type Intent struct {
	ID            string            `json:"id"`
	Amount        money.Money       `json:"amount"`
	Status        Status            `json:"status"`
	CustomerID    string            `json:"customer_id"`
	OrderID       string            `json:"order_id"`
	PaymentMethod string            `json:"payment_method,omitempty"`
	GatewayRef    string            `json:"gateway_ref,omitempty"`

	// RefundedMinor is the cumulative sum of partial refunds. It never
	// exceeds Amount.AmountMinor.
	RefundedMinor int64 `json:"refunded_minor"`

	Metadata map[string]string `json:"metadata,omitempty"`

	// AutoReleaseAt is set when funds are secured; escrowed funds are
	// eligible for automatic release after this time.
	AutoReleaseAt *time.Time `json:"auto_release_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RemainingMinor is the refundable balance still held.
func (i *Intent) RemainingMinor() int64 {
	return i.Amount.AmountMinor - i.RefundedMinor
}
