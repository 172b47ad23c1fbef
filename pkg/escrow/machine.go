package escrow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hossam-create/mnbara-trustplane/pkg/fault"
	"github.com/hossam-create/mnbara-trustplane/pkg/gateway"
	"github.com/hossam-create/mnbara-trustplane/pkg/money"
)

// DefaultAutoRelease is how long secured funds sit before becoming
// eligible for automatic release.
const DefaultAutoRelease = 7 * 24 * time.Hour

// Machine drives intent lifecycle transitions. It guarantees at most one
// in-flight mutating operation per intent id.
type Machine struct {
	store    Store
	gw       gateway.Gateway
	locks    sync.Map // intent id -> *sync.Mutex
	autoRel  time.Duration
}

// NewMachine creates a state machine over the given store and gateway.
func NewMachine(store Store, gw gateway.Gateway) *Machine {
	return &Machine{store: store, gw: gw, autoRel: DefaultAutoRelease}
}

// SetAutoRelease overrides the auto-release window.
func (m *Machine) SetAutoRelease(d time.Duration) {
	if d > 0 {
		m.autoRel = d
	}
}

func (m *Machine) lockFor(id string) *sync.Mutex {
	mu, _ := m.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// CreateParams are the inputs to intent creation.
type CreateParams struct {
	AmountMinor   int64
	Currency      string
	CustomerID    string
	OrderID       string
	PaymentMethod string
	Metadata      map[string]string
}

// Create opens an intent at the gateway and persists it. The new intent
// is pending_capture when a payment method is supplied, and
// requires_payment_method otherwise.
func (m *Machine) Create(ctx context.Context, p CreateParams) (*Intent, error) {
	if p.AmountMinor <= 0 {
		return nil, fault.NewValidation("amount", "must be positive")
	}
	if p.Currency == "" {
		return nil, fault.NewValidation("currency", "is required")
	}
	if p.CustomerID == "" {
		return nil, fault.NewValidation("customerId", "is required")
	}
	if p.OrderID == "" {
		return nil, fault.NewValidation("orderId", "is required")
	}

	ref, err := m.gw.CreateIntent(ctx, gateway.CreateIntentRequest{
		AmountMinor:   p.AmountMinor,
		Currency:      p.Currency,
		CustomerID:    p.CustomerID,
		OrderID:       p.OrderID,
		PaymentMethod: p.PaymentMethod,
		Metadata:      p.Metadata,
	})
	if err != nil {
		return nil, &fault.UpstreamError{Op: "create_intent", Cause: err}
	}

	status := StatusRequiresPaymentMethod
	if p.PaymentMethod != "" {
		status = StatusPendingCapture
	}

	now := time.Now().UTC()
	intent := &Intent{
		ID:            uuid.New().String(),
		Amount:        money.New(p.AmountMinor, p.Currency),
		Status:        status,
		CustomerID:    p.CustomerID,
		OrderID:       p.OrderID,
		PaymentMethod: p.PaymentMethod,
		GatewayRef:    ref.Reference,
		Metadata:      p.Metadata,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.store.Create(ctx, intent); err != nil {
		return nil, err
	}
	return intent, nil
}

// Hold freezes a secured intent. A hold is platform-local: no gateway
// call happens, which is what makes it reversible without involving the
// processor.
func (m *Machine) Hold(ctx context.Context, intentID, reason string) (*Intent, error) {
	mu := m.lockFor(intentID)
	mu.Lock()
	defer mu.Unlock()

	intent, err := m.store.Get(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.Status != StatusFundsSecured {
		return nil, &fault.InvalidTransitionError{IntentID: intentID, From: string(intent.Status), Op: "hold"}
	}

	intent.Status = StatusHeld
	if intent.Metadata == nil {
		intent.Metadata = make(map[string]string)
	}
	intent.Metadata["hold_reason"] = reason
	if err := m.store.Update(ctx, intent); err != nil {
		return nil, err
	}
	return intent, nil
}

// Unhold lifts a hold, returning the intent to funds_secured.
func (m *Machine) Unhold(ctx context.Context, intentID string) (*Intent, error) {
	mu := m.lockFor(intentID)
	mu.Lock()
	defer mu.Unlock()

	intent, err := m.store.Get(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.Status != StatusHeld {
		return nil, &fault.InvalidTransitionError{IntentID: intentID, From: string(intent.Status), Op: "unhold"}
	}

	intent.Status = StatusFundsSecured
	delete(intent.Metadata, "hold_reason")
	if err := m.store.Update(ctx, intent); err != nil {
		return nil, err
	}
	return intent, nil
}

// Release captures the remaining balance at the gateway and marks the
// intent released. Replaying a release against an already-released intent
// returns the stored intent without a second gateway call.
func (m *Machine) Release(ctx context.Context, intentID, actor string) (*Intent, error) {
	mu := m.lockFor(intentID)
	mu.Lock()
	defer mu.Unlock()

	intent, err := m.store.Get(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.Status == StatusReleased {
		// Idempotent replay of a terminal operation.
		return intent, nil
	}
	if intent.Status != StatusFundsSecured && intent.Status != StatusHeld {
		return nil, &fault.InvalidTransitionError{IntentID: intentID, From: string(intent.Status), Op: "release"}
	}

	if err := m.gw.Capture(ctx, intent.GatewayRef, intent.RemainingMinor()); err != nil {
		return nil, &fault.UpstreamError{Op: "capture", Cause: err}
	}

	intent.Status = StatusReleased
	if intent.Metadata == nil {
		intent.Metadata = make(map[string]string)
	}
	intent.Metadata["released_by"] = actor
	if err := m.store.Update(ctx, intent); err != nil {
		return nil, err
	}
	return intent, nil
}

// PartialRefund returns part of the secured amount to the payer. The
// cumulative sum of partial refunds can never exceed the original amount.
func (m *Machine) PartialRefund(ctx context.Context, intentID, actor string, amountMinor int64) (*Intent, error) {
	mu := m.lockFor(intentID)
	mu.Lock()
	defer mu.Unlock()

	intent, err := m.store.Get(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if amountMinor <= 0 {
		return nil, fault.NewValidation("amount", "must be positive")
	}
	switch intent.Status {
	case StatusFundsSecured, StatusHeld, StatusPartiallyRefunded:
	default:
		return nil, &fault.InvalidTransitionError{IntentID: intentID, From: string(intent.Status), Op: "partial_refund"}
	}
	// Compared against the remaining balance rather than summing with
	// RefundedMinor; the sum can wrap for adversarial amounts.
	if amountMinor > intent.RemainingMinor() {
		return nil, fault.NewValidation("amount", "exceeds remaining refundable balance")
	}

	if err := m.gw.Refund(ctx, intent.GatewayRef, amountMinor); err != nil {
		return nil, &fault.UpstreamError{Op: "refund", Cause: err}
	}

	intent.RefundedMinor += amountMinor
	intent.Status = StatusPartiallyRefunded
	if intent.Metadata == nil {
		intent.Metadata = make(map[string]string)
	}
	intent.Metadata["last_refund_by"] = actor
	if err := m.store.Update(ctx, intent); err != nil {
		return nil, err
	}
	return intent, nil
}

// FullRefund refunds the entire remaining balance and terminates the
// intent. Valid from any non-terminal state. Replaying against an
// already-refunded intent returns the stored intent.
func (m *Machine) FullRefund(ctx context.Context, intentID, actor, reason string) (*Intent, error) {
	mu := m.lockFor(intentID)
	mu.Lock()
	defer mu.Unlock()

	intent, err := m.store.Get(ctx, intentID)
	if err != nil {
		return nil, err
	}
	if intent.Status == StatusRefunded {
		// Idempotent replay of a terminal operation.
		return intent, nil
	}
	if intent.Status.IsTerminal() {
		return nil, &fault.InvalidTransitionError{IntentID: intentID, From: string(intent.Status), Op: "full_refund"}
	}

	if remaining := intent.RemainingMinor(); remaining > 0 {
		if err := m.gw.Refund(ctx, intent.GatewayRef, remaining); err != nil {
			return nil, &fault.UpstreamError{Op: "refund", Cause: err}
		}
		intent.RefundedMinor += remaining
	}

	intent.Status = StatusRefunded
	if intent.Metadata == nil {
		intent.Metadata = make(map[string]string)
	}
	intent.Metadata["refund_reason"] = reason
	intent.Metadata["refunded_by"] = actor
	if err := m.store.Update(ctx, intent); err != nil {
		return nil, err
	}
	return intent, nil
}

// AttachMethod records that the payer attached a payment method at the
// gateway, advancing requires_payment_method → pending_capture. Driven by
// webhooks; idempotent against replay.
func (m *Machine) AttachMethod(ctx context.Context, gatewayRef, method string) (*Intent, error) {
	intent, err := m.store.GetByGatewayRef(ctx, gatewayRef)
	if err != nil {
		return nil, err
	}

	mu := m.lockFor(intent.ID)
	mu.Lock()
	defer mu.Unlock()

	intent, err = m.store.Get(ctx, intent.ID)
	if err != nil {
		return nil, err
	}
	if intent.Status != StatusRequiresPaymentMethod {
		// Replay or already progressed; nothing to do.
		return intent, nil
	}

	intent.Status = StatusPendingCapture
	intent.PaymentMethod = method
	if err := m.store.Update(ctx, intent); err != nil {
		return nil, err
	}
	return intent, nil
}

// ConfirmCapture records gateway confirmation that funds are secured,
// advancing pending_capture → funds_secured and stamping the auto-release
// deadline. Driven by webhooks; idempotent against replay.
func (m *Machine) ConfirmCapture(ctx context.Context, gatewayRef string) (*Intent, error) {
	intent, err := m.store.GetByGatewayRef(ctx, gatewayRef)
	if err != nil {
		return nil, err
	}

	mu := m.lockFor(intent.ID)
	mu.Lock()
	defer mu.Unlock()

	intent, err = m.store.Get(ctx, intent.ID)
	if err != nil {
		return nil, err
	}
	if intent.Status != StatusPendingCapture {
		// Replay or already progressed; nothing to do.
		return intent, nil
	}

	intent.Status = StatusFundsSecured
	deadline := time.Now().UTC().Add(m.autoRel)
	intent.AutoReleaseAt = &deadline
	if err := m.store.Update(ctx, intent); err != nil {
		return nil, err
	}
	return intent, nil
}
