package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Fake is a deterministic in-memory Gateway for tests. References are
// sequential, timestamps fixed, and every call is recorded so tests can
// assert exactly which processor interactions happened.
type Fake struct {
	mu       sync.Mutex
	seq      int
	Calls    []string
	FailNext error // next call returns this error, then clears
}

// NewFake creates a fresh fake gateway.
func NewFake() *Fake {
	return &Fake{}
}

// Fail arms the fake to fail its next call with err.
func (f *Fake) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FailNext = err
}

func (f *Fake) take(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, call)
	if f.FailNext != nil {
		err := f.FailNext
		f.FailNext = nil
		return err
	}
	return nil
}

// CallCount returns how many calls of the given kind were made.
func (f *Fake) CallCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func (f *Fake) CreateIntent(ctx context.Context, req CreateIntentRequest) (*IntentRef, error) {
	if err := f.take(fmt.Sprintf("create:%s", req.OrderID)); err != nil {
		return nil, err
	}
	if req.AmountMinor <= 0 {
		return nil, errors.New("fake gateway: non-positive amount")
	}
	f.mu.Lock()
	f.seq++
	ref := fmt.Sprintf("pi_fake_%06d", f.seq)
	f.mu.Unlock()
	return &IntentRef{
		Reference: ref,
		CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}, nil
}

func (f *Fake) Capture(ctx context.Context, reference string, amountMinor int64) error {
	return f.take(fmt.Sprintf("capture:%s:%d", reference, amountMinor))
}

func (f *Fake) Refund(ctx context.Context, reference string, amountMinor int64) error {
	return f.take(fmt.Sprintf("refund:%s:%d", reference, amountMinor))
}
