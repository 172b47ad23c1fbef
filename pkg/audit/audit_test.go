package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/hossam-create/mnbara-trustplane/pkg/fault"
)

func TestMemoryLog_Append(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()

	entry, err := log.Append(ctx, Record{
		Actor:   "u-1",
		Action:  "escrow.hold",
		Target:  "intent:abc",
		Success: true,
		Payload: map[string]string{"reason": "dispute opened"},
	})
	if err != nil {
		t.Fatalf("failed to append: %v", err)
	}

	if entry.Sequence != 1 {
		t.Errorf("expected sequence 1, got %d", entry.Sequence)
	}
	if entry.PreviousHash != GenesisHash {
		t.Errorf("expected genesis previous hash, got %s", entry.PreviousHash)
	}
	if entry.EntryHash == "" {
		t.Error("expected non-empty entry hash")
	}
	if log.ChainHead() != entry.EntryHash {
		t.Errorf("chain head not advanced: %s", log.ChainHead())
	}
}

func TestMemoryLog_ChainLinks(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()

	e1, _ := log.Append(ctx, Record{Actor: "a", Action: "x", Target: "t", Success: true})
	e2, _ := log.Append(ctx, Record{Actor: "a", Action: "y", Target: "t", Success: false, Error: "denied"})
	e3, _ := log.Append(ctx, Record{Actor: "b", Action: "z", Target: "t", Success: true})

	if e2.PreviousHash != e1.EntryHash {
		t.Error("entry 2 should link to entry 1")
	}
	if e3.PreviousHash != e2.EntryHash {
		t.Error("entry 3 should link to entry 2")
	}
	if e1.Sequence != 1 || e2.Sequence != 2 || e3.Sequence != 3 {
		t.Error("sequence numbers incorrect")
	}
}

func TestMemoryLog_VerifyChainRoundTrip(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := log.Append(ctx, Record{
			Actor:   "u-1",
			Action:  "escrow.release",
			Target:  "intent:abc",
			Success: i%3 != 0,
			Payload: map[string]int{"i": i},
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	if err := log.VerifyChain(ctx, 1, 20); err != nil {
		t.Errorf("expected valid chain, got %v", err)
	}
	// Sub-range verification anchored mid-chain.
	if err := log.VerifyChain(ctx, 5, 15); err != nil {
		t.Errorf("expected valid sub-range, got %v", err)
	}
}

func TestMemoryLog_TamperDetectedAtExactSequence(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, _ = log.Append(ctx, Record{Actor: "u", Action: "op", Target: "t", Success: true, Payload: map[string]int{"i": i}})
	}

	// Rewrite the payload of entry 6 behind the logger's back.
	log.entries[5].Payload = json.RawMessage(`{"i":999}`)

	err := log.VerifyChain(ctx, 1, 10)
	var broken *fault.ChainBrokenError
	if !errors.As(err, &broken) {
		t.Fatalf("expected ChainBrokenError, got %v", err)
	}
	if broken.Sequence != 6 {
		t.Errorf("expected break at sequence 6, got %d", broken.Sequence)
	}
}

func TestMemoryLog_BrokenLinkDetected(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = log.Append(ctx, Record{Actor: "u", Action: "op", Target: "t", Success: true})
	}
	log.entries[2].PreviousHash = "sha256:forged"

	err := log.VerifyChain(ctx, 1, 5)
	var broken *fault.ChainBrokenError
	if !errors.As(err, &broken) {
		t.Fatalf("expected ChainBrokenError, got %v", err)
	}
	if broken.Sequence != 3 {
		t.Errorf("expected break at sequence 3, got %d", broken.Sequence)
	}
}

func TestMemoryLog_QueryFilters(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()

	_, _ = log.Append(ctx, Record{Actor: "alice", Action: "escrow.hold", Target: "intent:1", Success: true})
	_, _ = log.Append(ctx, Record{Actor: "bob", Action: "escrow.release", Target: "intent:1", Success: true})
	_, _ = log.Append(ctx, Record{Actor: "alice", Action: "user.ban", Target: "user:9", Success: false, Error: "denied"})

	byActor, _ := log.Query(ctx, QueryFilter{Actor: "alice"})
	if len(byActor) != 2 {
		t.Errorf("expected 2 entries for alice, got %d", len(byActor))
	}

	failed := false
	byOutcome, _ := log.Query(ctx, QueryFilter{Success: &failed})
	if len(byOutcome) != 1 || byOutcome[0].Action != "user.ban" {
		t.Errorf("expected the failed ban attempt, got %+v", byOutcome)
	}

	paged, _ := log.Query(ctx, QueryFilter{Limit: 1, Offset: 1})
	if len(paged) != 1 || paged[0].Sequence != 2 {
		t.Errorf("expected second entry via pagination, got %+v", paged)
	}
}

func TestMemoryLog_ConcurrentAppendsKeepSequenceDense(t *testing.T) {
	log := NewMemoryLog()
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = log.Append(ctx, Record{Actor: "u", Action: "op", Target: "t", Success: true})
		}()
	}
	wg.Wait()

	if log.Sequence() != n {
		t.Fatalf("expected sequence %d, got %d", n, log.Sequence())
	}
	if err := log.VerifyChain(ctx, 1, n); err != nil {
		t.Errorf("chain invalid after concurrent appends: %v", err)
	}
}

func TestComputeEntryHash_Deterministic(t *testing.T) {
	e := &Entry{
		ID:           "fixed",
		Sequence:     7,
		Actor:        "u-1",
		Action:       "escrow.refund",
		Target:       "intent:x",
		Success:      true,
		Payload:      json.RawMessage(`{"b":2,"a":1}`),
		PreviousHash: GenesisHash,
	}
	h1, err := ComputeEntryHash(e)
	if err != nil {
		t.Fatal(err)
	}
	h2, _ := ComputeEntryHash(e)
	if h1 != h2 {
		t.Error("hash is not deterministic")
	}

	// Canonicalization makes key order irrelevant.
	e.Payload = json.RawMessage(`{"a":1,"b":2}`)
	h3, _ := ComputeEntryHash(e)
	if h1 != h3 {
		t.Error("hash should be independent of JSON key order")
	}
}
