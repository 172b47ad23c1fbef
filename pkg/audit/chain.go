package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/hossam-create/mnbara-trustplane/pkg/fault"
)

// hashableEntry is the portion of an entry covered by its hash. The entry
// hash itself is excluded; everything else is included so no field can be
// silently rewritten.
type hashableEntry struct {
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
}

// ComputeEntryHash returns sha256(previousHash || JCS(entry)) as a hex
// string with an algorithm prefix. RFC 8785 canonicalization makes the
// hash independent of map ordering and encoder quirks, so verification
// succeeds on any replica that holds the same logical entry.
func ComputeEntryHash(e *Entry) (string, error) {
	raw, err := json.Marshal(hashableEntry{
		ID:           e.ID,
		Sequence:     e.Sequence,
		Timestamp:    e.Timestamp,
		Actor:        e.Actor,
		Action:       e.Action,
		Target:       e.Target,
		Success:      e.Success,
		Error:        e.Error,
		Payload:      e.Payload,
		PreviousHash: e.PreviousHash,
	})
	if err != nil {
		return "", fmt.Errorf("marshal entry for hashing: %w", err)
	}

	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize entry: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(e.PreviousHash))
	h.Write(canonical)
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

// verifyEntries walks entries (which must be ordered by sequence with no
// gaps) recomputing each hash. prevHash is the hash preceding the first
// entry, GenesisHash when verifying from the start of the shard.
func verifyEntries(prevHash string, entries []*Entry) error {
	expectedPrev := prevHash
	for _, e := range entries {
		if e.PreviousHash != expectedPrev {
			return &fault.ChainBrokenError{
				Sequence: e.Sequence,
				Detail:   fmt.Sprintf("previous hash mismatch: have %q, want %q", e.PreviousHash, expectedPrev),
			}
		}
		recomputed, err := ComputeEntryHash(e)
		if err != nil {
			return &fault.ChainBrokenError{Sequence: e.Sequence, Detail: err.Error()}
		}
		if recomputed != e.EntryHash {
			return &fault.ChainBrokenError{
				Sequence: e.Sequence,
				Detail:   "entry hash does not match recomputed hash",
			}
		}
		expectedPrev = e.EntryHash
	}
	return nil
}
