package approval_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hossam-create/mnbara-trustplane/pkg/approval"
)

func TestFingerprintStable(t *testing.T) {
	a := map[string]any{"type": "release", "intentId": "int_1", "amount": 100}
	b := map[string]any{"amount": 100, "intentId": "int_1", "type": "release"}

	fa, err := approval.Fingerprint(a)
	require.NoError(t, err)
	fb, err := approval.Fingerprint(b)
	require.NoError(t, err)

	assert.Equal(t, fa, fb, "field order must not change the fingerprint")
	assert.Contains(t, fa, "sha256:")
}

func TestFingerprintDistinguishesActions(t *testing.T) {
	fa, err := approval.Fingerprint(map[string]any{"type": "release", "intentId": "int_1"})
	require.NoError(t, err)
	fb, err := approval.Fingerprint(map[string]any{"type": "release", "intentId": "int_2"})
	require.NoError(t, err)
	assert.NotEqual(t, fa, fb)
}

func TestPolicyThreshold(t *testing.T) {
	p := approval.DefaultPolicy()
	assert.False(t, p.Requires(0))
	assert.False(t, p.Requires(approval.DefaultThresholdMinor))
	assert.True(t, p.Requires(approval.DefaultThresholdMinor+1))

	custom := approval.Policy{ThresholdMinor: 1000}
	assert.True(t, custom.Requires(1001))
	assert.False(t, custom.Requires(1000))
}

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := approval.NewMemoryStore()

	_, err := store.Get(ctx, "sha256:missing")
	assert.ErrorIs(t, err, approval.ErrNotFound)

	rec := &approval.Record{
		Fingerprint: "sha256:aaa",
		RequestedBy: "admin_1",
		RequestedAt: time.Now().UTC(),
		Summary:     "release int_1 for 60000.00 EGP",
	}
	require.NoError(t, store.Put(ctx, rec))

	got, err := store.Get(ctx, "sha256:aaa")
	require.NoError(t, err)
	assert.Equal(t, "admin_1", got.RequestedBy)
	assert.False(t, got.Approved())

	now := time.Now().UTC()
	got.ApprovedBy = "admin_2"
	got.ApprovedAt = &now
	require.NoError(t, store.Put(ctx, got))

	got, err = store.Get(ctx, "sha256:aaa")
	require.NoError(t, err)
	assert.True(t, got.Approved())

	got.Consumed = true
	require.NoError(t, store.Put(ctx, got))
	got, err = store.Get(ctx, "sha256:aaa")
	require.NoError(t, err)
	assert.False(t, got.Approved(), "consumed approvals do not authorize again")

	require.NoError(t, store.Delete(ctx, "sha256:aaa"))
	_, err = store.Get(ctx, "sha256:aaa")
	assert.ErrorIs(t, err, approval.ErrNotFound)
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store := approval.NewMemoryStore()
	store.SetTTL(time.Hour)

	stale := &approval.Record{
		Fingerprint: "sha256:old",
		RequestedBy: "admin_1",
		RequestedAt: time.Now().UTC().Add(-2 * time.Hour),
	}
	require.NoError(t, store.Put(ctx, stale))

	_, err := store.Get(ctx, "sha256:old")
	assert.ErrorIs(t, err, approval.ErrNotFound, "stale pending approvals must not authorize")
}

func TestMemoryStoreListPendingOnly(t *testing.T) {
	ctx := context.Background()
	store := approval.NewMemoryStore()

	now := time.Now().UTC()
	require.NoError(t, store.Put(ctx, &approval.Record{Fingerprint: "sha256:b", RequestedBy: "a1", RequestedAt: now.Add(time.Minute)}))
	require.NoError(t, store.Put(ctx, &approval.Record{Fingerprint: "sha256:a", RequestedBy: "a1", RequestedAt: now}))
	require.NoError(t, store.Put(ctx, &approval.Record{Fingerprint: "sha256:c", RequestedBy: "a1", RequestedAt: now, Consumed: true}))

	pending, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "sha256:a", pending[0].Fingerprint, "oldest request first")
	assert.Equal(t, "sha256:b", pending[1].Fingerprint)
}
