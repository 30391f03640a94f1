package proposal

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/internal/enforcement/models"
	"aegis/pkg/domerrors"
)

func newProposal(status models.ProposalStatus, now time.Time) models.Proposal {
	return models.Proposal{
		ID:        uuid.NewString(),
		SessionID: "sess-1",
		UserID:    "user-1",
		TenantID:  "tenant-1",
		Action:    models.ActionCaptchaChallenge,
		RiskScore: 85,
		DedupHash: DedupKey("sess-1", models.ActionCaptchaChallenge, 85, now, DefaultDedupWindow),
		Status:    status,
		CreatedAt: now,
		ExpiresAt: now.Add(15 * time.Minute),
	}
}

func TestMemoryStoreRegisterDedup(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(WithClock(func() time.Time { return now }))

	first := newProposal(models.StatusCreated, now)
	got, created, err := store.Register(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, first.ID, got.ID)

	// Same dedup hash while the first is active: resolve to the holder.
	dup := newProposal(models.StatusCreated, now)
	got, created, err = store.Register(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, got.ID)
}

func TestMemoryStoreRegisterAfterFailure(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(WithClock(func() time.Time { return now }))

	first := newProposal(models.StatusCreated, now)
	_, _, err := store.Register(ctx, first)
	require.NoError(t, err)

	for _, to := range []models.ProposalStatus{
		models.StatusPending, models.StatusApproved, models.StatusExecuting, models.StatusFailed,
	} {
		_, err = store.Transition(ctx, first.ID, to, nil)
		require.NoError(t, err)
	}

	// A FAILED holder releases the slot for a retry.
	retry := newProposal(models.StatusCreated, now)
	got, created, err := store.Register(ctx, retry)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, retry.ID, got.ID)
}

func TestMemoryStoreSettledHolderKeepsSlot(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(WithClock(func() time.Time { return now }))

	first := newProposal(models.StatusCreated, now)
	_, _, err := store.Register(ctx, first)
	require.NoError(t, err)
	_, err = store.Transition(ctx, first.ID, models.StatusPending, nil)
	require.NoError(t, err)
	_, err = store.Transition(ctx, first.ID, models.StatusRejected, func(p *models.Proposal) {
		p.ApprovedBy = "admin-1"
	})
	require.NoError(t, err)

	// REJECTED is settled but not retry-safe; re-registration resolves
	// to it instead of creating a new proposal.
	dup := newProposal(models.StatusCreated, now)
	got, created, err := store.Register(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, models.StatusRejected, got.Status)
}

func TestMemoryStoreTransitionValidation(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(WithClock(func() time.Time { return now }))

	p := newProposal(models.StatusCreated, now)
	_, _, err := store.Register(ctx, p)
	require.NoError(t, err)

	_, err = store.Transition(ctx, p.ID, models.StatusCompleted, nil)
	require.Error(t, err)
	assert.True(t, domerrors.HasCode(err, domerrors.CodeIllegalTransition))

	// The failed transition must not have moved the record.
	got, err := store.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCreated, got.Status)

	_, err = store.Transition(ctx, "no-such-id", models.StatusPending, nil)
	assert.True(t, domerrors.HasCode(err, domerrors.CodeNotFound))
}

func TestMemoryStoreTransitionMutate(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(WithClock(func() time.Time { return now }))

	p := newProposal(models.StatusCreated, now)
	_, _, err := store.Register(ctx, p)
	require.NoError(t, err)
	_, err = store.Transition(ctx, p.ID, models.StatusPending, nil)
	require.NoError(t, err)

	got, err := store.Transition(ctx, p.ID, models.StatusApproved, func(p *models.Proposal) {
		p.ApprovedBy = "admin-7"
		p.ApproverRole = models.RoleAdmin
		p.Justification = "confirmed credential stuffing"
		p.ApprovedAt = now
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, got.Status)
	assert.Equal(t, "admin-7", got.ApprovedBy)

	stored, err := store.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, got, stored)
}

func TestMemoryStoreFindActive(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(WithClock(func() time.Time { return now }))

	p := newProposal(models.StatusCreated, now)
	_, _, err := store.Register(ctx, p)
	require.NoError(t, err)

	got, found, err := store.FindActive(ctx, "sess-1", models.ActionCaptchaChallenge)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, p.ID, got.ID)

	_, found, err = store.FindActive(ctx, "sess-1", models.ActionRateLimit)
	require.NoError(t, err)
	assert.False(t, found)

	_, err = store.Transition(ctx, p.ID, models.StatusExpired, nil)
	require.NoError(t, err)
	_, found, err = store.FindActive(ctx, "sess-1", models.ActionCaptchaChallenge)
	require.NoError(t, err)
	assert.False(t, found, "terminal proposals are not active")
}

func TestMemoryStoreExpireOverdue(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore(WithClock(func() time.Time { return now }))

	created := newProposal(models.StatusCreated, now)
	created.DedupHash = "hash-created"
	_, _, err := store.Register(ctx, created)
	require.NoError(t, err)

	executing := newProposal(models.StatusCreated, now)
	executing.DedupHash = "hash-executing"
	_, _, err = store.Register(ctx, executing)
	require.NoError(t, err)
	for _, to := range []models.ProposalStatus{models.StatusPending, models.StatusApproved, models.StatusExecuting} {
		_, err = store.Transition(ctx, executing.ID, to, nil)
		require.NoError(t, err)
	}

	expired, err := store.ExpireOverdue(ctx, now.Add(20*time.Minute))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, created.ID, expired[0].ID)
	assert.Equal(t, models.StatusExpired, expired[0].Status)

	// In-flight work is never expired out from under the executor.
	got, err := store.Get(ctx, executing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExecuting, got.Status)
}

func TestMemoryStoreDedupIndexCleanup(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	store := NewMemoryStore(
		WithClock(func() time.Time { return clock }),
		WithDedupCleanup(time.Hour),
	)

	p := newProposal(models.StatusCreated, now)
	_, _, err := store.Register(ctx, p)
	require.NoError(t, err)
	_, err = store.Transition(ctx, p.ID, models.StatusPending, nil)
	require.NoError(t, err)
	_, err = store.Transition(ctx, p.ID, models.StatusRejected, nil)
	require.NoError(t, err)

	// Two hours later the settled holder's index entry has aged out and
	// the same dedup hash may be claimed again.
	clock = now.Add(2 * time.Hour)
	fresh := newProposal(models.StatusCreated, now)
	got, created, err := store.Register(ctx, fresh)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, fresh.ID, got.ID)
}
