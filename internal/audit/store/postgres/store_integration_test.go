//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/internal/audit"
	"aegis/pkg/testutil/containers"
)

func newPostgresStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()

	pg := containers.NewPostgresContainer(t)

	db, err := sql.Open("postgres", pg.DSN)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.ExecContext(context.Background(), Schema)
	require.NoError(t, err)

	return New(db), db
}

func testEntry(action, requestID string) audit.Entry {
	return audit.Entry{
		Actor:     "system",
		Role:      "system",
		TenantID:  "tenant-1",
		RequestID: requestID,
		Action:    action,
		Details:   map[string]string{"proposal_id": "prop-1"},
	}
}

func TestPostgresLedgerChainSurvivesRoundTrip(t *testing.T) {
	store, _ := newPostgresStore(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledger := audit.NewLedger(store, log)
	ctx := context.Background()

	first, err := ledger.Append(ctx, testEntry(audit.ActionProposalCreated, "sess-1"))
	require.NoError(t, err)
	second, err := ledger.Append(ctx, testEntry(audit.ActionProposalApproved, "sess-1"))
	require.NoError(t, err)
	_, err = ledger.Append(ctx, testEntry(audit.ActionProposalCreated, "sess-2"))
	require.NoError(t, err)

	assert.Equal(t, first.Hash, second.PrevHash)

	valid, err := ledger.VerifyChain(ctx)
	require.NoError(t, err)
	assert.True(t, valid)

	latest, ok, err := store.Latest(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, audit.ActionProposalCreated, latest.Action)

	bySession, err := ledger.ListByRequestID(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, bySession, 2)
	assert.Equal(t, "prop-1", bySession[0].Details["proposal_id"])
}

func TestPostgresLedgerRejectsRewrites(t *testing.T) {
	store, db := newPostgresStore(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledger := audit.NewLedger(store, log)
	ctx := context.Background()

	entry, err := ledger.Append(ctx, testEntry(audit.ActionProposalCreated, "sess-1"))
	require.NoError(t, err)

	// The immutability trigger aborts UPDATE and DELETE even from raw SQL.
	_, err = db.ExecContext(ctx, `UPDATE audit_entries SET actor = 'mallory' WHERE id = $1`, entry.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	_, err = db.ExecContext(ctx, `DELETE FROM audit_entries WHERE id = $1`, entry.ID)
	require.Error(t, err)

	valid, err := ledger.VerifyChain(ctx)
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestPostgresLedgerDetectsOutOfBandInsert(t *testing.T) {
	store, db := newPostgresStore(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledger := audit.NewLedger(store, log)
	ctx := context.Background()

	_, err := ledger.Append(ctx, testEntry(audit.ActionProposalCreated, "sess-1"))
	require.NoError(t, err)

	// An entry forged outside the ledger breaks chain verification: its
	// prev_hash does not continue the chain tip.
	_, err = db.ExecContext(ctx, `
        INSERT INTO audit_entries (id, prev_hash, hash, actor, role, tenant_id, action, details, created_at)
        VALUES (gen_random_uuid(), 'forged-prev', 'forged-hash', 'mallory', 'admin', 'tenant-1', 'PROPOSAL_APPROVED', '{}', now())`)
	require.NoError(t, err)

	valid, err := ledger.VerifyChain(ctx)
	require.NoError(t, err)
	assert.False(t, valid)
}
