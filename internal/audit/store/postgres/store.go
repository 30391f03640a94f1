// Package postgres persists the audit ledger in PostgreSQL. The schema
// carries no UPDATE or DELETE path: the store only ever INSERTs, unique
// constraints on id and hash reject overwrites, and the migration
// installs a row-level trigger that aborts UPDATE/DELETE statements so
// immutability holds even against out-of-band SQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"aegis/internal/audit"
)

// Schema is the DDL for the ledger table, including the immutability
// trigger. Applied by the operator's migration tooling.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
    id          UUID PRIMARY KEY,
    prev_hash   TEXT NOT NULL UNIQUE,
    hash        TEXT NOT NULL UNIQUE,
    actor       TEXT NOT NULL,
    role        TEXT NOT NULL,
    platform    TEXT NOT NULL DEFAULT '',
    tenant_id   TEXT NOT NULL,
    request_id  TEXT NOT NULL DEFAULT '',
    action      TEXT NOT NULL,
    incident_id TEXT NOT NULL DEFAULT '',
    details     JSONB NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS audit_entries_request_id_idx ON audit_entries (request_id);

CREATE OR REPLACE FUNCTION audit_entries_immutable() RETURNS trigger AS $$
BEGIN
    RAISE EXCEPTION 'audit_entries is append-only';
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS audit_entries_no_rewrite ON audit_entries;
CREATE TRIGGER audit_entries_no_rewrite
    BEFORE UPDATE OR DELETE ON audit_entries
    FOR EACH ROW EXECUTE FUNCTION audit_entries_immutable();
`

// Store implements audit.Store on database/sql.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append inserts a new ledger entry. Unique-constraint violations map to
// audit.ErrImmutable.
func (s *Store) Append(ctx context.Context, entry audit.Entry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("marshal entry details: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_entries
		(id, prev_hash, hash, actor, role, platform, tenant_id, request_id, action, incident_id, details, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, entry.ID, entry.PrevHash, entry.Hash, entry.Actor, entry.Role, entry.Platform,
		entry.TenantID, entry.RequestID, entry.Action, entry.IncidentID, details, entry.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return audit.ErrImmutable
		}
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Latest returns the most recently created entry.
func (s *Store) Latest(ctx context.Context) (audit.Entry, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, prev_hash, hash, actor, role, platform, tenant_id, request_id, action, incident_id, details, created_at
		FROM audit_entries ORDER BY created_at DESC, id DESC LIMIT 1
	`)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return audit.Entry{}, false, nil
	}
	if err != nil {
		return audit.Entry{}, false, fmt.Errorf("query latest audit entry: %w", err)
	}
	return entry, true, nil
}

// All returns every entry. Chain order is reconstructed by the verifier,
// not assumed here.
func (s *Store) All(ctx context.Context) ([]audit.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, prev_hash, hash, actor, role, platform, tenant_id, request_id, action, incident_id, details, created_at
		FROM audit_entries
	`)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

// ListByRequestID returns entries correlated to one request.
func (s *Store) ListByRequestID(ctx context.Context, requestID string) ([]audit.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, prev_hash, hash, actor, role, platform, tenant_id, request_id, action, incident_id, details, created_at
		FROM audit_entries WHERE request_id = $1 ORDER BY created_at
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("query audit entries by request: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (audit.Entry, error) {
	var entry audit.Entry
	var details []byte
	if err := row.Scan(&entry.ID, &entry.PrevHash, &entry.Hash, &entry.Actor, &entry.Role,
		&entry.Platform, &entry.TenantID, &entry.RequestID, &entry.Action, &entry.IncidentID,
		&details, &entry.CreatedAt); err != nil {
		return audit.Entry{}, err
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &entry.Details); err != nil {
			return audit.Entry{}, fmt.Errorf("unmarshal entry details: %w", err)
		}
	}
	return entry, nil
}

func collect(rows *sql.Rows) ([]audit.Entry, error) {
	var out []audit.Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}
