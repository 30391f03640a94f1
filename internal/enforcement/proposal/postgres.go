package proposal

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"aegis/internal/enforcement/models"
	"aegis/pkg/domerrors"
)

// Schema is the proposal table DDL. The partial unique index enforces the
// dedup invariant at the database level: at most one active proposal per
// dedup hash, regardless of how many application instances race.
const Schema = `
CREATE TABLE IF NOT EXISTS enforcement_proposals (
    id              TEXT PRIMARY KEY,
    session_id      TEXT NOT NULL,
    user_id         TEXT NOT NULL,
    tenant_id       TEXT NOT NULL,
    action          TEXT NOT NULL,
    risk_score      INT NOT NULL,
    dedup_hash      TEXT NOT NULL,
    incident_id     TEXT NOT NULL DEFAULT '',
    status          TEXT NOT NULL,
    severity        TEXT NOT NULL DEFAULT '',
    required_approval TEXT NOT NULL DEFAULT '',
    failure_reason  TEXT NOT NULL DEFAULT '',
    first_approver  TEXT NOT NULL DEFAULT '',
    approved_by     TEXT NOT NULL DEFAULT '',
    approver_role   TEXT NOT NULL DEFAULT '',
    justification   TEXT NOT NULL DEFAULT '',
    approved_at     TIMESTAMPTZ,
    executed_at     TIMESTAMPTZ,
    created_at      TIMESTAMPTZ NOT NULL,
    expires_at      TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS enforcement_proposals_active_dedup
    ON enforcement_proposals (dedup_hash)
    WHERE status IN ('CREATED', 'PENDING', 'APPROVED', 'EXECUTING');

CREATE INDEX IF NOT EXISTS enforcement_proposals_session
    ON enforcement_proposals (session_id, action);

CREATE INDEX IF NOT EXISTS enforcement_proposals_dedup
    ON enforcement_proposals (dedup_hash);
`

const proposalColumns = `id, session_id, user_id, tenant_id, action, risk_score,
    dedup_hash, incident_id, status, severity, required_approval, failure_reason,
    first_approver, approved_by, approver_role, justification, approved_at,
    executed_at, created_at, expires_at`

// PostgresStore persists proposals in Postgres. Transitions run in a
// transaction with a row lock so validation and update are atomic across
// instances.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool. The caller owns the pool's
// lifecycle and is expected to have applied Schema.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Register(ctx context.Context, p models.Proposal) (models.Proposal, bool, error) {
	// The partial index only guards active statuses, but a settled
	// non-retryable holder (COMPLETED, REJECTED, ...) keeps its dedup
	// slot for the rest of the window; only FAILED reopens it.
	holder, err := s.scanOne(ctx, `
        SELECT `+proposalColumns+` FROM enforcement_proposals
        WHERE dedup_hash = $1 AND status <> 'FAILED'
        ORDER BY created_at DESC LIMIT 1`, p.DedupHash)
	if err == nil {
		return holder, false, nil
	}
	if !domerrors.HasCode(err, domerrors.CodeNotFound) {
		return models.Proposal{}, false, err
	}

	_, err = s.pool.Exec(ctx, `
        INSERT INTO enforcement_proposals (`+proposalColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		p.ID, p.SessionID, p.UserID, p.TenantID, string(p.Action), p.RiskScore,
		p.DedupHash, p.IncidentID, string(p.Status), string(p.Severity),
		string(p.RequiredApproval), p.FailureReason, p.FirstApprover,
		p.ApprovedBy, string(p.ApproverRole), p.Justification,
		nullTime(p.ApprovedAt), nullTime(p.ExecutedAt), p.CreatedAt, p.ExpiresAt)
	if err == nil {
		return p, true, nil
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return models.Proposal{}, false, domerrors.Wrap(domerrors.CodeUnavailable, "register proposal", err)
	}

	// An active proposal won the insert race and holds the dedup slot;
	// hand it back.
	holder, err = s.scanOne(ctx, `
        SELECT `+proposalColumns+` FROM enforcement_proposals
        WHERE dedup_hash = $1 AND status IN ('CREATED', 'PENDING', 'APPROVED', 'EXECUTING')`,
		p.DedupHash)
	if err != nil {
		return models.Proposal{}, false, err
	}
	return holder, false, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (models.Proposal, error) {
	return s.scanOne(ctx, `
        SELECT `+proposalColumns+` FROM enforcement_proposals WHERE id = $1`, id)
}

func (s *PostgresStore) Transition(ctx context.Context, id string, to models.ProposalStatus, mutate func(*models.Proposal)) (models.Proposal, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Proposal{}, domerrors.Wrap(domerrors.CodeUnavailable, "begin transition", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
        SELECT `+proposalColumns+` FROM enforcement_proposals
        WHERE id = $1 FOR UPDATE`, id)
	p, err := scanProposal(row)
	if err != nil {
		return models.Proposal{}, err
	}
	if err := ValidateTransition(p.Status, to); err != nil {
		return models.Proposal{}, err
	}

	from := p.Status
	p.Status = to
	if mutate != nil {
		mutate(&p)
	}

	tag, err := tx.Exec(ctx, `
        UPDATE enforcement_proposals SET
            status = $1, failure_reason = $2, first_approver = $3, approved_by = $4,
            approver_role = $5, justification = $6, approved_at = $7, executed_at = $8
        WHERE id = $9 AND status = $10`,
		string(p.Status), p.FailureReason, p.FirstApprover, p.ApprovedBy,
		string(p.ApproverRole), p.Justification, nullTime(p.ApprovedAt),
		nullTime(p.ExecutedAt), id, string(from))
	if err != nil {
		return models.Proposal{}, domerrors.Wrap(domerrors.CodeUnavailable, "apply transition", err)
	}
	if tag.RowsAffected() == 0 {
		return models.Proposal{}, domerrors.Newf(domerrors.CodeConflict,
			"proposal %s changed concurrently", id)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Proposal{}, domerrors.Wrap(domerrors.CodeUnavailable, "commit transition", err)
	}
	return p, nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, mutate func(*models.Proposal)) (models.Proposal, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Proposal{}, domerrors.Wrap(domerrors.CodeUnavailable, "begin update", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
        SELECT `+proposalColumns+` FROM enforcement_proposals
        WHERE id = $1 FOR UPDATE`, id)
	p, err := scanProposal(row)
	if err != nil {
		return models.Proposal{}, err
	}

	status := p.Status
	if mutate != nil {
		mutate(&p)
	}
	p.Status = status

	_, err = tx.Exec(ctx, `
        UPDATE enforcement_proposals SET
            failure_reason = $1, first_approver = $2, approved_by = $3,
            approver_role = $4, justification = $5, approved_at = $6, executed_at = $7
        WHERE id = $8`,
		p.FailureReason, p.FirstApprover, p.ApprovedBy, string(p.ApproverRole),
		p.Justification, nullTime(p.ApprovedAt), nullTime(p.ExecutedAt), id)
	if err != nil {
		return models.Proposal{}, domerrors.Wrap(domerrors.CodeUnavailable, "apply update", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return models.Proposal{}, domerrors.Wrap(domerrors.CodeUnavailable, "commit update", err)
	}
	return p, nil
}

func (s *PostgresStore) FindActive(ctx context.Context, sessionID string, action models.Action) (models.Proposal, bool, error) {
	p, err := s.scanOne(ctx, `
        SELECT `+proposalColumns+` FROM enforcement_proposals
        WHERE session_id = $1 AND action = $2
          AND status IN ('CREATED', 'PENDING', 'APPROVED', 'EXECUTING')
        LIMIT 1`, sessionID, string(action))
	if err != nil {
		if domerrors.HasCode(err, domerrors.CodeNotFound) {
			return models.Proposal{}, false, nil
		}
		return models.Proposal{}, false, err
	}
	return p, true, nil
}

func (s *PostgresStore) ExpireOverdue(ctx context.Context, now time.Time) ([]models.Proposal, error) {
	rows, err := s.pool.Query(ctx, `
        UPDATE enforcement_proposals SET status = 'EXPIRED'
        WHERE expires_at <= $1 AND status IN ('CREATED', 'PENDING', 'APPROVED')
        RETURNING `+proposalColumns, now)
	if err != nil {
		return nil, domerrors.Wrap(domerrors.CodeUnavailable, "expire proposals", err)
	}
	defer rows.Close()

	var expired []models.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		expired = append(expired, p)
	}
	return expired, rows.Err()
}

func (s *PostgresStore) scanOne(ctx context.Context, query string, args ...any) (models.Proposal, error) {
	return scanProposal(s.pool.QueryRow(ctx, query, args...))
}

func scanProposal(row pgx.Row) (models.Proposal, error) {
	var (
		p          models.Proposal
		action     string
		status     string
		severity   string
		approval   string
		role       string
		approvedAt *time.Time
		executedAt *time.Time
	)
	err := row.Scan(&p.ID, &p.SessionID, &p.UserID, &p.TenantID, &action, &p.RiskScore,
		&p.DedupHash, &p.IncidentID, &status, &severity, &approval, &p.FailureReason,
		&p.FirstApprover, &p.ApprovedBy, &role, &p.Justification, &approvedAt,
		&executedAt, &p.CreatedAt, &p.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Proposal{}, domerrors.New(domerrors.CodeNotFound, "proposal not found")
	}
	if err != nil {
		return models.Proposal{}, domerrors.Wrap(domerrors.CodeUnavailable, "scan proposal", err)
	}
	p.Action = models.Action(action)
	p.Status = models.ProposalStatus(status)
	p.Severity = models.Severity(severity)
	p.RequiredApproval = models.ApprovalLevel(approval)
	p.ApproverRole = models.Role(role)
	if approvedAt != nil {
		p.ApprovedAt = *approvedAt
	}
	if executedAt != nil {
		p.ExecutedAt = *executedAt
	}
	return p, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
