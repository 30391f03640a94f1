package recovery

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/internal/enforcement/models"
	"aegis/pkg/domerrors"
)

func TestClassifyError(t *testing.T) {
	cases := []struct {
		err  error
		want models.FailureKind
	}{
		{context.DeadlineExceeded, models.FailureTimeout},
		{fmt.Errorf("execute: %w", context.DeadlineExceeded), models.FailureTimeout},
		{errors.New("operation timed out after 10s"), models.FailureTimeout},
		{errors.New("dial tcp: connection refused"), models.FailureDependency},
		{errors.New("network is unreachable"), models.FailureDependency},
		{errors.New("read: connection reset by peer"), models.FailureDependency},
		{errors.New("rollback of ip block failed"), models.FailureRollback},
		{errors.New("compensating action rejected"), models.FailureRollback},
		{errors.New("target rejected the request"), models.FailureAction},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ClassifyError(tc.err), "error %q", tc.err)
	}
}

func TestClassifyResult(t *testing.T) {
	partial := models.ExecutionResult{Metadata: map[string]string{"partial": "2 of 5 hosts"}}
	assert.Equal(t, models.FailurePartialExecution, ClassifyResult(partial))

	plain := models.ExecutionResult{Success: false}
	assert.Equal(t, models.FailureAction, ClassifyResult(plain))
}

func assessed(t *testing.T, threat models.ThreatAssessment) models.AssessedContext {
	t.Helper()
	ctx, err := models.NewRequestContext("trace-1", "sess-1", "user-1", "tenant-1", "203.0.113.9",
		80, models.DecisionRestrict, 30, time.Now(), 5*time.Minute)
	require.NoError(t, err)
	return ctx.Assessed(threat)
}

func TestPlanDependencyFailureRetries(t *testing.T) {
	planner := NewPlanner()
	plan := planner.Plan("inc-1", models.FailureDependency,
		assessed(t, models.ThreatAssessment{Severity: models.SeverityHigh}))

	assert.Equal(t, ReasonExecutionFailure, plan.Reason)
	assert.Equal(t, models.FailureDependency, plan.FailureKind)
	require.NotEmpty(t, plan.Steps)
	assert.True(t, plan.Steps[0].Automated)
	assert.Contains(t, plan.Steps[1].Description, "retry")
	for i, step := range plan.Steps {
		assert.Equal(t, i+1, step.Order)
	}
}

func TestPlanFalsePositiveGoesToVerification(t *testing.T) {
	planner := NewPlanner()
	plan := planner.Plan("inc-2", models.FailureAction,
		assessed(t, models.ThreatAssessment{
			Severity: models.SeverityMedium,
			Tags:     []string{models.TagFalsePositiveRisk},
		}))

	require.NotEmpty(t, plan.Steps)
	assert.Contains(t, plan.Steps[0].Description, "verify")
	assert.False(t, plan.Steps[0].Automated)
}

func TestPlanHighRiskFailureForcesRollback(t *testing.T) {
	planner := NewPlanner()
	plan := planner.Plan("inc-3", models.FailurePartialExecution,
		assessed(t, models.ThreatAssessment{Severity: models.SeverityCritical}))

	require.NotEmpty(t, plan.Steps)
	assert.Contains(t, plan.Steps[0].Description, "roll back")
	assert.Contains(t, plan.Steps[1].Description, "notify")
}

func TestPlanRollbackFailureIsItsOwnReason(t *testing.T) {
	planner := NewPlanner()
	plan := planner.Plan("inc-4", models.FailureRollback,
		assessed(t, models.ThreatAssessment{Severity: models.SeverityHigh}))

	assert.Equal(t, ReasonRollbackFailure, plan.Reason)
	require.NotEmpty(t, plan.Steps)
	assert.False(t, plan.Steps[0].Automated, "a failed rollback is never retried blindly")
}

func TestRollbackAuthorization(t *testing.T) {
	policy := NewRollbackPolicy(time.Hour)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	prop := models.Proposal{
		ID:         "prop-1",
		Status:     models.StatusCompleted,
		ExecutedAt: now.Add(-30 * time.Minute),
	}

	// Admin: always.
	assert.NoError(t, policy.Authorize(prop, models.RoleAdmin, now))
	late := prop
	late.ExecutedAt = now.Add(-48 * time.Hour)
	assert.NoError(t, policy.Authorize(late, models.RoleAdmin, now))

	// Analyst: only inside the window.
	assert.NoError(t, policy.Authorize(prop, models.RoleAnalyst, now))
	err := policy.Authorize(late, models.RoleAnalyst, now)
	require.Error(t, err)
	assert.True(t, domerrors.HasCode(err, domerrors.CodeInsufficientRights))

	// System role never rolls back on its own.
	err = policy.Authorize(prop, models.RoleSystem, now)
	require.Error(t, err)
	assert.True(t, domerrors.HasCode(err, domerrors.CodeInsufficientRights))

	// Never-executed proposals have no analyst window.
	unexecuted := models.Proposal{ID: "prop-2", Status: models.StatusFailed}
	err = policy.Authorize(unexecuted, models.RoleAnalyst, now)
	require.Error(t, err)
	assert.True(t, domerrors.HasCode(err, domerrors.CodeInsufficientRights))
}
