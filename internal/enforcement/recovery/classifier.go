// Package recovery turns failed enforcement into something actionable:
// it classifies what went wrong, plans remediation, and gates who may
// roll a landed action back.
package recovery

import (
	"context"
	"errors"
	"strings"

	"aegis/internal/enforcement/models"
)

// error substrings per failure kind, checked in order. Pattern matching
// on error text is crude but it is the only signal generic executors
// give us; typed errors from well-behaved executors are matched first.
var (
	timeoutPatterns  = []string{"timeout", "timed out", "deadline exceeded"}
	networkPatterns  = []string{"connection", "network", "refused", "unreachable", "no such host", "broken pipe", "reset by peer"}
	rollbackPatterns = []string{"rollback", "roll back", "compensat"}
)

// ClassifyError maps an executor error to a failure kind.
func ClassifyError(err error) models.FailureKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return models.FailureTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case matchesAny(msg, timeoutPatterns):
		return models.FailureTimeout
	case matchesAny(msg, networkPatterns):
		return models.FailureDependency
	case matchesAny(msg, rollbackPatterns):
		return models.FailureRollback
	}
	return models.FailureAction
}

// ClassifyResult maps a non-success executor result to a failure kind.
func ClassifyResult(result models.ExecutionResult) models.FailureKind {
	if result.Partial() {
		return models.FailurePartialExecution
	}
	return models.FailureAction
}

func matchesAny(msg string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
