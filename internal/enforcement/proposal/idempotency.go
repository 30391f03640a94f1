package proposal

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"aegis/internal/enforcement/models"
)

// DefaultDedupWindow is the idempotency bucket width. Triggers for the
// same session, action, and risk bucket inside one window collapse to a
// single proposal. Best-effort: events straddling a bucket boundary may
// produce two proposals, which the active-duplicate scan then catches.
const DefaultDedupWindow = 5 * time.Minute

// DedupKey derives the deterministic idempotency fingerprint for a
// candidate action.
func DedupKey(sessionID string, action models.Action, riskScore int, now time.Time, window time.Duration) string {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	bucket := now.Unix() / int64(window.Seconds())
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%d|%d", sessionID, action, riskScore, bucket))
	return hex.EncodeToString(sum[:])
}

// IsRetrySafe reports whether a proposal in the given status may be
// retried under the same dedup key. Only FAILED qualifies: everything
// else is either still in flight or deliberately settled.
func IsRetrySafe(status models.ProposalStatus) bool {
	return status == models.StatusFailed
}
