// Package tracker classifies ledger records into run dispositions. It is
// strictly read-only: claiming happens in the runner through the ledger's
// conditional transitions, so there is no check-then-act race here. The
// disposition only decides whether a claim is worth attempting.
package tracker

import (
	"time"

	"hdri-render-farm/internal/models"
)

// Tracker evaluates run records against the staleness threshold.
type Tracker struct {
	staleAfter time.Duration
}

func New(staleAfter time.Duration) *Tracker {
	return &Tracker{staleAfter: staleAfter}
}

// Evaluate returns the disposition for a task given its ledger record.
// found=false means the task has never been observed, which is a plain
// needs-run.
func (t *Tracker) Evaluate(rec models.RunRecord, found bool, now time.Time) models.Disposition {
	if !found {
		return models.NeedsRun
	}
	switch rec.Status {
	case models.StatusDone:
		return models.AlreadyDone
	case models.StatusFailedTerminal:
		return models.TerminalFailure
	case models.StatusFailedRetry:
		return models.RetryableFailure
	case models.StatusInProgress:
		if now.Sub(rec.HeartbeatAt) > t.staleAfter {
			return models.AbandonedInProgress
		}
		return models.HeldInProgress
	default:
		return models.NeedsRun
	}
}
