package models

import (
	"time"
)

// Run record statuses persisted in the ledger.
const (
	StatusPending        = "pending"
	StatusInProgress     = "in_progress"
	StatusDone           = "done"
	StatusFailedRetry    = "failed_retryable"
	StatusFailedTerminal = "failed_terminal"
)

// RunRecord is the per-task execution state shared across shards. The claim
// token fences mutations: once a task is reclaimed, the previous owner's
// token no longer matches and its transitions are rejected.
type RunRecord struct {
	TaskID      string    `json:"task_id"`
	Status      string    `json:"status"`
	Attempts    int       `json:"attempts"`
	WorkerID    string    `json:"worker_id,omitempty"`
	ClaimToken  string    `json:"claim_token,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	HeartbeatAt time.Time `json:"heartbeat_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Disposition is the completion tracker's verdict for a task.
type Disposition int

const (
	// NeedsRun: no record, or a pending record nobody has claimed.
	NeedsRun Disposition = iota
	// AlreadyDone: the record is done; the runner must not touch the task.
	AlreadyDone
	// RetryableFailure: failed below the attempt limit, eligible for re-claim.
	RetryableFailure
	// AbandonedInProgress: in_progress but the heartbeat went stale, so the
	// owning worker is presumed dead and the task is eligible for re-claim.
	AbandonedInProgress
	// TerminalFailure: attempts exhausted; absorbing state.
	TerminalFailure
	// HeldInProgress: another worker holds a live claim; skip it.
	HeldInProgress
)

func (d Disposition) String() string {
	switch d {
	case NeedsRun:
		return "needs-run"
	case AlreadyDone:
		return "already-done"
	case RetryableFailure:
		return "retryable-failure"
	case AbandonedInProgress:
		return "abandoned-in-progress"
	case TerminalFailure:
		return "terminal-failure"
	case HeldInProgress:
		return "held-in-progress"
	default:
		return "unknown"
	}
}

// Runnable reports whether the runner should attempt to claim the task.
func (d Disposition) Runnable() bool {
	return d == NeedsRun || d == RetryableFailure || d == AbandonedInProgress
}
