// Package ledger persists per-task run state shared by every shard. It is the
// single source of truth for completion: runners never trust an output file
// alone, since a crashed render can leave a partial artifact behind.
//
// All mutations are conditional. A claim succeeds only from pending,
// failed_retryable, or a stale in_progress record, and it issues a fresh
// claim token. Every later transition must present that token, so a worker
// whose claim was reclaimed after going stale can no longer move the record.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"hdri-render-farm/internal/config"
	"hdri-render-farm/internal/models"
)

var (
	// ErrClaimConflict means another worker holds the task. Expected under
	// concurrency and never fatal; the runner skips the task.
	ErrClaimConflict = errors.New("task is claimed by another worker")

	// ErrNotClaimOwner means the presented claim token no longer matches,
	// i.e. the claim went stale and was taken over.
	ErrNotClaimOwner = errors.New("claim token is no longer the owner")
)

// Ledger is the shared run-state store. Implementations must make Claim and
// the token-checked transitions atomic across processes.
type Ledger interface {
	// Get fetches the record for a task, reporting whether one exists.
	Get(ctx context.Context, taskID string) (models.RunRecord, bool, error)

	// Claim conditionally transitions a task to in_progress for workerID and
	// returns the claim token. Returns ErrClaimConflict if the task is done,
	// terminally failed, or held by a live claim.
	Claim(ctx context.Context, taskID, workerID string) (string, error)

	// Heartbeat refreshes the claim's liveness. Returns ErrNotClaimOwner if
	// the token lost ownership.
	Heartbeat(ctx context.Context, taskID, token string) error

	// MarkDone transitions in_progress to done. Token-fenced.
	MarkDone(ctx context.Context, taskID, token string) error

	// MarkFailed records a failed attempt, transitioning to failed_retryable
	// or, once attempts reach the configured maximum, failed_terminal.
	// Token-fenced. Reports whether the failure is terminal.
	MarkFailed(ctx context.Context, taskID, token, reason string) (terminal bool, err error)

	// Failed lists terminally failed records for operator follow-up.
	Failed(ctx context.Context) ([]models.RunRecord, error)

	// Requeue resets a terminally failed record to pending so a later run
	// picks it up again.
	Requeue(ctx context.Context, taskID string) error

	Close()
}

// New builds the ledger selected by configuration.
func New(ctx context.Context, cfg config.Config) (Ledger, error) {
	switch cfg.LedgerBackend {
	case "redis", "":
		return NewRedis(cfg), nil
	case "postgres":
		return NewPostgres(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.LedgerBackend)
	}
}
