package ledger

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"hdri-render-farm/internal/config"
	"hdri-render-farm/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// PostgresLedger keeps run records in a shared database for clusters that
// have Postgres but no Redis. Conditional transitions rely on single UPDATE
// statements with status/token predicates; RowsAffected distinguishes a won
// claim from a lost race.
type PostgresLedger struct {
	pool        *pgxpool.Pool
	staleAfter  time.Duration
	maxAttempts int
}

// NewPostgres connects and applies the schema.
func NewPostgres(ctx context.Context, cfg config.Config) (*PostgresLedger, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	l := &PostgresLedger{pool: pool, staleAfter: cfg.StaleAfter, maxAttempts: cfg.MaxAttempts}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply ledger schema: %w", err)
	}
	return l, nil
}

func (l *PostgresLedger) Close() {
	if l.pool != nil {
		l.pool.Close()
	}
}

func (l *PostgresLedger) Get(ctx context.Context, taskID string) (models.RunRecord, bool, error) {
	row := l.pool.QueryRow(ctx, `
		SELECT task_id, status, attempts, worker_id, claim_token, reason, heartbeat_at, created_at, updated_at
		FROM run_records WHERE task_id = $1
	`, taskID)
	var rec models.RunRecord
	err := row.Scan(&rec.TaskID, &rec.Status, &rec.Attempts, &rec.WorkerID, &rec.ClaimToken,
		&rec.Reason, &rec.HeartbeatAt, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.RunRecord{}, false, nil
	}
	if err != nil {
		return models.RunRecord{}, false, fmt.Errorf("scan run record: %w", err)
	}
	return rec, true, nil
}

func (l *PostgresLedger) Claim(ctx context.Context, taskID, workerID string) (string, error) {
	// Ensure a row exists so the conditional UPDATE has something to hit.
	// ON CONFLICT DO NOTHING keeps concurrent first-claims safe.
	_, err := l.pool.Exec(ctx, `
		INSERT INTO run_records (task_id, status) VALUES ($1, $2)
		ON CONFLICT (task_id) DO NOTHING
	`, taskID, models.StatusPending)
	if err != nil {
		return "", fmt.Errorf("insert pending record: %w", err)
	}

	token := uuid.New().String()
	staleBefore := time.Now().Add(-l.staleAfter)
	tag, err := l.pool.Exec(ctx, `
		UPDATE run_records
		SET status = $3, worker_id = $4, claim_token = $5, reason = '',
		    heartbeat_at = NOW(), updated_at = NOW()
		WHERE task_id = $1
		  AND (status IN ($2, $6) OR (status = $3 AND heartbeat_at < $7))
	`, taskID, models.StatusPending, models.StatusInProgress, workerID, token,
		models.StatusFailedRetry, staleBefore)
	if err != nil {
		return "", fmt.Errorf("claim %s: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return "", ErrClaimConflict
	}
	return token, nil
}

func (l *PostgresLedger) Heartbeat(ctx context.Context, taskID, token string) error {
	tag, err := l.pool.Exec(ctx, `
		UPDATE run_records SET heartbeat_at = NOW(), updated_at = NOW()
		WHERE task_id = $1 AND claim_token = $2 AND status = $3
	`, taskID, token, models.StatusInProgress)
	if err != nil {
		return fmt.Errorf("heartbeat %s: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotClaimOwner
	}
	return nil
}

func (l *PostgresLedger) MarkDone(ctx context.Context, taskID, token string) error {
	tag, err := l.pool.Exec(ctx, `
		UPDATE run_records
		SET status = $3, claim_token = '', reason = '', updated_at = NOW()
		WHERE task_id = $1 AND claim_token = $2 AND status = $4
	`, taskID, token, models.StatusDone, models.StatusInProgress)
	if err != nil {
		return fmt.Errorf("mark done %s: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotClaimOwner
	}
	return nil
}

func (l *PostgresLedger) MarkFailed(ctx context.Context, taskID, token, reason string) (bool, error) {
	row := l.pool.QueryRow(ctx, `
		UPDATE run_records
		SET attempts = attempts + 1,
		    status = CASE WHEN attempts + 1 >= $5 THEN $6 ELSE $7 END,
		    claim_token = '', reason = $3, updated_at = NOW()
		WHERE task_id = $1 AND claim_token = $2 AND status = $4
		RETURNING status
	`, taskID, token, reason, models.StatusInProgress, l.maxAttempts,
		models.StatusFailedTerminal, models.StatusFailedRetry)
	var status string
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrNotClaimOwner
		}
		return false, fmt.Errorf("mark failed %s: %w", taskID, err)
	}
	return status == models.StatusFailedTerminal, nil
}

func (l *PostgresLedger) Failed(ctx context.Context) ([]models.RunRecord, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT task_id, status, attempts, worker_id, claim_token, reason, heartbeat_at, created_at, updated_at
		FROM run_records WHERE status = $1 ORDER BY updated_at
	`, models.StatusFailedTerminal)
	if err != nil {
		return nil, fmt.Errorf("list terminal tasks: %w", err)
	}
	defer rows.Close()
	var records []models.RunRecord
	for rows.Next() {
		var rec models.RunRecord
		if err := rows.Scan(&rec.TaskID, &rec.Status, &rec.Attempts, &rec.WorkerID, &rec.ClaimToken,
			&rec.Reason, &rec.HeartbeatAt, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan run record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (l *PostgresLedger) Requeue(ctx context.Context, taskID string) error {
	tag, err := l.pool.Exec(ctx, `
		UPDATE run_records
		SET status = $2, attempts = 0, reason = '', claim_token = '', updated_at = NOW()
		WHERE task_id = $1 AND status = $3
	`, taskID, models.StatusPending, models.StatusFailedTerminal)
	if err != nil {
		return fmt.Errorf("requeue %s: %w", taskID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("requeue %s: record is not terminally failed", taskID)
	}
	return nil
}
