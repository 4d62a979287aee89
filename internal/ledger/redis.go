package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"hdri-render-farm/internal/config"
	"hdri-render-farm/internal/models"
)

const (
	taskKeyPrefix = "ledger:task:"
	terminalKey   = "ledger:terminal"
)

// RedisLedger stores one hash per task and performs every transition inside a
// Lua script, so check-and-set is atomic on the server even with shards on
// different machines.
type RedisLedger struct {
	client      *redis.Client
	staleAfter  time.Duration
	maxAttempts int
}

// NewRedis builds a ledger from config.
func NewRedis(cfg config.Config) *RedisLedger {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return NewRedisWithClient(client, cfg.StaleAfter, cfg.MaxAttempts)
}

// NewRedisWithClient wraps an existing client; used by tests.
func NewRedisWithClient(client *redis.Client, staleAfter time.Duration, maxAttempts int) *RedisLedger {
	if staleAfter == 0 {
		staleAfter = 10 * time.Minute
	}
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	return &RedisLedger{client: client, staleAfter: staleAfter, maxAttempts: maxAttempts}
}

func (l *RedisLedger) Close() {
	_ = l.client.Close()
}

func taskKey(taskID string) string {
	return taskKeyPrefix + taskID
}

func (l *RedisLedger) Get(ctx context.Context, taskID string) (models.RunRecord, bool, error) {
	fields, err := l.client.HGetAll(ctx, taskKey(taskID)).Result()
	if err != nil {
		return models.RunRecord{}, false, fmt.Errorf("get run record: %w", err)
	}
	if len(fields) == 0 {
		return models.RunRecord{}, false, nil
	}
	return recordFromHash(taskID, fields), true, nil
}

func (l *RedisLedger) Claim(ctx context.Context, taskID, workerID string) (string, error) {
	token := uuid.New().String()
	now := time.Now()
	staleBefore := now.Add(-l.staleAfter)
	res, err := claimScript.Run(ctx, l.client, []string{taskKey(taskID)},
		now.UnixMilli(), staleBefore.UnixMilli(), workerID, token).Result()
	if err != nil {
		return "", fmt.Errorf("claim %s: %w", taskID, err)
	}
	if asInt(res) != 1 {
		return "", ErrClaimConflict
	}
	return token, nil
}

func (l *RedisLedger) Heartbeat(ctx context.Context, taskID, token string) error {
	res, err := heartbeatScript.Run(ctx, l.client, []string{taskKey(taskID)},
		time.Now().UnixMilli(), token).Result()
	if err != nil {
		return fmt.Errorf("heartbeat %s: %w", taskID, err)
	}
	if asInt(res) != 1 {
		return ErrNotClaimOwner
	}
	return nil
}

func (l *RedisLedger) MarkDone(ctx context.Context, taskID, token string) error {
	res, err := doneScript.Run(ctx, l.client, []string{taskKey(taskID)},
		time.Now().UnixMilli(), token).Result()
	if err != nil {
		return fmt.Errorf("mark done %s: %w", taskID, err)
	}
	if asInt(res) != 1 {
		return ErrNotClaimOwner
	}
	return nil
}

func (l *RedisLedger) MarkFailed(ctx context.Context, taskID, token, reason string) (bool, error) {
	res, err := failScript.Run(ctx, l.client, []string{taskKey(taskID), terminalKey},
		time.Now().UnixMilli(), token, reason, l.maxAttempts, taskID).Result()
	if err != nil {
		return false, fmt.Errorf("mark failed %s: %w", taskID, err)
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return false, ErrNotClaimOwner
	}
	if asInt(arr[0]) != 1 {
		return false, ErrNotClaimOwner
	}
	return asInt(arr[1]) == 1, nil
}

func (l *RedisLedger) Failed(ctx context.Context) ([]models.RunRecord, error) {
	ids, err := l.client.SMembers(ctx, terminalKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list terminal tasks: %w", err)
	}
	records := make([]models.RunRecord, 0, len(ids))
	for _, id := range ids {
		rec, found, err := l.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if found {
			records = append(records, rec)
		}
	}
	return records, nil
}

func (l *RedisLedger) Requeue(ctx context.Context, taskID string) error {
	res, err := requeueScript.Run(ctx, l.client, []string{taskKey(taskID), terminalKey},
		time.Now().UnixMilli(), taskID).Result()
	if err != nil {
		return fmt.Errorf("requeue %s: %w", taskID, err)
	}
	if asInt(res) != 1 {
		return fmt.Errorf("requeue %s: record is not terminally failed", taskID)
	}
	return nil
}

func recordFromHash(taskID string, fields map[string]string) models.RunRecord {
	rec := models.RunRecord{
		TaskID:     taskID,
		Status:     fields["status"],
		WorkerID:   fields["worker_id"],
		ClaimToken: fields["claim_token"],
		Reason:     fields["reason"],
	}
	fmt.Sscanf(fields["attempts"], "%d", &rec.Attempts)
	rec.HeartbeatAt = millisField(fields, "heartbeat_ms")
	rec.CreatedAt = millisField(fields, "created_ms")
	rec.UpdatedAt = millisField(fields, "updated_ms")
	return rec
}

func millisField(fields map[string]string, name string) time.Time {
	var ms int64
	if _, err := fmt.Sscanf(fields[name], "%d", &ms); err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func asInt(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	default:
		return 0
	}
}

// claimScript: conditional claim. Allowed prior states: no record, pending,
// failed_retryable, or in_progress whose heartbeat predates the staleness
// cutoff. Issues the caller's token on success.
var claimScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local stale_before = tonumber(ARGV[2])
local status = redis.call('HGET', key, 'status')
if status == false then
  redis.call('HSET', key, 'attempts', 0, 'created_ms', now)
elseif status == 'pending' or status == 'failed_retryable' then
  -- claimable
elseif status == 'in_progress' then
  local hb = tonumber(redis.call('HGET', key, 'heartbeat_ms'))
  if hb and hb > stale_before then
    return 0
  end
else
  return 0
end
redis.call('HSET', key, 'status', 'in_progress', 'worker_id', ARGV[3], 'claim_token', ARGV[4], 'reason', '', 'heartbeat_ms', now, 'updated_ms', now)
return 1
`)

var heartbeatScript = redis.NewScript(`
local key = KEYS[1]
if redis.call('HGET', key, 'claim_token') ~= ARGV[2] then return 0 end
if redis.call('HGET', key, 'status') ~= 'in_progress' then return 0 end
redis.call('HSET', key, 'heartbeat_ms', ARGV[1], 'updated_ms', ARGV[1])
return 1
`)

var doneScript = redis.NewScript(`
local key = KEYS[1]
if redis.call('HGET', key, 'claim_token') ~= ARGV[2] then return 0 end
if redis.call('HGET', key, 'status') ~= 'in_progress' then return 0 end
redis.call('HSET', key, 'status', 'done', 'claim_token', '', 'reason', '', 'updated_ms', ARGV[1])
return 1
`)

// failScript returns {owned, terminal}. Attempts are incremented only here, so
// a reclaim after a crash does not consume an attempt by itself.
var failScript = redis.NewScript(`
local key = KEYS[1]
local terminal_set = KEYS[2]
if redis.call('HGET', key, 'claim_token') ~= ARGV[2] then return {0, 0} end
if redis.call('HGET', key, 'status') ~= 'in_progress' then return {0, 0} end
local attempts = redis.call('HINCRBY', key, 'attempts', 1)
local terminal = 0
local status = 'failed_retryable'
if attempts >= tonumber(ARGV[4]) then
  terminal = 1
  status = 'failed_terminal'
  redis.call('SADD', terminal_set, ARGV[5])
end
redis.call('HSET', key, 'status', status, 'claim_token', '', 'reason', ARGV[3], 'updated_ms', ARGV[1])
return {1, terminal}
`)

var requeueScript = redis.NewScript(`
local key = KEYS[1]
if redis.call('HGET', key, 'status') ~= 'failed_terminal' then return 0 end
redis.call('HSET', key, 'status', 'pending', 'attempts', 0, 'reason', '', 'claim_token', '', 'updated_ms', ARGV[1])
redis.call('SREM', KEYS[2], ARGV[2])
return 1
`)
