package ledger

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"hdri-render-farm/internal/models"
)

func testLedger(t *testing.T, maxAttempts int) (*RedisLedger, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisWithClient(client, 10*time.Minute, maxAttempts), client
}

// markStale rewrites a claim's heartbeat to look long dead.
func markStale(t *testing.T, client *redis.Client, taskID string) {
	t.Helper()
	old := time.Now().Add(-time.Hour).UnixMilli()
	if err := client.HSet(context.Background(), taskKey(taskID), "heartbeat_ms", strconv.FormatInt(old, 10)).Err(); err != nil {
		t.Fatalf("set stale heartbeat: %v", err)
	}
}

func TestClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	led, _ := testLedger(t, 3)

	token, err := led.Claim(ctx, "t1", "worker-a")
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if token == "" {
		t.Fatal("expected a claim token")
	}

	if _, err := led.Claim(ctx, "t1", "worker-b"); !errors.Is(err, ErrClaimConflict) {
		t.Fatalf("expected ErrClaimConflict, got %v", err)
	}

	rec, found, err := led.Get(ctx, "t1")
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if rec.Status != models.StatusInProgress || rec.WorkerID != "worker-a" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestConcurrentClaimsOneWinner(t *testing.T) {
	ctx := context.Background()
	led, _ := testLedger(t, 3)

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if _, err := led.Claim(ctx, "contested", "worker-"+strconv.Itoa(n)); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("expected exactly one winning claim, got %d", winners)
	}
}

func TestStaleClaimIsReclaimableAndFenced(t *testing.T) {
	ctx := context.Background()
	led, client := testLedger(t, 3)

	oldToken, err := led.Claim(ctx, "t1", "worker-a")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	markStale(t, client, "t1")

	newToken, err := led.Claim(ctx, "t1", "worker-b")
	if err != nil {
		t.Fatalf("reclaim of stale task: %v", err)
	}

	// The original owner's token must no longer move the record.
	if err := led.Heartbeat(ctx, "t1", oldToken); !errors.Is(err, ErrNotClaimOwner) {
		t.Fatalf("stale heartbeat: expected ErrNotClaimOwner, got %v", err)
	}
	if err := led.MarkDone(ctx, "t1", oldToken); !errors.Is(err, ErrNotClaimOwner) {
		t.Fatalf("stale mark done: expected ErrNotClaimOwner, got %v", err)
	}
	if _, err := led.MarkFailed(ctx, "t1", oldToken, "boom"); !errors.Is(err, ErrNotClaimOwner) {
		t.Fatalf("stale mark failed: expected ErrNotClaimOwner, got %v", err)
	}

	// The new owner still works.
	if err := led.Heartbeat(ctx, "t1", newToken); err != nil {
		t.Fatalf("live heartbeat: %v", err)
	}
	if err := led.MarkDone(ctx, "t1", newToken); err != nil {
		t.Fatalf("live mark done: %v", err)
	}
	rec, _, _ := led.Get(ctx, "t1")
	if rec.Status != models.StatusDone {
		t.Fatalf("expected done, got %s", rec.Status)
	}
}

func TestMarkFailedCountsAttemptsToTerminal(t *testing.T) {
	ctx := context.Background()
	led, _ := testLedger(t, 2)

	token, _ := led.Claim(ctx, "t1", "worker-a")
	terminal, err := led.MarkFailed(ctx, "t1", token, "blender exited with code 1")
	if err != nil {
		t.Fatalf("first failure: %v", err)
	}
	if terminal {
		t.Fatal("first failure should be retryable")
	}
	rec, _, _ := led.Get(ctx, "t1")
	if rec.Status != models.StatusFailedRetry || rec.Attempts != 1 {
		t.Fatalf("unexpected record after first failure: %+v", rec)
	}

	token, err = led.Claim(ctx, "t1", "worker-a")
	if err != nil {
		t.Fatalf("reclaim retryable: %v", err)
	}
	terminal, err = led.MarkFailed(ctx, "t1", token, "timeout")
	if err != nil {
		t.Fatalf("second failure: %v", err)
	}
	if !terminal {
		t.Fatal("second failure should be terminal at max attempts 2")
	}
	rec, _, _ = led.Get(ctx, "t1")
	if rec.Status != models.StatusFailedTerminal || rec.Reason != "timeout" {
		t.Fatalf("unexpected terminal record: %+v", rec)
	}

	// Terminal is absorbing for claims.
	if _, err := led.Claim(ctx, "t1", "worker-b"); !errors.Is(err, ErrClaimConflict) {
		t.Fatalf("expected terminal record to refuse claims, got %v", err)
	}
}

func TestDoneIsAbsorbing(t *testing.T) {
	ctx := context.Background()
	led, _ := testLedger(t, 3)

	token, _ := led.Claim(ctx, "t1", "worker-a")
	if err := led.MarkDone(ctx, "t1", token); err != nil {
		t.Fatalf("mark done: %v", err)
	}
	if _, err := led.Claim(ctx, "t1", "worker-b"); !errors.Is(err, ErrClaimConflict) {
		t.Fatalf("expected done record to refuse claims, got %v", err)
	}
}

func TestFailedListingAndRequeue(t *testing.T) {
	ctx := context.Background()
	led, _ := testLedger(t, 1)

	token, _ := led.Claim(ctx, "t1", "worker-a")
	if _, err := led.MarkFailed(ctx, "t1", token, "boom"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	failed, err := led.Failed(ctx)
	if err != nil {
		t.Fatalf("failed listing: %v", err)
	}
	if len(failed) != 1 || failed[0].TaskID != "t1" {
		t.Fatalf("unexpected failed listing: %+v", failed)
	}

	if err := led.Requeue(ctx, "t1"); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	rec, _, _ := led.Get(ctx, "t1")
	if rec.Status != models.StatusPending || rec.Attempts != 0 {
		t.Fatalf("unexpected record after requeue: %+v", rec)
	}
	failed, _ = led.Failed(ctx)
	if len(failed) != 0 {
		t.Fatalf("requeued task still listed as failed: %+v", failed)
	}

	// Requeue only applies to terminal records.
	if err := led.Requeue(ctx, "t1"); err == nil {
		t.Fatal("expected requeue of pending record to fail")
	}
}
