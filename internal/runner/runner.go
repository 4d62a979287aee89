// Package runner drives one shard's assigned tasks to completion: claim,
// render under timeout, validate, record. Per-task failures never abort the
// shard; one bad scene/HDRI combination cannot stall the whole job.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"hdri-render-farm/internal/artifact"
	"hdri-render-farm/internal/config"
	"hdri-render-farm/internal/ledger"
	"hdri-render-farm/internal/models"
	"hdri-render-farm/internal/ratelimit"
	"hdri-render-farm/internal/render"
	"hdri-render-farm/internal/telemetry"
	"hdri-render-farm/internal/tracker"
)

// Runner executes the shard's task subset against the shared ledger.
type Runner struct {
	cfg      config.Config
	ledger   ledger.Ledger
	tracker  *tracker.Tracker
	renderer render.Renderer
	throttle *ratelimit.LaunchThrottle // nil disables throttling
	syncer   artifact.Syncer           // nil disables S3 sync
	workerID string
}

func New(cfg config.Config, led ledger.Ledger, trk *tracker.Tracker, rnd render.Renderer, workerID string) *Runner {
	return &Runner{
		cfg:      cfg,
		ledger:   led,
		tracker:  trk,
		renderer: rnd,
		workerID: workerID,
	}
}

// WithThrottle enables the cluster-wide launch throttle.
func (r *Runner) WithThrottle(t *ratelimit.LaunchThrottle) *Runner {
	r.throttle = t
	return r
}

// WithSyncer enables artifact publication after validation.
func (r *Runner) WithSyncer(s artifact.Syncer) *Runner {
	r.syncer = s
	return r
}

// FailedTask is one entry in the end-of-run summary.
type FailedTask struct {
	TaskID   string
	SceneID  string
	HDRIName string
	CameraID string
	Reason   string
}

// Summary aggregates the outcome of one shard run.
type Summary struct {
	Assigned    int
	Completed   int
	AlreadyDone int
	Held        int
	Conflicts   int
	Failed      []FailedTask
}

// Run processes every assigned task. It returns an error only on context
// cancellation or a broken ledger; task-level outcomes live in the summary.
func (r *Runner) Run(ctx context.Context, tasks []models.Task) (Summary, error) {
	summary := Summary{Assigned: len(tasks)}
	telemetry.AssignedTasks.Set(float64(len(tasks)))

	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		rec, found, err := r.ledger.Get(ctx, task.ID)
		if err != nil {
			return summary, fmt.Errorf("ledger read: %w", err)
		}
		disp := r.tracker.Evaluate(rec, found, time.Now())
		switch {
		case disp == models.AlreadyDone:
			telemetry.SkippedDone.Inc()
			summary.AlreadyDone++
			continue
		case disp == models.TerminalFailure:
			summary.Failed = append(summary.Failed, failedEntry(task, rec.Reason))
			continue
		case disp == models.HeldInProgress:
			summary.Held++
			continue
		case !disp.Runnable():
			continue
		}
		r.execute(ctx, task, rec.Attempts, &summary)
	}
	return summary, nil
}

// execute retries one task until done, terminal failure, or a lost claim.
func (r *Runner) execute(ctx context.Context, task models.Task, attempts int, summary *Summary) {
	for {
		token, err := r.ledger.Claim(ctx, task.ID, r.workerID)
		if errors.Is(err, ledger.ErrClaimConflict) {
			telemetry.ClaimConflicts.Inc()
			summary.Conflicts++
			return
		}
		if err != nil {
			log.Printf("task %s: claim error: %v", shortID(task.ID), err)
			return
		}

		reason := r.attempt(ctx, task, token)
		if reason == "" {
			if err := r.ledger.MarkDone(ctx, task.ID, token); err != nil {
				// Reclaimed mid-render: the artifact exists, but the new
				// owner's ledger transitions win.
				log.Printf("task %s: %v", shortID(task.ID), err)
				summary.Conflicts++
				return
			}
			telemetry.RendersCompleted.Inc()
			summary.Completed++
			r.postProcess(ctx, task)
			return
		}

		terminal, err := r.ledger.MarkFailed(ctx, task.ID, token, reason)
		if errors.Is(err, ledger.ErrNotClaimOwner) {
			summary.Conflicts++
			return
		}
		if err != nil {
			log.Printf("task %s: record failure: %v", shortID(task.ID), err)
			return
		}
		attempts++
		telemetry.RendersFailed.Inc()
		log.Printf("task %s: attempt %d failed: %s", shortID(task.ID), attempts, reason)
		if terminal {
			telemetry.RendersTerminal.Inc()
			summary.Failed = append(summary.Failed, failedEntry(task, reason))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoffWithJitter(r.cfg.BackoffInitial, r.cfg.BackoffMax, attempts)):
		}
	}
}

// attempt performs one claimed render attempt and returns the failure reason,
// or "" on success. The claim is heartbeated for the duration; losing the
// claim cancels the render.
func (r *Runner) attempt(ctx context.Context, task models.Task, token string) string {
	if r.throttle != nil {
		if err := r.throttle.Acquire(ctx); err != nil {
			return fmt.Sprintf("launch throttle: %v", err)
		}
	}

	renderCtx, cancel := context.WithTimeout(ctx, r.cfg.RenderTimeout)
	defer cancel()

	stop := r.heartbeat(renderCtx, task.ID, token, cancel)
	telemetry.InFlightGauge.Inc()
	err := r.renderer.Render(renderCtx, task)
	telemetry.InFlightGauge.Dec()
	stop()

	if err != nil {
		if errors.Is(renderCtx.Err(), context.DeadlineExceeded) {
			return "timeout"
		}
		return err.Error()
	}
	// Exit code 0 is not enough: a crashed writer can leave a partial file.
	if err := artifact.Validate(task.OutputPath); err != nil {
		return err.Error()
	}
	return ""
}

// heartbeat refreshes the claim at the configured interval. If the ledger
// reports lost ownership, the render is cancelled: a reclaimed task belongs
// to its new owner and our process must stop touching its output.
func (r *Runner) heartbeat(ctx context.Context, taskID, token string, cancel context.CancelFunc) (stop func()) {
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		ticker := time.NewTicker(r.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.ledger.Heartbeat(ctx, taskID, token); errors.Is(err, ledger.ErrNotClaimOwner) {
					log.Printf("task %s: claim lost, cancelling render", shortID(taskID))
					cancel()
					return
				}
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

// postProcess runs optional preview and sync steps. Failures here are logged
// but never change the task outcome: the validated artifact is on disk.
func (r *Runner) postProcess(ctx context.Context, task models.Task) {
	if r.cfg.PreviewWidth > 0 {
		if _, err := artifact.WritePreview(task.OutputPath, r.cfg.PreviewWidth); err != nil {
			log.Printf("task %s: preview: %v", shortID(task.ID), err)
		}
	}
	if r.syncer != nil {
		rel := relOutputPath(r.cfg.RendersDir, task.OutputPath)
		if err := r.syncer.Sync(ctx, task.OutputPath, rel); err != nil {
			log.Printf("task %s: sync: %v", shortID(task.ID), err)
		}
	}
}

func failedEntry(task models.Task, reason string) FailedTask {
	return FailedTask{
		TaskID:   task.ID,
		SceneID:  task.SceneID,
		HDRIName: task.HDRIName,
		CameraID: task.CameraID,
		Reason:   reason,
	}
}
