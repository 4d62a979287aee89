package tracker

import (
	"testing"
	"time"

	"hdri-render-farm/internal/models"
)

func TestEvaluate(t *testing.T) {
	trk := New(10 * time.Minute)
	now := time.Now()

	cases := []struct {
		name  string
		rec   models.RunRecord
		found bool
		want  models.Disposition
	}{
		{"never observed", models.RunRecord{}, false, models.NeedsRun},
		{"pending", models.RunRecord{Status: models.StatusPending}, true, models.NeedsRun},
		{"done", models.RunRecord{Status: models.StatusDone}, true, models.AlreadyDone},
		{"terminal", models.RunRecord{Status: models.StatusFailedTerminal}, true, models.TerminalFailure},
		{"retryable", models.RunRecord{Status: models.StatusFailedRetry, Attempts: 1}, true, models.RetryableFailure},
		{
			"live claim",
			models.RunRecord{Status: models.StatusInProgress, HeartbeatAt: now.Add(-time.Minute)},
			true,
			models.HeldInProgress,
		},
		{
			"abandoned claim",
			models.RunRecord{Status: models.StatusInProgress, HeartbeatAt: now.Add(-time.Hour)},
			true,
			models.AbandonedInProgress,
		},
	}
	for _, tc := range cases {
		if got := trk.Evaluate(tc.rec, tc.found, now); got != tc.want {
			t.Errorf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestRunnable(t *testing.T) {
	runnable := []models.Disposition{models.NeedsRun, models.RetryableFailure, models.AbandonedInProgress}
	for _, d := range runnable {
		if !d.Runnable() {
			t.Errorf("%s should be runnable", d)
		}
	}
	blocked := []models.Disposition{models.AlreadyDone, models.TerminalFailure, models.HeldInProgress}
	for _, d := range blocked {
		if d.Runnable() {
			t.Errorf("%s should not be runnable", d)
		}
	}
}
