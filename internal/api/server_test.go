package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"hdri-render-farm/internal/config"
	"hdri-render-farm/internal/ledger"
	"hdri-render-farm/internal/models"
)

func testServer(t *testing.T) (*httptest.Server, *ledger.RedisLedger, []models.Task) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	led := ledger.NewRedisWithClient(client, 10*time.Minute, 1)

	tasks := []models.Task{
		{ID: "t1", SceneID: "kitchen", HDRIName: "kiara_dawn", CameraID: "cam_front", Resolution: "4k", Format: "exr"},
		{ID: "t2", SceneID: "kitchen", HDRIName: "kiara_dawn", CameraID: "cam_back", Resolution: "4k", Format: "exr"},
	}
	srv := httptest.NewServer(New(config.Config{}, led, tasks).Router())
	t.Cleanup(srv.Close)
	return srv, led, tasks
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestHealthz(t *testing.T) {
	srv, _, _ := testServer(t)
	if code := getJSON(t, srv.URL+"/healthz", nil); code != http.StatusOK {
		t.Fatalf("healthz returned %d", code)
	}
}

func TestGetTask(t *testing.T) {
	srv, led, tasks := testServer(t)
	ctx := context.Background()

	// Unknown id.
	if code := getJSON(t, srv.URL+"/tasks/nope", nil); code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown task, got %d", code)
	}

	// Known task with no ledger record yet.
	var resp struct {
		Task   models.Task       `json:"task"`
		Record *models.RunRecord `json:"record"`
	}
	if code := getJSON(t, srv.URL+"/tasks/t1", &resp); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if resp.Task.SceneID != "kitchen" || resp.Record != nil {
		t.Fatalf("unexpected response: %+v", resp)
	}

	// After a claim the record shows up.
	if _, err := led.Claim(ctx, tasks[0].ID, "worker-a"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	resp.Record = nil
	if code := getJSON(t, srv.URL+"/tasks/t1", &resp); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if resp.Record == nil || resp.Record.Status != models.StatusInProgress {
		t.Fatalf("expected in_progress record, got %+v", resp.Record)
	}
}

func TestFailedListingAndRequeue(t *testing.T) {
	srv, led, tasks := testServer(t)
	ctx := context.Background()

	token, err := led.Claim(ctx, tasks[0].ID, "worker-a")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := led.MarkFailed(ctx, tasks[0].ID, token, "blender exited with code 1"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	var failed struct {
		Items []models.RunRecord `json:"items"`
	}
	if code := getJSON(t, srv.URL+"/failed", &failed); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(failed.Items) != 1 || failed.Items[0].TaskID != "t1" {
		t.Fatalf("unexpected failed listing: %+v", failed.Items)
	}

	var summary struct {
		CatalogTasks   int `json:"catalog_tasks"`
		TerminalFailed int `json:"terminal_failed"`
	}
	if code := getJSON(t, srv.URL+"/summary", &summary); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if summary.CatalogTasks != 2 || summary.TerminalFailed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	// Requeue the terminal failure.
	resp, err := http.Post(srv.URL+"/tasks/t1/requeue", "application/json", nil)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("requeue returned %d", resp.StatusCode)
	}
	rec, _, _ := led.Get(ctx, tasks[0].ID)
	if rec.Status != models.StatusPending {
		t.Fatalf("expected pending after requeue, got %s", rec.Status)
	}

	// Requeue of a non-terminal task conflicts.
	resp, err = http.Post(srv.URL+"/tasks/t2/requeue", "application/json", nil)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for non-terminal requeue, got %d", resp.StatusCode)
	}

	// Requeue of an unknown task is a 404.
	resp, err = http.Post(srv.URL+"/tasks/nope/requeue", "application/json", nil)
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown requeue, got %d", resp.StatusCode)
	}
}
