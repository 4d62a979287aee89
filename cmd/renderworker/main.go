package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"hdri-render-farm/internal/artifact"
	"hdri-render-farm/internal/catalog"
	"hdri-render-farm/internal/config"
	"hdri-render-farm/internal/ledger"
	"hdri-render-farm/internal/plan"
	"hdri-render-farm/internal/ratelimit"
	"hdri-render-farm/internal/render"
	"hdri-render-farm/internal/runner"
	"hdri-render-farm/internal/shard"
	"hdri-render-farm/internal/telemetry"
	"hdri-render-farm/internal/tracker"
)

func main() {
	shardIndex := flag.Int("shard-index", -1, "0-based shard index (defaults to SLURM array placement, else 0)")
	shardCount := flag.Int("shard-count", 0, "total shard count (defaults to SLURM array size, else 1)")
	flag.Parse()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	// Flags override the SLURM array environment; neither means a single
	// standalone worker.
	index, count := shard.FromEnv()
	if *shardCount > 0 {
		if *shardIndex < 0 {
			log.Fatalf("--shard-index is required when --shard-count is set")
		}
		index, count = *shardIndex, *shardCount
	}
	if err := shard.Validate(index, count); err != nil {
		log.Fatalf("%v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	renderPlan, err := plan.Load(cfg.PlanPath)
	if err != nil {
		log.Fatalf("%v", err)
	}

	tasks, err := catalog.Builder{
		ScenesDir:  cfg.ScenesDir,
		HDRIDir:    cfg.HDRIDir,
		RendersDir: cfg.RendersDir,
		Plan:       renderPlan,
	}.Build()
	if err != nil {
		log.Fatalf("%v", err)
	}
	telemetry.CatalogSize.Set(float64(len(tasks)))

	assigned, err := shard.Partition(tasks, index, count)
	if err != nil {
		log.Fatalf("%v", err)
	}
	log.Printf("shard %d/%d: %d of %d tasks assigned", index, count, len(assigned), len(tasks))

	led, err := ledger.New(ctx, cfg)
	if err != nil {
		log.Fatalf("ledger: %v", err)
	}
	defer led.Close()

	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		hostname, _ := os.Hostname()
		if hostname != "" {
			workerID = fmt.Sprintf("%s-shard%d", hostname, index)
		} else {
			workerID = fmt.Sprintf("worker-%d-shard%d", os.Getpid(), index)
		}
	}

	renderer := render.NewBlenderRenderer(cfg.BlenderPath, cfg.RenderScript, renderPlan.Settings)
	run := runner.New(cfg, led, tracker.New(cfg.StaleAfter), renderer, workerID)

	if cfg.LaunchCapacity > 0 {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		run = run.WithThrottle(ratelimit.NewLaunchThrottle(client, cfg.LaunchCapacity, cfg.LaunchRefill))
	}
	if cfg.S3Bucket != "" {
		syncer, err := artifact.NewS3Syncer(ctx, cfg.S3Bucket, cfg.S3Prefix, cfg.S3Region)
		if err != nil {
			log.Fatalf("s3 syncer: %v", err)
		}
		run = run.WithSyncer(syncer)
	}

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	log.Printf("worker %s started: timeout=%s heartbeat=%s stale_after=%s max_attempts=%d",
		workerID, cfg.RenderTimeout, cfg.HeartbeatInterval, cfg.StaleAfter, cfg.MaxAttempts)

	summary, err := run.Run(ctx, assigned)
	if err != nil {
		log.Fatalf("run aborted: %v", err)
	}

	log.Printf("shard %d/%d done: completed=%d already_done=%d held=%d conflicts=%d failed=%d",
		index, count, summary.Completed, summary.AlreadyDone, summary.Held, summary.Conflicts, len(summary.Failed))
	for _, f := range summary.Failed {
		log.Printf("failed: %s scene=%s hdri=%s camera=%s reason=%s",
			f.TaskID, f.SceneID, f.HDRIName, f.CameraID, f.Reason)
	}
	if len(summary.Failed) > 0 {
		os.Exit(1)
	}
}
