package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"hdri-render-farm/internal/api"
	"hdri-render-farm/internal/catalog"
	"hdri-render-farm/internal/config"
	"hdri-render-farm/internal/ledger"
	"hdri-render-farm/internal/plan"
	"hdri-render-farm/internal/telemetry"
)

func main() {
	cfg := config.Load()

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

	led, err := ledger.New(ctx, cfg)
	if err != nil {
		log.Fatalf("ledger: %v", err)
	}
	defer led.Close()

	server := api.New(cfg, led, tasks)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Shutdown(context.Background())
	}()

	log.Printf("api listening on :%s (catalog: %d tasks)", cfg.HTTPPort, len(tasks))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("api server: %v", err)
	}
}
