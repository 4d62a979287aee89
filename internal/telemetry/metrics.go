package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	RendersCompleted = prometheus.NewCounter(prometheus.CounterOpts{Name: "renders_completed_total", Help: "Tasks rendered and validated successfully"})
	RendersFailed    = prometheus.NewCounter(prometheus.CounterOpts{Name: "renders_failed_total", Help: "Render attempts that failed and may retry"})
	RendersTerminal  = prometheus.NewCounter(prometheus.CounterOpts{Name: "renders_terminal_total", Help: "Tasks that exhausted all attempts"})
	SkippedDone      = prometheus.NewCounter(prometheus.CounterOpts{Name: "renders_skipped_done_total", Help: "Tasks skipped because the ledger marks them done"})
	ClaimConflicts   = prometheus.NewCounter(prometheus.CounterOpts{Name: "renders_claim_conflicts_total", Help: "Claims lost to another shard"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "renders_inflight", Help: "Renders currently executing on this shard"})
	CatalogSize      = prometheus.NewGauge(prometheus.GaugeOpts{Name: "catalog_tasks", Help: "Total tasks in the enumerated catalog"})
	AssignedTasks    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "shard_assigned_tasks", Help: "Tasks assigned to this shard"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			RendersCompleted,
			RendersFailed,
			RendersTerminal,
			SkippedDone,
			ClaimConflicts,
			InFlightGauge,
			CatalogSize,
			AssignedTasks,
		)
	})
	return promhttp.Handler()
}
