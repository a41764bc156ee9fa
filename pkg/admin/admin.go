// Package admin implements the Admin Facade (spec.md §4.10, §6.3). See
// doc.go for the package overview.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/marketprism/storage-engine/pkg/config"
	"github.com/marketprism/storage-engine/pkg/log"
	"github.com/marketprism/storage-engine/pkg/metrics"
	"github.com/marketprism/storage-engine/pkg/migration"
	"github.com/marketprism/storage-engine/pkg/pool"
	"github.com/marketprism/storage-engine/pkg/types"
	"github.com/marketprism/storage-engine/pkg/writer"
)

// Migrator runs migration cycles on demand and exposes the manifest of
// completed work. Satisfied by *migration.Engine.
type Migrator interface {
	RunCycle(ctx context.Context) (migration.CycleResult, error)
	Manifest() *migration.Manifest
}

// Cleaner runs cleanup cycles on demand. Satisfied by *cleanup.Engine.
type Cleaner interface {
	RunCycle(ctx context.Context) ([]types.CleanupResult, error)
}

// WriterStats exposes write throughput/latency and circuit-breaker state.
// Satisfied by *writer.Writer.
type WriterStats interface {
	Stats() writer.WriteStats
	BreakerOpen(dt types.DataType) bool
}

// QueueDepths exposes per-type batch queue depth. Satisfied by
// *queue.Manager.
type QueueDepths interface {
	AllDepths() map[types.DataType]int
}

// PoolStats exposes connection pool utilization. Satisfied by *pool.Pool.
type PoolStats interface {
	Stats() pool.Stats
}

// BusStatus reports whether the bus connection is currently up. Satisfied
// by *subscriber.Subscriber.
type BusStatus interface {
	Connected() bool
}

// TaskStatus reports whether a named scheduled task is currently running.
// Satisfied by *scheduler.Scheduler.
type TaskStatus interface {
	IsRunning(name string) bool
}

// Deps wires the Admin Facade to the rest of the engine. Every field is
// optional; a nil dependency degrades that portion of /status rather than
// panicking, so the facade can be stood up incrementally during startup.
type Deps struct {
	Config      config.Config
	Migrator    Migrator
	Cleaner     Cleaner
	WriterStats WriterStats
	Queue       QueueDepths
	Pool        PoolStats
	Bus         BusStatus
	Scheduler   TaskStatus
}

// Server is the Admin Facade: a pure wrapper with no state of its own
// beyond what it needs to compute throughput_per_sec (spec.md §4.10 says
// "holds no state" about domain data; the facade still needs a clock).
type Server struct {
	router    *mux.Router
	deps      Deps
	logger    zerolog.Logger
	startedAt time.Time
}

// New builds the Admin Facade's router. Call Server.Router() to obtain the
// http.Handler to serve, e.g. via http.ListenAndServe(addr, srv.Router()).
func New(deps Deps) *Server {
	s := &Server{
		deps:      deps,
		logger:    log.WithComponent("admin"),
		startedAt: time.Now(),
	}
	s.router = mux.NewRouter()
	s.routes()
	return s
}

// Router returns the facade's http.Handler.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) routes() {
	base := s.router.PathPrefix("/api/v1/storage").Subrouter()
	base.HandleFunc("/status", s.withMetrics("/status", s.handleStatus)).Methods(http.MethodGet)
	base.HandleFunc("/stats", s.withMetrics("/stats", s.handleStats)).Methods(http.MethodGet)
	base.HandleFunc("/migration/execute", s.withMetrics("/migration/execute", s.handleMigrationExecute)).Methods(http.MethodPost)
	base.HandleFunc("/migration/status", s.withMetrics("/migration/status", s.handleMigrationStatus)).Methods(http.MethodGet)
	base.HandleFunc("/lifecycle/cleanup", s.withMetrics("/lifecycle/cleanup", s.handleCleanup)).Methods(http.MethodPost)
	base.HandleFunc("/config", s.withMetrics("/config", s.handleConfig)).Methods(http.MethodGet)
}

// withMetrics records request counts and durations, mirroring the teacher's
// pkg/api interceptor.go, adapted from a gRPC unary interceptor to a plain
// http.HandlerFunc wrapper.
func (s *Server) withMetrics(path string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		timer.ObserveDurationVec(metrics.APIRequestDuration, path)
		metrics.APIRequestsTotal.WithLabelValues(r.Method, path, fmt.Sprintf("%d", rec.status)).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// component/issues reporting shared by /status and the write-gating checks
// on the trigger endpoints.
func (s *Server) issues() []string {
	var issues []string

	if s.deps.Pool != nil {
		if st := s.deps.Pool.Stats(); st.Degraded {
			issues = append(issues, "connection pool degraded: at or above 90% handles checked out")
		}
	}
	if s.deps.Bus != nil && !s.deps.Bus.Connected() {
		issues = append(issues, "bus disconnected")
	}
	if s.deps.WriterStats != nil {
		for _, dt := range types.AllDataTypes {
			if s.deps.WriterStats.BreakerOpen(dt) {
				issues = append(issues, fmt.Sprintf("circuit breaker open for %s", dt))
			}
		}
	}
	return issues
}

// handleStatus never returns 5xx for a degraded-but-running core: it
// returns 200 with status "degraded" and an issues[] array, per spec.md
// §4.10's "User-visible failure behavior". Clients distinguish
// healthy/degraded by reading the body.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	issues := s.issues()
	status := "healthy"
	if len(issues) > 0 {
		status = "degraded"
	}

	components := map[string]string{}
	if s.deps.Bus != nil {
		components["bus"] = boolStatus(s.deps.Bus.Connected())
	}
	if s.deps.Pool != nil {
		components["pool"] = boolStatus(!s.deps.Pool.Stats().Degraded)
	}

	subscriptions := 0
	if s.deps.Queue != nil {
		subscriptions = len(s.deps.Queue.AllDepths())
	}

	if s.deps.Scheduler != nil {
		components["migration_task"] = runningStatus(s.deps.Scheduler.IsRunning("migration"))
		components["cleanup_task"] = runningStatus(s.deps.Scheduler.IsRunning("cleanup"))
	}

	body := map[string]any{
		"status":        status,
		"components":    components,
		"subscriptions": subscriptions,
		"queue_sizes":   s.queueSizes(),
		"stats":         s.statsBody(),
	}
	if len(issues) > 0 {
		body["issues"] = issues
	}
	writeJSON(w, http.StatusOK, body)
}

func boolStatus(healthy bool) string {
	if healthy {
		return "healthy"
	}
	return "unhealthy"
}

func runningStatus(running bool) string {
	if running {
		return "running"
	}
	return "idle"
}

func (s *Server) queueSizes() map[types.DataType]int {
	if s.deps.Queue == nil {
		return map[types.DataType]int{}
	}
	return s.deps.Queue.AllDepths()
}

func (s *Server) statsBody() map[string]any {
	if s.deps.WriterStats == nil {
		return map[string]any{}
	}
	st := s.deps.WriterStats.Stats()
	elapsed := time.Since(s.startedAt).Seconds()
	throughput := float64(0)
	if elapsed > 0 {
		throughput = float64(st.TotalWrites) / elapsed
	}
	return map[string]any{
		"total_writes":      st.TotalWrites,
		"successful_writes": st.SuccessfulWrites,
		"failed_writes":     st.FailedWrites,
		"throughput_per_sec": throughput,
		"latency_p50_ms":    st.LatencyP50Ms,
		"latency_p95_ms":    st.LatencyP95Ms,
		"errors_by_type":    st.ErrorsByType,
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.statsBody())
}

// handleMigrationExecute runs one migration cycle synchronously and
// returns its per-task results. Refuses when the core is degraded, per
// spec.md §6.3's "4xx when the core is in degraded mode" (unlike /status,
// which always reports 200).
func (s *Server) handleMigrationExecute(w http.ResponseWriter, r *http.Request) {
	if issues := s.issues(); len(issues) > 0 {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "core is degraded", "issues": issues})
		return
	}
	if s.deps.Migrator == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "migration engine not configured"})
		return
	}

	result, err := s.deps.Migrator.RunCycle(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("migration cycle failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_tasks":      result.TotalTasks,
		"successful":       result.Successful,
		"failed":           result.Failed,
		"records_migrated": result.RecordsMigrated,
		"results":          result.Results,
	})
}

func (s *Server) handleMigrationStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Migrator == nil {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}

	recent := s.deps.Migrator.Manifest().Recent(1)
	var lastMigration *types.ManifestEntry
	if len(recent) > 0 {
		lastMigration = &recent[0]
	}

	var pendingRecords int64
	for _, e := range s.deps.Migrator.Manifest().Recent(0) {
		pendingRecords += e.RecordCount
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":                true,
		"pending_migrations":     0, // tasks are discovered and run within the same cycle; nothing queues between cycles
		"total_pending_records":  pendingRecords,
		"last_migration":         lastMigration,
	})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if issues := s.issues(); len(issues) > 0 {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "core is degraded", "issues": issues})
		return
	}
	if s.deps.Cleaner == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "cleanup engine not configured"})
		return
	}

	results, err := s.deps.Cleaner.RunCycle(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("cleanup cycle failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	perTable := make(map[string]int, len(results))
	for _, res := range results {
		perTable[res.Table] = res.PartitionsDropped
	}
	writeJSON(w, http.StatusOK, map[string]any{"per_table_counts": perTable})
}

// handleConfig returns the sanitized configuration subset spec.md §6.3
// names explicitly; credentials and addresses are never disclosed.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.deps.Config
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled":              true,
		"schedule_cron":        cfg.Migration.Schedule,
		"cleanup_schedule_cron": cfg.Cleanup.Schedule,
		"retention_days":       cfg.Cleanup.RetainFor,
		"batch_size":           types.Policies[types.DataTypeTrade].BatchSize,
		"parallel_workers":     cfg.Migration.MaxParallel,
		"verification_enabled": true, // migration.Config forces verification on, per spec.md §4.7
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithComponent("admin").Error().Err(err).Msg("failed to encode response body")
	}
}
