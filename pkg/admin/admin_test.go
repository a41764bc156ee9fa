package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketprism/storage-engine/pkg/config"
	"github.com/marketprism/storage-engine/pkg/migration"
	"github.com/marketprism/storage-engine/pkg/pool"
	"github.com/marketprism/storage-engine/pkg/types"
	"github.com/marketprism/storage-engine/pkg/writer"
)

type fakeMigrator struct {
	result   migration.CycleResult
	err      error
	manifest *migration.Manifest
}

func (f *fakeMigrator) RunCycle(context.Context) (migration.CycleResult, error) { return f.result, f.err }
func (f *fakeMigrator) Manifest() *migration.Manifest                           { return f.manifest }

type fakeCleaner struct {
	results []types.CleanupResult
	err     error
}

func (f *fakeCleaner) RunCycle(context.Context) ([]types.CleanupResult, error) { return f.results, f.err }

type fakeWriterStats struct {
	stats   writer.WriteStats
	breaker map[types.DataType]bool
}

func (f *fakeWriterStats) Stats() writer.WriteStats { return f.stats }
func (f *fakeWriterStats) BreakerOpen(dt types.DataType) bool { return f.breaker[dt] }

type fakeQueue struct{ depths map[types.DataType]int }

func (f *fakeQueue) AllDepths() map[types.DataType]int { return f.depths }

type fakePool struct{ stats pool.Stats }

func (f *fakePool) Stats() pool.Stats { return f.stats }

type fakeBus struct{ connected bool }

func (f *fakeBus) Connected() bool { return f.connected }

func newTestServer() (*Server, *fakeMigrator, *fakeCleaner, *fakeWriterStats, *fakeBus, *fakePool) {
	mig := &fakeMigrator{manifest: migration.NewManifest(10)}
	clean := &fakeCleaner{}
	ws := &fakeWriterStats{breaker: map[types.DataType]bool{}}
	bus := &fakeBus{connected: true}
	p := &fakePool{stats: pool.Stats{InUse: 1, MaxSize: 10}}

	s := New(Deps{
		Config:      config.Default(),
		Migrator:    mig,
		Cleaner:     clean,
		WriterStats: ws,
		Queue:       &fakeQueue{depths: map[types.DataType]int{types.DataTypeTrade: 5}},
		Pool:        p,
		Bus:         bus,
	})
	return s, mig, clean, ws, bus, p
}

func doRequest(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestStatusReportsHealthyWhenNoIssues(t *testing.T) {
	s, _, _, _, _, _ := newTestServer()
	rec := doRequest(t, s, http.MethodGet, "/api/v1/storage/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.NotContains(t, body, "issues")
}

func TestStatusReportsDegradedWithIssuesButStill200(t *testing.T) {
	s, _, _, _, bus, _ := newTestServer()
	bus.connected = false

	rec := doRequest(t, s, http.MethodGet, "/api/v1/storage/status")
	require.Equal(t, http.StatusOK, rec.Code, "status endpoint must never 5xx when merely degraded")

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
	assert.NotEmpty(t, body["issues"])
}

func TestMigrationExecuteRunsCycleAndReturnsResult(t *testing.T) {
	s, mig, _, _, _, _ := newTestServer()
	mig.result = migration.CycleResult{TotalTasks: 2, Successful: 2, RecordsMigrated: 100}

	rec := doRequest(t, s, http.MethodPost, "/api/v1/storage/migration/execute")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 2, body["total_tasks"])
	assert.EqualValues(t, 100, body["records_migrated"])
}

func TestMigrationExecuteRefusedWhenDegraded(t *testing.T) {
	s, _, _, _, bus, _ := newTestServer()
	bus.connected = false

	rec := doRequest(t, s, http.MethodPost, "/api/v1/storage/migration/execute")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCleanupRunsCycle(t *testing.T) {
	s, _, clean, _, _, _ := newTestServer()
	clean.results = []types.CleanupResult{{Table: "cold.cold_trades", PartitionsDropped: 3}}

	rec := doRequest(t, s, http.MethodPost, "/api/v1/storage/lifecycle/cleanup")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	counts := body["per_table_counts"].(map[string]any)
	assert.EqualValues(t, 3, counts["cold.cold_trades"])
}

func TestConfigReturnsSanitizedSubset(t *testing.T) {
	s, _, _, _, _, _ := newTestServer()
	rec := doRequest(t, s, http.MethodGet, "/api/v1/storage/config")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotContains(t, rec.Body.String(), "password", "sanitized config must never include store credentials")
	assert.Equal(t, true, body["verification_enabled"])
}

func TestStatsReflectsWriterSnapshot(t *testing.T) {
	s, _, _, ws, _, _ := newTestServer()
	ws.stats = writer.WriteStats{TotalWrites: 10, SuccessfulWrites: 9, FailedWrites: 1}

	rec := doRequest(t, s, http.MethodGet, "/api/v1/storage/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 10, body["total_writes"])
	assert.EqualValues(t, 1, body["failed_writes"])
}

func TestMigrationStatusReportsLastMigrationFromManifest(t *testing.T) {
	s, mig, _, _, _, _ := newTestServer()
	mig.manifest.Record(types.MigrationResult{
		Task:            types.MigrationTask{HotTable: "marketprism_hot.hot_trades", Partition: "202601"},
		Success:         true,
		RecordsMigrated: 42,
	})

	rec := doRequest(t, s, http.MethodGet, "/api/v1/storage/migration/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["enabled"])
	last := body["last_migration"].(map[string]any)
	assert.Equal(t, "marketprism_hot.hot_trades", last["Table"])
}
