package migration

import (
	"sync"
	"time"

	"github.com/marketprism/storage-engine/pkg/types"
)

// Manifest is a process-local, rebuildable cache of completed migrations,
// surfaced by the Admin Facade's migration/status endpoint (SPEC_FULL.md
// §4.10 [EXPANSION]). It is never authoritative: the hot/cold partition
// catalogs remain the source of truth, and a restart simply starts empty
// again until the next cycle repopulates it.
type Manifest struct {
	mu      sync.Mutex
	entries []types.ManifestEntry
	max     int
}

// NewManifest returns a Manifest retaining at most max entries, oldest
// dropped first.
func NewManifest(max int) *Manifest {
	if max <= 0 {
		max = 1000
	}
	return &Manifest{max: max}
}

// Record appends one completed task's outcome. Failed tasks are not
// recorded; a failed task simply reappears as a candidate next cycle.
func (m *Manifest) Record(result types.MigrationResult) {
	if !result.Success {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, types.ManifestEntry{
		Table:              result.Task.HotTable,
		Partition:          result.Task.Partition,
		RecordCount:        result.RecordsMigrated,
		MigratedAt:         result.FinishedAt,
		VerificationPassed: result.VerificationDone,
	})
	if len(m.entries) > m.max {
		m.entries = m.entries[len(m.entries)-m.max:]
	}
}

// RecordCycle records every successful result from a completed cycle.
func (m *Manifest) RecordCycle(result CycleResult) {
	for _, r := range result.Results {
		m.Record(r)
	}
}

// Recent returns up to n of the most recently recorded entries, newest
// first.
func (m *Manifest) Recent(n int) []types.ManifestEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n <= 0 || n > len(m.entries) {
		n = len(m.entries)
	}
	out := make([]types.ManifestEntry, n)
	for i := 0; i < n; i++ {
		out[i] = m.entries[len(m.entries)-1-i]
	}
	return out
}

// Since returns every entry migrated at or after t.
func (m *Manifest) Since(t time.Time) []types.ManifestEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []types.ManifestEntry
	for _, e := range m.entries {
		if !e.MigratedAt.Before(t) {
			out = append(out, e)
		}
	}
	return out
}
