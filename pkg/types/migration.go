package types

import "time"

// PartitionInfo describes one partition as reported by the DBMS partition
// catalog view (spec.md §6.2): (partition, min_time, max_time, rows,
// bytes_on_disk, active).
type PartitionInfo struct {
	Partition   string
	MinTime     time.Time
	MaxTime     time.Time
	RecordCount int64
	SizeBytes   int64
	Active      bool
}

// MigrationTask is one unit of hot→cold work discovered by the Migration
// Engine for a single (table, partition) pair, per spec.md §4.7.
type MigrationTask struct {
	ID        string
	Type      DataType
	HotTable  string
	ColdTable string
	Partition string
	StartTime time.Time
	EndTime   time.Time
	Priority  int

	RecordCount int64
	SizeBytes   int64
}

// MigrationResult reports the outcome of executing one MigrationTask.
type MigrationResult struct {
	Task             MigrationTask
	Success          bool
	RecordsMigrated  int64
	VerificationDone bool
	Error            string
	StartedAt        time.Time
	FinishedAt       time.Time
}

// ManifestEntry is the in-memory, process-local record of a completed
// migration kept for the Admin Facade's /migration/status view (SPEC_FULL.md
// §4.10 [EXPANSION]). It is a rebuildable cache, never a source of truth —
// the DBMS partition catalog remains authoritative.
type ManifestEntry struct {
	Table               string
	Partition           string
	RecordCount         int64
	MigratedAt          time.Time
	VerificationPassed  bool
}

// CleanupResult reports one table's outcome from a Cleanup Engine cycle.
type CleanupResult struct {
	Table             string
	PartitionsDropped int
	RecordsDropped    int64
	DryRun            bool
}
