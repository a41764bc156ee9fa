// Package engine wires every storage-engine subsystem into one process:
// hot/cold store clients, the connection pool, schema bootstrap, the batch
// queue manager, the tier writer, the bus subscriber, the migration and
// cleanup engines, the cron scheduler, the event broker, and the Admin
// Facade's HTTP server. It is grounded on the teacher's pkg/manager.NewManager
// shape — one constructor builds and wires every sub-component, the
// resulting struct exposes a small Start/Stop lifecycle — generalized from a
// Raft cluster manager to a single-process data pipeline with no consensus
// concerns of its own.
package engine
