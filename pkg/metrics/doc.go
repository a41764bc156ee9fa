/*
Package metrics defines and registers every Prometheus collector exposed by
the storage engine: bus ingestion and rejection counters, per-type queue
depth and flush latency, tier-writer outcomes and circuit-breaker state,
connection pool utilization, and migration/cleanup cycle counters.

All collectors are package-level vars registered at init() time via
prometheus.MustRegister, consistent with the rest of this codebase's
singleton-registry style. Handler() exposes them over HTTP for scraping;
Timer is a small helper for histogram observation used by pkg/queue,
pkg/pool, pkg/migration, pkg/cleanup, and pkg/admin.
*/
package metrics
