/*
Package types defines the domain model shared by every component of the
tiered storage engine: record envelopes, per-data-type batch policies, table
specs for the hot/cold tiers, the store/bus error taxonomy, and migration
task/result shapes.

These types carry no behavior beyond small pure helpers (NaturalKey,
TableName, MigrationPriority) — the components in pkg/queue, pkg/writer,
pkg/migration, and pkg/subscriber own the actual logic that acts on them.
*/
package types
