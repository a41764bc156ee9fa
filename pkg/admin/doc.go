// Package admin implements the Admin Facade (spec.md §4.10, §6.3): a REST
// surface over gorilla/mux exposing status, stats, manual migration/cleanup
// triggers, and sanitized configuration. It is grounded on the teacher's
// pkg/api.Server shape (a thin wrapper holding a reference to the rest of
// the system, not its own state) but trades the teacher's mTLS gRPC
// transport and ensureLeader() pre-write guard for a plain HTTP router and
// a degraded-mode gate, since this facade has no cluster leadership concept.
package admin
