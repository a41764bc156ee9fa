// Package client provides a small HTTP client over the Admin Facade's REST
// surface (spec.md §6.3), used by cmd/storage-service's CLI subcommands to
// trigger migration/cleanup cycles and inspect status without importing
// the engine itself. It keeps the teacher's pkg/client shape (one client
// struct, one context.WithTimeout per call, typed response structs) but
// trades the teacher's mTLS gRPC transport for plain HTTP, since the Admin
// Facade has no cluster-join or certificate concept to authenticate
// against.
package client
