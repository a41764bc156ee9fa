package store

import (
	"context"
	"sync"
)

// Fake is an in-memory stand-in for Client, used only by tests in pkg/writer,
// pkg/migration, pkg/schema, pkg/cleanup, and pkg/store. It is never
// constructed from pkg/engine or
// any cmd/ entrypoint — production wiring always goes through Open.
type Fake struct {
	mu       sync.Mutex
	Rows     map[string][]map[string]any
	Execs    []string
	Queries  []string
	FailNext error

	// QueryRows and QueryErr canned-answer Query, used by pkg/store's own
	// Catalog tests; callers that don't set them get Query's zero-value
	// behavior (no rows, no error).
	QueryRows []Row
	QueryErr  error
}

// NewFake returns an empty in-memory store.
func NewFake() *Fake {
	return &Fake{Rows: make(map[string][]map[string]any)}
}

func (f *Fake) Execute(_ context.Context, stmt string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailNext != nil {
		err := f.FailNext
		f.FailNext = nil
		return err
	}
	f.Execs = append(f.Execs, stmt)
	return nil
}

func (f *Fake) Insert(_ context.Context, table string, _ []string, rows []map[string]any, _ Format) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailNext != nil {
		err := f.FailNext
		f.FailNext = nil
		return err
	}
	f.Rows[table] = append(f.Rows[table], rows...)
	return nil
}

func (f *Fake) Query(_ context.Context, stmt string) ([]Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Queries = append(f.Queries, stmt)
	return f.QueryRows, f.QueryErr
}

func (f *Fake) Close() error { return nil }

func (f *Fake) CountPartition(_ context.Context, table, partition string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, r := range f.Rows[table] {
		if r["partition"] == partition {
			n++
		}
	}
	return n, nil
}

// DropPartition removes rows belonging to partition from table, modeling
// ALTER TABLE ... DROP PARTITION. Execute only records statements and does
// not call it.
func (f *Fake) DropPartition(table, partition string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	kept := f.Rows[table][:0]
	for _, r := range f.Rows[table] {
		if r["partition"] != partition {
			kept = append(kept, r)
		}
	}
	f.Rows[table] = kept
}
