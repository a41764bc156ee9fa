// Package store provides a thin client over a DBMS's HTTP surface (the
// ClickHouse HTTP interface, consumed here through clickhouse-go/v2's
// database/sql driver in HTTP-protocol mode). It carries no retry logic of
// its own — pkg/writer owns retries — and classifies every failure into the
// pkg/types error taxonomy so callers can decide what to do about it.
package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"

	"github.com/marketprism/storage-engine/pkg/types"
)

// Format selects how rows are serialized for an insert.
type Format int

const (
	// RowTuples inserts via parameterized multi-row INSERT statements.
	RowTuples Format = iota
	// JSONEachRow inserts via FORMAT JSONEachRow, one JSON object per line.
	JSONEachRow
)

// Config configures a single tier's Client.
type Config struct {
	Addr           string
	Database       string
	Username       string
	Password       string
	ConnectTimeout time.Duration
	TotalTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.TotalTimeout == 0 {
		c.TotalTimeout = 30 * time.Second
	}
	return c
}

// Handle is what pkg/pool hands out and what pkg/writer, pkg/migration, and
// pkg/schema depend on. *Client satisfies it against a real DBMS; *Fake
// satisfies it in tests.
type Handle interface {
	Execute(ctx context.Context, stmt string) error
	Query(ctx context.Context, stmt string) ([]Row, error)
	Insert(ctx context.Context, table string, columns []string, rows []map[string]any, format Format) error
	CountPartition(ctx context.Context, table, partition string) (int64, error)
	Close() error
}

// Client is a stateless wrapper over one DBMS endpoint. A Client is safe to
// reuse across goroutines; pkg/pool exists to bound how many are open at
// once, not because a single Client is unsafe to share.
type Client struct {
	cfg Config
	db  *sql.DB
}

// Open dials the DBMS's HTTP endpoint. It does not block on connectivity;
// the first query or insert surfaces any connection failure.
func Open(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()

	dsn := fmt.Sprintf(
		"%s?database=%s&username=%s&password=%s&dial_timeout=%s&read_timeout=%s",
		cfg.Addr, cfg.Database, cfg.Username, cfg.Password,
		cfg.ConnectTimeout, cfg.TotalTimeout,
	)
	db, err := sql.Open("clickhouse", dsn)
	if err != nil {
		return nil, types.NewStoreError(types.KindConfigInvalid, "", fmt.Errorf("open store client: %w", err))
	}
	return &Client{cfg: cfg, db: db}, nil
}

// Close releases the underlying HTTP connections.
func (c *Client) Close() error {
	return c.db.Close()
}

// Execute runs a single statement with no result rows (DDL, ALTER ... DROP
// PARTITION, and the like).
func (c *Client) Execute(ctx context.Context, stmt string) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.TotalTimeout)
	defer cancel()

	_, err := c.db.ExecContext(ctx, stmt)
	if err != nil {
		return classify(err)
	}
	return nil
}

// Row is a single returned row keyed by column name.
type Row map[string]any

// Query runs a statement that returns rows and materializes them fully;
// migration reads page through large partitions so callers should keep
// individual Query calls bounded (see pkg/migration's page size).
func (c *Client) Query(ctx context.Context, stmt string) ([]Row, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.TotalTimeout)
	defer cancel()

	rows, err := c.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, classify(err)
	}

	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, classify(err)
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			row[col] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// CountPartition returns SELECT count() FROM <table> WHERE partition = p,
// used by the Migration Engine's verification step.
func (c *Client) CountPartition(ctx context.Context, table, partition string) (int64, error) {
	stmt := fmt.Sprintf("SELECT count() FROM %s WHERE partition = '%s'", table, escapeLiteral(partition))
	rows, err := c.Query(ctx, stmt)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	for _, v := range rows[0] {
		switch n := v.(type) {
		case int64:
			return n, nil
		case uint64:
			return int64(n), nil
		}
	}
	return 0, nil
}

// Insert bulk-inserts rows into table. columns defines field order for
// RowTuples; it is ignored for JSONEachRow, where each row's own keys are
// used. A schema mismatch (row references a column CREATE TABLE never
// declared) is reported as StoreSchemaMismatch rather than a generic
// transient failure.
func (c *Client) Insert(ctx context.Context, table string, columns []string, rows []map[string]any, format Format) error {
	if len(rows) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.TotalTimeout)
	defer cancel()

	switch format {
	case JSONEachRow:
		return c.insertJSONEachRow(ctx, table, rows)
	default:
		return c.insertRowTuples(ctx, table, columns, rows)
	}
}

func (c *Client) insertRowTuples(ctx context.Context, table string, columns []string, rows []map[string]any) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), placeholders(len(columns)))
	batch, err := tx.PrepareContext(ctx, stmt)
	if err != nil {
		_ = tx.Rollback()
		return classify(err)
	}
	defer batch.Close()

	for _, row := range rows {
		args := make([]any, len(columns))
		for i, col := range columns {
			v, ok := row[col]
			if !ok {
				_ = tx.Rollback()
				return types.NewStoreError(types.KindStoreSchemaMismatch, "", fmt.Errorf("row missing declared column %q", col))
			}
			args[i] = v
		}
		if _, err := batch.ExecContext(ctx, args...); err != nil {
			_ = tx.Rollback()
			return classify(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return classify(err)
	}
	return nil
}

func (c *Client) insertJSONEachRow(ctx context.Context, table string, rows []map[string]any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return types.NewStoreError(types.KindStoreSchemaMismatch, "", fmt.Errorf("encode row for %s: %w", table, err))
		}
	}

	stmt := fmt.Sprintf("INSERT INTO %s FORMAT JSONEachRow %s", table, buf.String())
	_, err := c.db.ExecContext(ctx, stmt)
	if err != nil {
		return classify(err)
	}
	return nil
}

func placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "?"
	}
	return strings.Join(parts, ", ")
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
