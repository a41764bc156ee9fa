package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// defaultTimeout bounds every call, mirroring the teacher's per-RPC
// context.WithTimeout(10 * time.Second) pattern.
const defaultTimeout = 10 * time.Second

// Client talks to one storage engine's Admin Facade over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a Client against addr, e.g. "http://storage-engine:8090".
func New(addr string) *Client {
	return &Client{
		baseURL: addr + "/api/v1/storage",
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// Status is the decoded body of GET /status.
type Status struct {
	Status        string            `json:"status"`
	Components    map[string]string `json:"components"`
	Subscriptions int               `json:"subscriptions"`
	QueueSizes    map[string]int    `json:"queue_sizes"`
	Stats         map[string]any    `json:"stats"`
	Issues        []string          `json:"issues,omitempty"`
}

// Status fetches the engine's overall health. It never errors on a
// degraded-but-running engine; inspect Status.Status and Status.Issues.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var out Status
	err := c.get(ctx, "/status", &out)
	return out, err
}

// Stats is the decoded body of GET /stats.
type Stats struct {
	TotalWrites      int64            `json:"total_writes"`
	SuccessfulWrites int64            `json:"successful_writes"`
	FailedWrites     int64            `json:"failed_writes"`
	ThroughputPerSec float64          `json:"throughput_per_sec"`
	LatencyP50Ms     float64          `json:"latency_p50_ms"`
	LatencyP95Ms     float64          `json:"latency_p95_ms"`
	ErrorsByType     map[string]int64 `json:"errors_by_type"`
}

// Stats fetches throughput and latency counters.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	err := c.get(ctx, "/stats", &out)
	return out, err
}

// MigrationExecuteResult is the decoded body of POST /migration/execute.
type MigrationExecuteResult struct {
	TotalTasks      int   `json:"total_tasks"`
	Successful      int   `json:"successful"`
	Failed          int   `json:"failed"`
	RecordsMigrated int64 `json:"records_migrated"`
	Results         []any `json:"results"`
}

// TriggerMigration runs one migration cycle synchronously.
func (c *Client) TriggerMigration(ctx context.Context) (MigrationExecuteResult, error) {
	var out MigrationExecuteResult
	err := c.post(ctx, "/migration/execute", &out)
	return out, err
}

// MigrationStatus is the decoded body of GET /migration/status.
type MigrationStatus struct {
	Enabled             bool `json:"enabled"`
	PendingMigrations   int  `json:"pending_migrations"`
	TotalPendingRecords int64 `json:"total_pending_records"`
	LastMigration       any  `json:"last_migration"`
}

// MigrationStatus fetches the pending/running migration view.
func (c *Client) MigrationStatus(ctx context.Context) (MigrationStatus, error) {
	var out MigrationStatus
	err := c.get(ctx, "/migration/status", &out)
	return out, err
}

// CleanupResult is the decoded body of POST /lifecycle/cleanup.
type CleanupResult struct {
	PerTableCounts map[string]int `json:"per_table_counts"`
}

// TriggerCleanup runs one cleanup cycle synchronously.
func (c *Client) TriggerCleanup(ctx context.Context) (CleanupResult, error) {
	var out CleanupResult
	err := c.post(ctx, "/lifecycle/cleanup", &out)
	return out, err
}

// Config fetches the sanitized configuration subset exposed by GET /config.
func (c *Client) Config(ctx context.Context) (map[string]any, error) {
	var out map[string]any
	err := c.get(ctx, "/config", &out)
	return out, err
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(nil))
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call admin facade: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return fmt.Errorf("admin facade returned %s: %v", resp.Status, body)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
