// Package config loads the storage engine's YAML configuration file and
// applies environment variable overrides on top of it, the same two-layer
// approach the teacher's cobra commands use (flags with env-friendly
// defaults), generalized here to a single structured document instead of
// dozens of per-command flags.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/marketprism/storage-engine/pkg/types"
)

// Config is the root configuration document for the storage engine.
type Config struct {
	Bus        BusConfig        `yaml:"bus"`
	HotStore   StoreConfig      `yaml:"hot_store"`
	ColdStore  StoreConfig      `yaml:"cold_store"`
	Pool       PoolConfig       `yaml:"pool"`
	Queue      QueueConfig      `yaml:"queue"`
	Migration  MigrationConfig  `yaml:"migration"`
	Cleanup    CleanupConfig    `yaml:"cleanup"`
	Admin      AdminConfig      `yaml:"admin"`
	Log        LogConfig        `yaml:"log"`
}

// BusConfig describes how to reach the message bus (NATS JetStream).
type BusConfig struct {
	URLs          []string `yaml:"urls"`
	StreamName    string   `yaml:"stream_name"`
	DurableName   string   `yaml:"durable_name"`
	AckWait       time.Duration `yaml:"ack_wait"`
	MaxInFlight   int      `yaml:"max_in_flight"`
}

// StoreConfig describes how to reach a DBMS tier endpoint.
type StoreConfig struct {
	Addr     string `yaml:"addr"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	TLS      bool   `yaml:"tls"`
}

// PoolConfig bounds the connection pool sitting in front of the hot store.
type PoolConfig struct {
	MaxHandles  int           `yaml:"max_handles"`
	AcquireWait time.Duration `yaml:"acquire_wait"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// QueueConfig carries overrides for the per-data-type batch policies.
// Zero-value fields fall back to the compiled-in defaults in pkg/types.
type QueueConfig struct {
	Overrides map[types.DataType]types.BatchPolicy `yaml:"overrides"`
}

// MigrationConfig controls the hot-to-cold migration cron schedule.
type MigrationConfig struct {
	Schedule        string `yaml:"schedule"`
	MaxParallel     int    `yaml:"max_parallel"`
	SizeThresholdMB int64  `yaml:"size_threshold_mb"`
}

// CleanupConfig controls hot-tier TTL enforcement.
type CleanupConfig struct {
	Schedule      string                 `yaml:"schedule"`
	RetainFor     map[types.DataType]int `yaml:"retain_days"`
	DryRun        bool                   `yaml:"dry_run"`
	SmartCleanup  bool                   `yaml:"smart_cleanup"`
	DiskThreshold float64                `yaml:"disk_threshold"`
}

// AdminConfig configures the REST admin facade.
type AdminConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// LogConfig configures pkg/log.
type LogConfig struct {
	Level      string `yaml:"level"`
	JSONOutput bool   `yaml:"json_output"`
}

// Default returns a Config populated with the same conservative defaults
// the teacher's cobra commands hardcode as flag defaults.
func Default() Config {
	return Config{
		Bus: BusConfig{
			URLs:        []string{"nats://127.0.0.1:4222"},
			StreamName:  "MARKET_DATA",
			DurableName: "storage-engine",
			AckWait:     30 * time.Second,
			MaxInFlight: 2000,
		},
		HotStore: StoreConfig{
			Addr:     "http://127.0.0.1:8123",
			Database: "marketprism_hot",
		},
		ColdStore: StoreConfig{
			Addr:     "http://127.0.0.1:8124",
			Database: "marketprism_cold",
		},
		Pool: PoolConfig{
			MaxHandles:  16,
			AcquireWait: 5 * time.Second,
			IdleTimeout: 5 * time.Minute,
		},
		Migration: MigrationConfig{
			Schedule:        "0 2 * * *",
			MaxParallel:     2,
			SizeThresholdMB: 512,
		},
		Cleanup: CleanupConfig{
			Schedule: "30 3 * * *",
			RetainFor: map[types.DataType]int{
				types.DataTypeTrade:     30,
				types.DataTypeOrderbook: 7,
			},
			DiskThreshold: 0.85,
		},
		Admin: AdminConfig{
			ListenAddr: ":8090",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML file at path, merging it over Default(), and then
// applies environment variable overrides via ApplyEnv.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		ApplyEnv(&cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	ApplyEnv(&cfg)
	return cfg, nil
}

// ApplyEnv overlays environment variables on top of an already-loaded
// Config, mirroring the MARKETPRISM_* convention used across the rest of
// the data pipeline this engine feeds into.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv("MARKETPRISM_HOT_STORE_ADDR"); v != "" {
		cfg.HotStore.Addr = v
	}
	if v := os.Getenv("MARKETPRISM_HOT_STORE_PASSWORD"); v != "" {
		cfg.HotStore.Password = v
	}
	if v := os.Getenv("MARKETPRISM_COLD_STORE_ADDR"); v != "" {
		cfg.ColdStore.Addr = v
	}
	if v := os.Getenv("MARKETPRISM_COLD_STORE_PASSWORD"); v != "" {
		cfg.ColdStore.Password = v
	}
	if v := os.Getenv("MARKETPRISM_BUS_URLS"); v != "" {
		cfg.Bus.URLs = splitCSV(v)
	}
	if v := os.Getenv("MARKETPRISM_POOL_MAX_HANDLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.MaxHandles = n
		}
	}
	if v := os.Getenv("MARKETPRISM_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("MARKETPRISM_ADMIN_LISTEN_ADDR"); v != "" {
		cfg.Admin.ListenAddr = v
	}
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
