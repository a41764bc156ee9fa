package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marketprism/storage-engine/pkg/config"
	"github.com/marketprism/storage-engine/pkg/schema"
	"github.com/marketprism/storage-engine/pkg/store"
	"github.com/marketprism/storage-engine/pkg/types"
)

// schemaCmd runs schema.EnsureAll directly against the configured store
// addresses rather than through a running engine's admin facade: schema
// creation is an idempotent bootstrap step an operator may want to run
// ahead of the engine's first start, not a runtime trigger.
var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Create the hot and cold databases and tables if they don't already exist",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %v", err)
		}

		ctx := context.Background()

		hot, err := store.Open(store.Config{
			Addr: cfg.HotStore.Addr, Database: cfg.HotStore.Database,
			Username: cfg.HotStore.Username, Password: cfg.HotStore.Password,
		})
		if err != nil {
			return fmt.Errorf("open hot store: %v", err)
		}
		defer hot.Close()

		cold, err := store.Open(store.Config{
			Addr: cfg.ColdStore.Addr, Database: cfg.ColdStore.Database,
			Username: cfg.ColdStore.Username, Password: cfg.ColdStore.Password,
		})
		if err != nil {
			return fmt.Errorf("open cold store: %v", err)
		}
		defer cold.Close()

		hotResults, err := schema.New(hot, cfg.HotStore.Database, types.TierHot).EnsureAll(ctx)
		if err != nil {
			return fmt.Errorf("ensure hot schema: %v", err)
		}
		printSchemaResults("hot", hotResults)

		coldResults, err := schema.New(cold, cfg.ColdStore.Database, types.TierCold).EnsureAll(ctx)
		if err != nil {
			return fmt.Errorf("ensure cold schema: %v", err)
		}
		printSchemaResults("cold", coldResults)

		return nil
	},
}

func printSchemaResults(tier string, results []schema.EnsureResult) {
	fmt.Printf("%s tier:\n", tier)
	for _, r := range results {
		switch {
		case r.Err != nil:
			fmt.Printf("  %-30s FAILED: %v\n", r.Table, r.Err)
		case r.Created:
			fmt.Printf("  %-30s created\n", r.Table)
		default:
			fmt.Printf("  %-30s already exists\n", r.Table)
		}
	}
}

func init() {
	schemaCmd.Flags().String("config", "", "Path to YAML config file (defaults if omitted)")
}
