package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marketprism/storage-engine/pkg/config"
	"github.com/marketprism/storage-engine/pkg/engine"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the storage engine",
	Long: `serve wires the hot and cold store clients, the connection pool, the
batch queue, the bus subscriber, the migration and cleanup engines, and the
admin facade, then blocks until it receives SIGINT or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %v", err)
		}

		fmt.Println("Starting storage engine...")
		fmt.Printf("  Hot store:  %s\n", cfg.HotStore.Addr)
		fmt.Printf("  Cold store: %s\n", cfg.ColdStore.Addr)
		fmt.Printf("  Bus:        %v\n", cfg.Bus.URLs)
		fmt.Printf("  Admin:      %s\n", cfg.Admin.ListenAddr)
		fmt.Println()

		eng, err := engine.New(cfg)
		if err != nil {
			return fmt.Errorf("build engine: %v", err)
		}

		ctx := context.Background()
		if err := eng.Start(ctx); err != nil {
			return fmt.Errorf("start engine: %v", err)
		}
		fmt.Println("✓ Engine started")
		fmt.Printf("✓ Admin facade listening on %s\n", cfg.Admin.ListenAddr)
		fmt.Println()
		fmt.Println("Storage engine is running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nShutting down...")
		if err := eng.Stop(); err != nil {
			return fmt.Errorf("shutdown: %v", err)
		}
		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("config", "", "Path to YAML config file (defaults if omitted)")
}
