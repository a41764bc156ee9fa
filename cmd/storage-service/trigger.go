package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marketprism/storage-engine/pkg/client"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Trigger one hot-to-cold migration cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("admin-addr")
		c := client.New(addr)

		result, err := c.TriggerMigration(context.Background())
		if err != nil {
			return fmt.Errorf("trigger migration: %v", err)
		}

		fmt.Printf("Migration cycle complete\n")
		fmt.Printf("  Tasks:             %d\n", result.TotalTasks)
		fmt.Printf("  Successful:        %d\n", result.Successful)
		fmt.Printf("  Failed:            %d\n", result.Failed)
		fmt.Printf("  Records migrated:  %d\n", result.RecordsMigrated)
		return nil
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Trigger one hot-tier retention cleanup cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("admin-addr")
		c := client.New(addr)

		result, err := c.TriggerCleanup(context.Background())
		if err != nil {
			return fmt.Errorf("trigger cleanup: %v", err)
		}

		fmt.Println("Cleanup cycle complete")
		for table, dropped := range result.PerTableCounts {
			fmt.Printf("  %-40s partitions dropped: %d\n", table, dropped)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running engine's health, components, and queue depths",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("admin-addr")
		c := client.New(addr)

		st, err := c.Status(context.Background())
		if err != nil {
			return fmt.Errorf("fetch status: %v", err)
		}

		fmt.Printf("Status: %s\n", st.Status)
		fmt.Printf("Subscriptions: %d\n", st.Subscriptions)
		fmt.Println()

		fmt.Println("Components:")
		for name, state := range st.Components {
			fmt.Printf("  %-20s %s\n", name, state)
		}
		fmt.Println()

		fmt.Println("Queue depths:")
		for dt, depth := range st.QueueSizes {
			fmt.Printf("  %-20s %d\n", dt, depth)
		}

		if len(st.Issues) > 0 {
			fmt.Println()
			fmt.Println("Issues:")
			for _, issue := range st.Issues {
				fmt.Printf("  - %s\n", issue)
			}
		}
		return nil
	},
}
