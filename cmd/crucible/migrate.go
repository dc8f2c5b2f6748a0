package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbweber/crucible/internal/lifecycle"
)

var migrateDomain string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Live-migrate an instance",
	Long: `Live-migrate a running instance to another hypervisor host.

  check  Run the relocation feasibility test only
  run    Perform the migration

The guest keeps running throughout a successful migration.`,
}

func init() {
	migrateCmd.AddCommand(migrateCheckCmd)
	migrateCmd.AddCommand(migrateRunCmd)

	migrateRunCmd.Flags().StringVar(&migrateDomain, "destination-domain", "", "Managed domain of the destination host (default: same as source)")
}

var migrateCheckCmd = &cobra.Command{
	Use:   "check <instance-name> <destination-host>",
	Short: "Test whether an instance can migrate",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, destination := args[0], args[1]

		rt, err := newRuntime()
		if err != nil {
			return err
		}

		if err := rt.orch.MigrateCheck(context.Background(), name, destination); err != nil {
			return err
		}

		fmt.Printf("✓ Instance %s can migrate to %s\n", name, destination)
		return nil
	},
}

var migrateRunCmd = &cobra.Command{
	Use:   "run <instance-name> <destination-host>",
	Short: "Live-migrate an instance to another host",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, destination := args[0], args[1]

		rt, err := newRuntime()
		if err != nil {
			return err
		}

		fmt.Printf("Migrating %s to %s...\n", name, destination)
		err = rt.orch.Migrate(context.Background(), name, destination, lifecycle.MigrateOptions{
			DestinationDomain: migrateDomain,
		})
		if err != nil {
			return fmt.Errorf("failed to migrate instance: %w", err)
		}

		fmt.Printf("✓ Instance %s migrated to %s\n", name, destination)
		return nil
	},
}
