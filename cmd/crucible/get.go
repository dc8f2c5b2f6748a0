package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jbweber/crucible/internal/output"
)

var (
	outputFormat string
	noHeaders    bool
)

func init() {
	for _, cmd := range []*cobra.Command{getCmd, hostCmd} {
		cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, yaml, json)")
		cmd.Flags().BoolVar(&noHeaders, "no-headers", false, "Omit headers in table output")
	}
}

var getCmd = &cobra.Command{
	Use:   "get <instance-name>",
	Short: "Get an instance's current state",
	Long: `Get an instance's current power state.

Output formats:
  -o table  Human-readable table (default)
  -o yaml   YAML record
  -o json   JSON record`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		if err := output.ValidateFormat(outputFormat); err != nil {
			return err
		}

		rt, err := newRuntime()
		if err != nil {
			return err
		}

		info, err := rt.orch.Info(context.Background(), name)
		if err != nil {
			return fmt.Errorf("failed to get instance: %w", err)
		}

		formatter, err := output.NewFormatter(output.Options{
			Format:    output.Format(outputFormat),
			NoHeaders: noHeaders,
		})
		if err != nil {
			return err
		}

		result, err := formatter.FormatInstance(&output.InstanceRecord{
			Name:  info.Name,
			State: string(info.State),
		})
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}

		fmt.Print(result)
		return nil
	},
}

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Show hypervisor host capabilities",
	Long: `Show the hypervisor host's architecture, CPU and memory capacity,
and hypervisor version, read from the host inventory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := output.ValidateFormat(outputFormat); err != nil {
			return err
		}

		rt, err := newRuntime()
		if err != nil {
			return err
		}

		caps, err := rt.orch.HostCapabilities(context.Background(), true)
		if err != nil {
			return fmt.Errorf("failed to read host inventory: %w", err)
		}

		formatter, err := output.NewFormatter(output.Options{
			Format:    output.Format(outputFormat),
			NoHeaders: noHeaders,
		})
		if err != nil {
			return err
		}

		result, err := formatter.FormatHost(&output.HostRecord{
			Architecture: caps.Architecture,
			CPUs:         caps.CPUs,
			MemoryMiB:    caps.MemoryMiB,
			Hypervisor:   caps.Hypervisor,
		})
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}

		fmt.Print(result)
		return nil
	},
}

var regrantCmd = &cobra.Command{
	Use:   "regrant <instance-name>...",
	Short: "Restore switch access for a set of instances",
	Long: `Replace the configured switch's authorized-user set with the given
instances, used after a fabric restart to restore every instance's
access in one pass.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}

		userIDs := make([]string, 0, len(args))
		for _, name := range args {
			userIDs = append(userIDs, strings.ToUpper(name))
		}

		if err := rt.orch.ReGrantAll(context.Background(), userIDs); err != nil {
			return fmt.Errorf("failed to re-grant switch access: %w", err)
		}

		fmt.Printf("✓ Switch access restored for %d instance(s)\n", len(userIDs))
		return nil
	},
}
