package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jbweber/crucible/internal/config"
	"github.com/jbweber/crucible/internal/lifecycle"
)

var (
	resizeContextPath string
	resizeNewRootGB   int
	resizeNewEphGB    int
	resizeDomain      string
	resizeBundlePath  string
	resizeNoPowerOn   bool
)

var resizeCmd = &cobra.Command{
	Use:   "resize",
	Short: "Resize an instance",
	Long: `Resize an instance by rebuilding it from a captured root image.

A resize runs in phases:
  start    Capture the source and power it off
  finish   Build the resized instance from the capture
  confirm  Discard the preserved source state
  revert   Rebuild the source from the capture

start writes a migration context file that the later phases read. For
a cross-domain resize, run start on the source host and finish on the
target host.`,
}

func init() {
	resizeCmd.AddCommand(resizeStartCmd)
	resizeCmd.AddCommand(resizeFinishCmd)
	resizeCmd.AddCommand(resizeConfirmCmd)
	resizeCmd.AddCommand(resizeRevertCmd)

	for _, cmd := range []*cobra.Command{resizeStartCmd, resizeFinishCmd, resizeConfirmCmd, resizeRevertCmd} {
		cmd.Flags().StringVar(&resizeContextPath, "context", "", "Migration context file (required)")
		_ = cmd.MarkFlagRequired("context")
	}

	resizeStartCmd.Flags().IntVar(&resizeNewRootGB, "new-root-gb", 0, "New root disk size in GB (default: unchanged)")
	resizeStartCmd.Flags().IntVar(&resizeNewEphGB, "new-eph-gb", 0, "New total ephemeral size in GB (default: unchanged)")
	resizeStartCmd.Flags().StringVar(&resizeDomain, "target-domain", "", "Target managed domain for a cross-domain resize")
	resizeStartCmd.Flags().StringVar(&resizeBundlePath, "bundle", "", "Bundle path for a cross-domain resize")

	resizeFinishCmd.Flags().BoolVar(&resizeNoPowerOn, "no-power-on", false, "Leave the resized instance powered off")

	for _, cmd := range []*cobra.Command{resizeStartCmd, resizeFinishCmd, resizeRevertCmd} {
		cmd.Flags().StringArrayVar(&volumeFlags, "volume", nil, "External volume as wwpn:lun:fcp:mountpoint (repeatable)")
	}
}

func loadMigrationContext(path string) (*lifecycle.MigrationContext, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration context: %w", err)
	}
	return lifecycle.DecodeMigrationContext(data)
}

func saveMigrationContext(path string, mctx *lifecycle.MigrationContext) error {
	data, err := mctx.Encode()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write migration context: %w", err)
	}
	return nil
}

// ephemeralTotalGB sums the ephemeral disk sizes of an instance
// request.
func ephemeralTotalGB(req *config.InstanceConfig) int {
	total := 0
	for _, d := range req.EphemeralDisks {
		total += d.SizeGB
	}
	return total
}

var resizeStartCmd = &cobra.Command{
	Use:   "start <instance.yaml>",
	Short: "Capture the source instance and power it off",
	Long: `Capture the source instance's root disk, preserve its registration,
and power it off. The instance configuration file describes the
current shape; the flags give the new sizes.

The migration context written to --context is the input for finish,
confirm, and revert.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := config.LoadInstance(args[0])
		if err != nil {
			return err
		}
		vols, err := parseVolumeFlags(volumeFlags)
		if err != nil {
			return err
		}

		oldEph := ephemeralTotalGB(req)
		newRoot := resizeNewRootGB
		if newRoot == 0 {
			newRoot = req.RootDiskGB
		}
		newEph := resizeNewEphGB
		if newEph == 0 {
			newEph = oldEph
		}

		rt, err := newRuntime()
		if err != nil {
			return err
		}

		fmt.Printf("Starting resize of %s...\n", req.Name)
		mctx, err := rt.orch.ResizeStart(context.Background(), lifecycle.ResizeRequest{
			Name:         req.Name,
			VCPUs:        req.VCPUs,
			MemoryMiB:    req.MemoryMiB,
			OldRootGB:    req.RootDiskGB,
			NewRootGB:    newRoot,
			OldEphGB:     oldEph,
			NewEphGB:     newEph,
			TargetDomain: resizeDomain,
			BundlePath:   resizeBundlePath,
			Volumes:      vols,
		})
		if err != nil {
			return fmt.Errorf("failed to start resize: %w", err)
		}

		if err := saveMigrationContext(resizeContextPath, mctx); err != nil {
			return err
		}

		fmt.Printf("✓ Source captured; migration context written to %s\n", resizeContextPath)
		return nil
	},
}

var resizeFinishCmd = &cobra.Command{
	Use:   "finish <instance.yaml>",
	Short: "Build the resized instance from the capture",
	Long: `Build the resized instance from the captured image. The instance
configuration file describes the new shape.

For a cross-domain resize this imports the bundle and recreates the
registration and network bindings on this host.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := config.LoadInstance(args[0])
		if err != nil {
			return err
		}
		vols, err := parseVolumeFlags(volumeFlags)
		if err != nil {
			return err
		}
		mctx, err := loadMigrationContext(resizeContextPath)
		if err != nil {
			return err
		}

		rt, err := newRuntime()
		if err != nil {
			return err
		}

		fmt.Printf("Finishing resize of %s...\n", req.Name)
		if err := rt.orch.ResizeFinish(context.Background(), req, mctx, vols, !resizeNoPowerOn); err != nil {
			return fmt.Errorf("failed to finish resize: %w", err)
		}

		fmt.Printf("✓ Instance %s resized\n", req.Name)
		return nil
	},
}

var resizeConfirmCmd = &cobra.Command{
	Use:   "confirm",
	Short: "Discard the preserved source state",
	Long: `Confirm a finished resize: drop the preserved source registration,
the captured image, and, for a cross-domain resize, the source
instance itself.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mctx, err := loadMigrationContext(resizeContextPath)
		if err != nil {
			return err
		}

		rt, err := newRuntime()
		if err != nil {
			return err
		}

		if err := rt.orch.ResizeConfirm(context.Background(), mctx); err != nil {
			return fmt.Errorf("failed to confirm resize: %w", err)
		}

		fmt.Printf("✓ Resize of %s confirmed\n", mctx.Owner)
		return nil
	},
}

var resizeRevertCmd = &cobra.Command{
	Use:   "revert <instance.yaml>",
	Short: "Rebuild the source from the capture",
	Long: `Revert a resize: remove the resized definition, restore the
preserved registration, and rebuild the source instance from the
captured image. The instance configuration file describes the
original shape.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := config.LoadInstance(args[0])
		if err != nil {
			return err
		}
		vols, err := parseVolumeFlags(volumeFlags)
		if err != nil {
			return err
		}
		mctx, err := loadMigrationContext(resizeContextPath)
		if err != nil {
			return err
		}

		rt, err := newRuntime()
		if err != nil {
			return err
		}

		fmt.Printf("Reverting resize of %s...\n", req.Name)
		if err := rt.orch.ResizeRevert(context.Background(), req, mctx, vols); err != nil {
			return fmt.Errorf("failed to revert resize: %w", err)
		}

		fmt.Printf("✓ Instance %s restored\n", req.Name)
		return nil
	},
}
