package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jbweber/crucible/internal/config"
	"github.com/jbweber/crucible/internal/fabric"
	"github.com/jbweber/crucible/internal/imagerepo"
	"github.com/jbweber/crucible/internal/instance"
	"github.com/jbweber/crucible/internal/lifecycle"
	"github.com/jbweber/crucible/internal/smapi"
	"github.com/jbweber/crucible/internal/volume"
)

var (
	version = "dev"
	commit  = "unknown"
)

var (
	configPath string
	verbose    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "crucible",
	Short: "Crucible - instance lifecycle orchestrator",
	Long: `Crucible drives instance lifecycle workflows against a remote
management gateway: spawn, destroy, power control, snapshot, resize,
and live migration.

Instances are described by simple YAML configuration files; the host
configuration selects the gateway and the managed domain.`,
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/crucible/config.yaml", "Host configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")

	rootCmd.AddCommand(spawnCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(powerCmd)
	rootCmd.AddCommand(consoleCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(hostCmd)
	rootCmd.AddCommand(regrantCmd)
	rootCmd.AddCommand(imageCmd)
	rootCmd.AddCommand(resizeCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(testConnCmd)
}

// runtime bundles the wired collaborators a command needs.
type runtime struct {
	cfg    *config.Config
	client *smapi.Client
	ops    *instance.Operations
	images *imagerepo.Repository
	orch   *lifecycle.Orchestrator
	log    *zap.SugaredLogger
}

func newLogger() (*zap.SugaredLogger, error) {
	zcfg := zap.NewProductionConfig()
	if verbose {
		zcfg = zap.NewDevelopmentConfig()
	}
	logger, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger.Sugar(), nil
}

// newRuntime loads the host configuration and wires the gateway client
// and orchestrator.
func newRuntime() (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	log, err := newLogger()
	if err != nil {
		return nil, err
	}

	client := smapi.New(smapi.Options{
		BaseURL:  cfg.Gateway.URL,
		Username: cfg.Gateway.Username,
		Password: cfg.Gateway.Password,
		Timeout:  time.Duration(cfg.Gateway.TimeoutSeconds) * time.Second,
		Log:      log,
	})

	ops := instance.NewOperations(client, instance.Options{
		HCP:         cfg.Host.HCP,
		Group:       cfg.Host.Group,
		DiskPool:    cfg.Disk.Pool,
		DiskType:    cfg.Disk.Type,
		UserProfile: cfg.User.Profile,
		Password:    cfg.User.Password,
		Privilege:   cfg.User.Privilege,
		RootVdev:    cfg.Vdev.Root,
	}, log)

	fab := fabric.NewManager(client, log)
	images := imagerepo.New(client, log)
	vols := volume.NewManager(client, log)

	return &runtime{
		cfg:    cfg,
		client: client,
		ops:    ops,
		images: images,
		orch:   lifecycle.New(cfg, ops, fab, images, vols, log),
		log:    log,
	}, nil
}

// volumeFlags collects repeated --volume values of the form
// wwpn:lun:fcp:mountpoint.
var volumeFlags []string

func parseVolumeFlags(flags []string) ([]lifecycle.VolumeAttachment, error) {
	var vols []lifecycle.VolumeAttachment
	for _, f := range flags {
		parts := strings.Split(f, ":")
		if len(parts) != 4 {
			return nil, fmt.Errorf("invalid volume %q, expected wwpn:lun:fcp:mountpoint", f)
		}
		vols = append(vols, lifecycle.VolumeAttachment{
			Conn: volume.ConnectionInfo{
				WWPN: parts[0],
				LUN:  parts[1],
				FCP:  parts[2],
			},
			Mountpoint: parts[3],
		})
	}
	return vols, nil
}

var spawnCmd = &cobra.Command{
	Use:   "spawn <instance.yaml>",
	Short: "Spawn an instance from a configuration file",
	Long: `Spawn a new instance from a YAML configuration file.

The configuration file defines the instance's resources (CPU, memory,
disks), network interfaces, and guest personalization. The image named
in the file must already be in the repository.`,
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

		rt, err := newRuntime()
		if err != nil {
			return err
		}

		fmt.Printf("Spawning instance %s...\n", req.Name)
		if err := rt.orch.Spawn(context.Background(), req, vols); err != nil {
			return fmt.Errorf("failed to spawn instance: %w", err)
		}

		fmt.Printf("✓ Instance %s spawned successfully\n", req.Name)
		return nil
	},
}

var destroyCmd = &cobra.Command{
	Use:   "destroy <instance-name>",
	Short: "Destroy an instance",
	Long: `Destroy an instance by name.

This will:
- Power off the instance if running
- Detach external volumes
- Tear down network bindings
- Remove the definition and registration

Destroy is idempotent; leftovers from a failed spawn are cleaned up
the same way.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		vols, err := parseVolumeFlags(volumeFlags)
		if err != nil {
			return err
		}

		rt, err := newRuntime()
		if err != nil {
			return err
		}

		fmt.Printf("Destroying instance %s...\n", name)
		if err := rt.orch.Destroy(context.Background(), name, vols); err != nil {
			return fmt.Errorf("failed to destroy instance: %w", err)
		}

		fmt.Printf("✓ Instance %s destroyed\n", name)
		return nil
	},
}

func init() {
	spawnCmd.Flags().StringArrayVar(&volumeFlags, "volume", nil, "External volume as wwpn:lun:fcp:mountpoint (repeatable)")
	destroyCmd.Flags().StringArrayVar(&volumeFlags, "volume", nil, "External volume as wwpn:lun:fcp:mountpoint (repeatable)")
}

var powerCmd = &cobra.Command{
	Use:   "power <on|off|pause|unpause|reboot|reset> <instance-name>",
	Short: "Change an instance's power state",
	Long: `Change an instance's power state.

  on       Start a stopped instance
  off      Stop a running instance
  pause    Suspend a running instance in place
  unpause  Resume a paused instance
  reboot   Restart the guest operating system
  reset    Force-cycle the instance`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		action, name := args[0], args[1]

		rt, err := newRuntime()
		if err != nil {
			return err
		}

		ctx := context.Background()
		switch action {
		case "on":
			err = rt.orch.PowerOn(ctx, name)
		case "off":
			err = rt.orch.PowerOff(ctx, name)
		case "pause":
			err = rt.orch.Pause(ctx, name)
		case "unpause":
			err = rt.orch.Unpause(ctx, name)
		case "reboot":
			err = rt.orch.Reboot(ctx, name)
		case "reset":
			err = rt.orch.Reset(ctx, name)
		default:
			return fmt.Errorf("unknown power action %q", action)
		}
		if err != nil {
			return fmt.Errorf("failed to power %s instance %s: %w", action, name, err)
		}

		fmt.Printf("✓ Instance %s powered %s\n", name, action)
		return nil
	},
}

var consoleCmd = &cobra.Command{
	Use:   "console <instance-name>",
	Short: "Show recent guest console output",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}

		out, err := rt.orch.ConsoleLog(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("failed to read console log: %w", err)
		}

		fmt.Print(out)
		return nil
	},
}

var snapshotCmd = &cobra.Command{
	Use:   "snapshot <instance-name> <image-name> <destination>",
	Short: "Capture an instance's root disk into an image bundle",
	Long: `Capture an instance's root disk into the repository and export it
as a bundle at destination.

The instance is powered on for the capture if necessary and restored
to its previous power state afterwards. The intermediate repository
image is removed once the bundle exists.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, imageName, destination := args[0], args[1], args[2]

		rt, err := newRuntime()
		if err != nil {
			return err
		}

		fmt.Printf("Capturing %s as %s...\n", name, imageName)
		if err := rt.orch.Snapshot(context.Background(), name, imageName, destination); err != nil {
			return fmt.Errorf("failed to snapshot instance: %w", err)
		}

		fmt.Printf("✓ Snapshot exported to %s\n", destination)
		return nil
	},
}

var testConnCmd = &cobra.Command{
	Use:   "test-conn",
	Short: "Test the management gateway connection",
	Long:  `Test connectivity to the management gateway and display host information.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := newRuntime()
		if err != nil {
			return err
		}

		fmt.Printf("Testing gateway connection to %s...\n", rt.cfg.Gateway.URL)

		caps, err := rt.orch.HostCapabilities(context.Background(), true)
		if err != nil {
			return fmt.Errorf("connection test failed: %w", err)
		}

		fmt.Println("✓ Connected to management gateway")
		fmt.Printf("✓ Host architecture: %s\n", caps.Architecture)
		fmt.Printf("✓ Host CPUs: %d\n", caps.CPUs)
		fmt.Printf("✓ Host memory: %d MiB\n", caps.MemoryMiB)
		fmt.Printf("✓ Hypervisor: %s\n", caps.Hypervisor)

		fmt.Println("\nConnection test successful!")
		return nil
	},
}
